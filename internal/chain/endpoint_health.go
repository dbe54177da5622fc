package chain

import (
	"sort"
	"sync"
	"time"
)

const (
	maxConsecutiveErrors = 3
	recoveryInterval     = 30 * time.Second
	ewmaAlpha            = 0.3                    // weight of a new latency sample
	unmeasuredLatency    = 100 * time.Millisecond // keeps fresh endpoints from sorting first
)

// EndpointStatus is the health of one RPC endpoint.
type EndpointStatus struct {
	URL             string
	Latency         time.Duration // EWMA
	ConsecutiveErrs int
	LastSuccess     time.Time
	LastError       time.Time
	Healthy         bool

	samples int
}

// EndpointTracker orders read endpoints by health and latency. An endpoint
// is benched after maxConsecutiveErrors failures and probed again once
// recoveryInterval has passed.
type EndpointTracker struct {
	mu        sync.RWMutex
	endpoints []*EndpointStatus
	now       func() time.Time
}

// NewEndpointTracker tracks urls in the given order; the first is the primary.
func NewEndpointTracker(urls []string) *EndpointTracker {
	eps := make([]*EndpointStatus, len(urls))
	for i, u := range urls {
		eps[i] = &EndpointStatus{URL: u, Healthy: true, Latency: unmeasuredLatency}
	}
	return &EndpointTracker{endpoints: eps, now: time.Now}
}

// Report records the outcome of a call made against url.
func (et *EndpointTracker) Report(url string, latency time.Duration, err error) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}
	if err != nil {
		ep.ConsecutiveErrs++
		ep.LastError = et.now()
		if ep.ConsecutiveErrs >= maxConsecutiveErrors {
			ep.Healthy = false
		}
		return
	}

	ep.ConsecutiveErrs = 0
	ep.LastSuccess = et.now()
	ep.Healthy = true
	if ep.samples == 0 {
		ep.Latency = latency
	} else {
		ep.Latency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(ep.Latency))
	}
	ep.samples++
}

// Order returns the URLs to try for a read: healthy endpoints by latency,
// then benched endpoints that are due a recovery probe. When every endpoint
// is benched and none is due, all of them are returned in configured order
// so a read is always attempted.
func (et *EndpointTracker) Order() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.now()
	var healthy, probe []*EndpointStatus
	for _, ep := range et.endpoints {
		switch {
		case ep.Healthy:
			healthy = append(healthy, ep)
		case now.Sub(ep.LastError) >= recoveryInterval:
			probe = append(probe, ep)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		return healthy[i].Latency < healthy[j].Latency
	})

	out := make([]string, 0, len(et.endpoints))
	for _, ep := range append(healthy, probe...) {
		out = append(out, ep.URL)
	}
	if len(out) == 0 {
		for _, ep := range et.endpoints {
			out = append(out, ep.URL)
		}
	}
	return out
}

// Status returns a copy of every endpoint's health in configured order.
func (et *EndpointTracker) Status() []EndpointStatus {
	et.mu.RLock()
	defer et.mu.RUnlock()

	out := make([]EndpointStatus, len(et.endpoints))
	for i, ep := range et.endpoints {
		out[i] = *ep
	}
	return out
}

// Len returns the number of tracked endpoints.
func (et *EndpointTracker) Len() int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.endpoints)
}

func (et *EndpointTracker) find(url string) *EndpointStatus {
	for _, ep := range et.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
