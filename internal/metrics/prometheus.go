// Package metrics exposes client activity in the Prometheus exposition
// format. All metrics live on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whalestake"

// Refresh results
const (
	RefreshOK          = "ok"
	RefreshPartial     = "partial"
	RefreshUnavailable = "unavailable"
	RefreshDiscarded   = "discarded" // account changed mid-cycle
)

// Collector records reconciler, transaction and price feed activity.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	readFailures    *prometheus.CounterVec
	txTotal         *prometheus.CounterVec
	priceFetches    *prometheus.CounterVec
	hasAnyStake     prometheus.Gauge
	lastRefresh     prometheus.Gauge

	startTime time.Time
}

// NewCollector creates a Collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Snapshot refresh cycles by result.",
	}, []string{"result"})

	c.refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Time to read every token and publish a snapshot.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	c.readFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_failures_total",
		Help:      "Failed chain reads by token and field.",
	}, []string{"token", "field"})

	c.txTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transactions by kind and outcome.",
	}, []string{"kind", "outcome"})

	c.priceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_fetches_total",
		Help:      "USD price lookups by result.",
	}, []string{"result"})

	c.hasAnyStake = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "has_any_stake",
		Help:      "1 when the connected account holds a stake in any token.",
	})

	c.lastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix time of the last published snapshot.",
	})

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the client started in seconds.",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	c.registry.MustRegister(
		c.refreshTotal,
		c.refreshDuration,
		c.readFailures,
		c.txTotal,
		c.priceFetches,
		c.hasAnyStake,
		c.lastRefresh,
		uptime,
	)
	return c
}

// Registry returns the private registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRefresh records a finished refresh cycle
func (c *Collector) RecordRefresh(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.refreshTotal.WithLabelValues(result).Inc()
	c.refreshDuration.Observe(d.Seconds())
	if result != RefreshDiscarded {
		c.lastRefresh.Set(float64(time.Now().Unix()))
	}
}

// RecordReadFailure counts a failed read; field is "stake", "balance", "test_mode" or "owner"
func (c *Collector) RecordReadFailure(token, field string) {
	if c == nil {
		return
	}
	c.readFailures.WithLabelValues(token, field).Inc()
}

// RecordTx counts a transaction outcome
func (c *Collector) RecordTx(kind, outcome string) {
	if c == nil {
		return
	}
	c.txTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordPriceFetch counts a price lookup
func (c *Collector) RecordPriceFetch(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.priceFetches.WithLabelValues(result).Inc()
}

// SetHasAnyStake mirrors the snapshot flag
func (c *Collector) SetHasAnyStake(v bool) {
	if c == nil {
		return
	}
	if v {
		c.hasAnyStake.Set(1)
	} else {
		c.hasAnyStake.Set(0)
	}
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
