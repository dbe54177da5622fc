package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/whalestrategy/whalestake/internal/logging"
)

const pollJobName = "ledger-refresh"

// Poller runs fn on a fixed interval while started. A tick that comes due
// while the previous run is still going is skipped, never queued.
type Poller struct {
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	sched  gocron.Scheduler
	job    gocron.Job
	cancel context.CancelFunc
}

// NewPoller creates a stopped poller and its scheduler
func NewPoller(interval time.Duration, fn func(ctx context.Context)) (*Poller, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()
	return &Poller{interval: interval, fn: fn, sched: sched}, nil
}

// Start schedules the job with an immediate first run. Starting a running
// poller restarts it.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sched == nil {
		return fmt.Errorf("poller closed")
	}
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	job, err := p.sched.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.fn(ctx) }),
		gocron.WithName(pollJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule %s: %w", pollJobName, err)
	}
	p.job = job
	p.cancel = cancel
	logging.Debug("poller started", "interval", p.interval.String())
	return nil
}

// Stop removes the job and cancels a run in progress.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.job == nil {
		return
	}
	if err := p.sched.RemoveJob(p.job.ID()); err != nil {
		logging.Warn("failed to remove poll job", logging.Err(err))
	}
	p.cancel()
	p.job = nil
	p.cancel = nil
	logging.Debug("poller stopped")
}

// Running reports whether the job is scheduled
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job != nil
}

// Close stops the job and shuts the scheduler down, waiting for a run in
// progress to return.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sched == nil {
		return nil
	}
	p.stopLocked()
	err := p.sched.Shutdown()
	p.sched = nil
	return err
}
