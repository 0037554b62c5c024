/*
scheduler.go - Automated horizon refresh scheduler

PURPOSE:
  Periodically rolls the materialization window of every active habit
  forward, so that the cache always holds [now, now + horizon].

DESIGN:
  - A cron schedule (robfig/cron) drives the refresh
  - Runs never overlap: a tick that finds a refresh in flight is skipped
  - The outcome of the last run is kept for the admin endpoint

CONFIGURATION:
  - Spec: Cron expression (default: hourly, "0 * * * *")
  - Empty Spec disables the scheduler; RunNow still works

USAGE:
  scheduler := NewRefreshScheduler(tracker, "0 * * * *")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Refresh endpoint (manual refresh)
  - habit/tracker.go: RefreshAll
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/habit-engine/habit"
)

// ErrRefreshRunning is returned by RunNow while another refresh is in flight.
var ErrRefreshRunning = errors.New("refresh already running")

// RefreshRun is the outcome of one refresh.
type RefreshRun struct {
	StartedAt time.Time
	Duration  time.Duration
	Refreshed int
	Err       error
}

// RefreshScheduler handles automated horizon refreshes.
type RefreshScheduler struct {
	Tracker *habit.Tracker
	Spec    string
	Timeout time.Duration
	Logger  *slog.Logger

	cron    *cron.Cron
	entry   cron.EntryID
	running sync.Mutex

	mu      sync.Mutex
	started bool
	last    *RefreshRun
}

// NewRefreshScheduler creates a new scheduler.
func NewRefreshScheduler(tracker *habit.Tracker, spec string) *RefreshScheduler {
	return &RefreshScheduler{
		Tracker: tracker,
		Spec:    spec,
		Timeout: 5 * time.Minute,
		Logger:  tracker.Logger,
	}
}

// Start begins the scheduler. An invalid Spec is returned as an error.
func (rs *RefreshScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.started {
		return nil
	}
	if rs.Spec == "" {
		rs.logger().Info("scheduler disabled, not starting")
		return nil
	}

	c := cron.New()
	entry, err := c.AddFunc(rs.Spec, rs.tick)
	if err != nil {
		return err
	}
	rs.cron = c
	rs.entry = entry
	rs.started = true
	c.Start()

	rs.logger().Info("scheduler started", "schedule", rs.Spec, "next_run", c.Entry(entry).Next)
	return nil
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	c := rs.cron
	started := rs.started
	rs.started = false
	rs.cron = nil
	rs.mu.Unlock()

	if !started {
		return
	}
	<-c.Stop().Done()
	rs.logger().Info("scheduler stopped")
}

// NextRun returns the next scheduled refresh, or zero when not started.
func (rs *RefreshScheduler) NextRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.started {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entry).Next
}

// LastRun returns the outcome of the latest refresh, or nil.
func (rs *RefreshScheduler) LastRun() *RefreshRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.last == nil {
		return nil
	}
	run := *rs.last
	return &run
}

// RunNow refreshes immediately.
func (rs *RefreshScheduler) RunNow(ctx context.Context) (int, error) {
	if !rs.running.TryLock() {
		return 0, ErrRefreshRunning
	}
	defer rs.running.Unlock()
	return rs.refresh(ctx)
}

func (rs *RefreshScheduler) tick() {
	if !rs.running.TryLock() {
		rs.logger().Warn("previous refresh still running, skipping tick")
		return
	}
	defer rs.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), rs.Timeout)
	defer cancel()
	rs.refresh(ctx)
}

func (rs *RefreshScheduler) refresh(ctx context.Context) (int, error) {
	run := RefreshRun{StartedAt: rs.Tracker.Now()}
	begin := time.Now()

	run.Refreshed, run.Err = rs.Tracker.RefreshAll(ctx)
	run.Duration = time.Since(begin)

	if run.Err != nil {
		rs.logger().Error("refresh failed", "refreshed", run.Refreshed, "err", run.Err)
	} else {
		rs.logger().Info("refresh completed", "refreshed", run.Refreshed, "duration", run.Duration)
	}

	rs.mu.Lock()
	rs.last = &run
	rs.mu.Unlock()

	return run.Refreshed, run.Err
}

func (rs *RefreshScheduler) logger() *slog.Logger {
	if rs.Logger == nil {
		return slog.Default()
	}
	return rs.Logger
}
