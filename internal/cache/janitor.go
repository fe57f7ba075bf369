package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes expired entries.
type Sweeper interface {
	Sweep() int
}

// Janitor sweeps a cache on a fixed schedule.
type Janitor struct {
	cron     *cron.Cron
	target   Sweeper
	interval time.Duration
}

// NewJanitor schedules target.Sweep every interval. Call Start to begin.
func NewJanitor(target Sweeper, interval time.Duration) (*Janitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	j := &Janitor{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		target:   target,
		interval: interval,
	}

	if _, err := j.cron.AddFunc("@every "+interval.String(), j.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule cache sweep: %w", err)
	}
	return j, nil
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce() {
	if n := j.target.Sweep(); n > 0 {
		slog.Debug("cache_sweep",
			slog.Int("expired", n),
			slog.Duration("interval", j.interval))
	}
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
