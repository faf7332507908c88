// Package schedule runs a job periodically in the background.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of periodic work. Its error is logged; the next tick runs
// it again.
type Job func(ctx context.Context) error

// Scheduler runs a job at a fixed interval.
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler running job every interval. name identifies the
// job in logs.
func New(name string, job Job, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		job:      job,
		interval: interval,
		logger:   logger.With("job", name),
	}
}

// Start begins periodic runs. It runs the job immediately, then on each
// tick. Runs never overlap: a tick that fires during a run is skipped.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current run (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	// Run once immediately at startup.
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.job(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("scheduled run interrupted", "err", err)
			return
		}
		s.logger.Error("scheduled run failed", "err", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Debug("scheduled run completed", "elapsed", time.Since(start))
}
