// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// PurgeSpec is the default schedule of the staged-snapshot purge.
const PurgeSpec = "@every 1h"

// JobFunc is a unit of scheduled work.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a cron runner whose jobs share a context that is
// cancelled on Stop.
type Scheduler struct {
	cron   *cron.Cron
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. A nil logger uses slog.Default.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("system", "scheduler")
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under spec, e.g. "@every 1h" or "0 3 * * *".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Debug("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	start := time.Now()
	if err := fn(s.ctx); err != nil {
		s.log.Error("job failed", "job", name, "error", err)
		return
	}
	s.log.Debug("job finished", "job", name, "duration", time.Since(start))
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purger deletes staged snapshots created before a cutoff.
type Purger interface {
	PurgeTempSnapshots(ctx context.Context, olderThan time.Time) (int64, error)
}

// PurgeJob removes staged snapshots older than ttl.
func PurgeJob(p Purger, ttl time.Duration, log *slog.Logger) JobFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context) error {
		n, err := p.PurgeTempSnapshots(ctx, time.Now().Add(-ttl))
		if err != nil {
			return fmt.Errorf("purge staged snapshots: %w", err)
		}
		if n > 0 {
			log.Info("purged staged snapshots", "count", n, "ttl", ttl)
		}
		return nil
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
