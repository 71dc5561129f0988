// Package scheduler runs background maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// Job is a unit of background work.
type Job func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each job run. Non-positive values keep the default.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// NewScheduler creates and starts a cron scheduler. Expressions use the
// standard 5-field format and descriptors such as @hourly or @every 10m.
func NewScheduler(opts ...Option) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel, jobTimeout: DefaultJobTimeout}
	for _, opt := range opts {
		opt(s)
	}
	c.Start()
	return s
}

// AddJob schedules a named job. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, job Job) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(expr, func() { s.run(name, job) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr, "next", s.cron.Entry(id).Next)
	return id, nil
}

// Next returns the next activation time of a job, or the zero time when the
// entry is unknown.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		metrics.ScheduledJobRuns.WithLabelValues(name, "error").Inc()
		slog.Error("Scheduler.run: job failed", "job", name, "error", err, "elapsed", time.Since(start))
		return
	}
	metrics.ScheduledJobRuns.WithLabelValues(name, "success").Inc()
	slog.Debug("Scheduler.run: job finished", "job", name, "elapsed", time.Since(start))
}

// Stop cancels running jobs and waits for them to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slogLogger routes cron's internal logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
