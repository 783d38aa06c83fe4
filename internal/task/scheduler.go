package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors such as
// @hourly and @every 10m.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules. A job still running when its next
// fire time arrives is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. Each run of a job gets a context bounded
// by timeout, or only by Stop when timeout is zero.
func NewScheduler(timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger,
	}
}

// ValidateSpec reports whether spec is a schedule the Scheduler accepts.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Add schedules job under name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if err := ValidateSpec(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	if _, err := s.cron.AddFunc(spec, s.wrap(name, job)); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.logger.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) wrap(name string, job Job) func() {
	return func() {
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled job failed",
				"job", name,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
			return
		}
		s.logger.Debug("scheduled job finished",
			"job", name,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// SweepJob adapts a Sweeper to a Job.
func SweepJob(sweeper *Sweeper) Job {
	return func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	}
}

// Resyncer requests a sync of every linked vehicle.
type Resyncer interface {
	ResyncAll(ctx context.Context) (int, error)
}

// ResyncJob adapts a Resyncer to a Job.
func ResyncJob(r Resyncer) Job {
	return func(ctx context.Context) error {
		_, err := r.ResyncAll(ctx)
		return err
	}
}

// cronLogger sends cron's own log lines to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
