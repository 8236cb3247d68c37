package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs periodic jobs. Overlapping runs of the same job are skipped
// and panics inside a job are recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler creates a new Scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	cl := cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		logger: logger,
	}
}

// Every schedules job to run once per period
func (s *Scheduler) Every(name string, period time.Duration, job cron.Job) error {
	if period <= 0 {
		return fmt.Errorf("invalid period %s for job %s", period, name)
	}
	if _, err := s.cron.AddJob(fmt.Sprintf("@every %s", period), job); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.logger.Info("Scheduled job", zap.String("job", name), zap.Duration("period", period))
	return nil
}

// Start starts the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
