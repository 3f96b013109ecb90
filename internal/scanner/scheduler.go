package scanner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"signal-core/pkg/logger"
)

// Scheduler runs named jobs on cron specs with seconds precision. A job still
// running when its next tick fires is skipped.
type Scheduler struct {
	Cron *cron.Cron
	ctx  context.Context
	log  *zap.Logger
}

// NewScheduler creates a scheduler; jobs receive ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	l := cronLogger{log: logger.Named("cron").Sugar()}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		ctx: ctx,
		log: logger.Named("scheduler"),
	}
}

// Register adds job under name.
func (s *Scheduler) Register(name, spec string, job func(ctx context.Context) error) error {
	if _, err := s.Cron.AddFunc(spec, func() {
		if err := job(s.ctx); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	s.log.Info("job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// ScanJob adapts a scanner to a scheduler job.
func ScanJob(s *Scanner) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Scan(ctx, Request{})
		return err
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
