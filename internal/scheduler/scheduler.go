// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/types"
)

// Runner runs one poll cycle.
type Runner interface {
	RunOnce(ctx context.Context) (poller.Stats, error)
}

// Scheduler fires poll cycles on a fixed interval. A tick that lands while a
// cycle is still running is dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like @every.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a scheduler that calls runner every interval.
func New(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Spec returns the cron descriptor for the configured interval.
func (s *Scheduler) Spec() string {
	return "@every " + s.interval.String()
}

// Start registers the poll job and starts the cron ticker.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return &types.ValidationError{Field: "poll.interval", Reason: "must be positive"}
	}
	clog := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(s.Spec(), s.tick); err != nil {
		s.cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	s.cron.Start()
	s.logger.Info("poll scheduled", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) tick() {
	stats, err := s.runner.RunOnce(s.ctx)
	if errors.Is(err, types.ErrCycleInProgress) {
		s.logger.Warn("poll tick dropped, cycle still running")
		return
	}
	if err != nil {
		s.logger.Error("poll cycle failed", zap.Error(err))
		return
	}
	s.logger.Debug("poll tick complete",
		zap.String("run_id", string(stats.RunID)),
		zap.String("status", string(stats.Status)))
}

// Stop is called at shutdown: it cancels any in-flight cycle and waits for
// running jobs to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
}

// cronLogger adapts a zap sugared logger to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
