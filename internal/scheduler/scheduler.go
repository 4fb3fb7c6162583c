// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// DefaultSchedule runs the pipeline at the top of every hour
const DefaultSchedule = "0 * * * *"

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, trigger string) (*domain.ProcessingSummary, error)
}

// Config controls the scheduled trigger
type Config struct {
	Enabled  bool
	Schedule string
	// Timeout bounds a single scheduled run; zero means no limit
	Timeout time.Duration
}

// Scheduler owns the cron engine
type Scheduler struct {
	cfg     Config
	runner  Runner
	logger  *slog.Logger
	cron    *cron.Cron
	entryID cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedule and registers the run job
func New(cfg Config, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, domain.NewValidationError("scheduler.schedule", fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err))
	}

	s := &Scheduler{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
	}

	cronLog := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	id, err := s.cron.AddFunc(cfg.Schedule, s.runOnce)
	if err != nil {
		return nil, fmt.Errorf("failed to register scheduled run: %w", err)
	}
	s.entryID = id
	return s, nil
}

// Enabled reports whether Start will schedule anything
func (s *Scheduler) Enabled() bool {
	return s.cfg.Enabled
}

// Start begins firing runs until ctx is canceled or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Scheduled processing disabled")
		return
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Time("next_run", s.Next()),
	)
}

// Stop halts the cron engine and waits for a running job up to timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	if !s.cfg.Enabled {
		return
	}

	stopped := s.cron.Stop()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-time.After(timeout):
		s.logger.Warn("Scheduled run still in progress, canceling")
		if cancel != nil {
			cancel()
		}
		<-stopped.Done()
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("Scheduler stopped")
}

// Next returns the next activation time, or zero when not running
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	s.logger.Info("Scheduled run starting")

	summary, err := s.runner.Run(ctx, domain.TriggerScheduled)
	if err != nil {
		s.logger.Error("Scheduled run failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("Scheduled run complete",
		slog.String("run_id", summary.RunID),
		slog.Int("records_found", summary.RecordsFound),
		slog.Int("success_count", summary.SuccessCount),
		slog.Int("error_count", summary.ErrorCount),
	)
}

// cronLogger routes cron's internal messages to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
