// Package scheduler runs recurring maintenance jobs on cron schedules:
// the missing-file sweep and resolved-failure pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/maintenance"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// Scheduler owns the cron runner for maintenance jobs. Jobs with an
// empty cron expression stay unregistered.
type Scheduler struct {
	mu sync.Mutex

	cfg      config.SchedulerConfig
	ops      *maintenance.Operations
	failures repository.FailureRepository
	logger   *slog.Logger

	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler for the configured maintenance jobs.
func New(cfg config.SchedulerConfig, ops *maintenance.Operations, failures repository.FailureRepository, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		ops:      ops,
		failures: failures,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start registers configured jobs and begins the cron runner. Invalid
// cron expressions are a startup error, not a runtime surprise.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	runner := cron.New()
	s.ctx = ctx

	if expr := s.cfg.MissingPathSweep; expr != "" {
		if _, err := runner.AddFunc(expr, s.sweepMissingPaths); err != nil {
			return fmt.Errorf("scheduling missing-path sweep %q: %w", expr, err)
		}
		s.logger.Info("missing-path sweep scheduled", slog.String("cron", expr))
	}

	if expr := s.cfg.FailureCleanup; expr != "" && s.cfg.FailureRetention > 0 {
		if _, err := runner.AddFunc(expr, s.pruneResolvedFailures); err != nil {
			return fmt.Errorf("scheduling failure cleanup %q: %w", expr, err)
		}
		s.logger.Info("failure cleanup scheduled",
			slog.String("cron", expr),
			slog.Duration("retention", s.cfg.FailureRetention),
		)
	}

	runner.Start()
	s.cron = runner
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	runner := s.cron
	s.cron = nil
	s.mu.Unlock()

	if runner == nil {
		return
	}
	<-runner.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) sweepMissingPaths() {
	deleted, err := s.ops.DeleteMissingPaths(s.ctx)
	if err != nil {
		s.logger.Error("missing-path sweep failed",
			slog.Int("deleted", deleted),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Info("missing-path sweep ran", slog.Int("deleted", deleted))
}

func (s *Scheduler) pruneResolvedFailures() {
	cutoff := time.Now().Add(-s.cfg.FailureRetention)
	pruned, err := s.failures.DeleteResolvedBefore(s.ctx, cutoff)
	if err != nil {
		s.logger.Error("failure cleanup failed", slog.Any("error", err))
		return
	}
	s.logger.Info("failure cleanup ran",
		slog.Int64("pruned", pruned),
		slog.Time("cutoff", cutoff),
	)
}
