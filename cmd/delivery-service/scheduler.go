package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/config"
	"herald/internal/delivery"
	"herald/internal/logger"
	"herald/internal/queuestore"
	"herald/internal/rules"
)

// cronLogger routes cron's own messages through the service logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// scheduler runs the periodic jobs: rule sweeps, queue store probes and idle
// worker cleanup. Each job skips a tick while its previous run is in flight.
type scheduler struct {
	cron   *cron.Cron
	logger logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newScheduler(
	cfg *config.Config,
	log logger.Logger,
	store *queuestore.Supervisor,
	manager *delivery.Manager,
	evaluator *rules.Evaluator,
) (*scheduler, error) {
	cl := cronLogger{log: log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))

	ctx, cancel := context.WithCancel(context.Background())
	s := &scheduler{cron: c, logger: log, ctx: ctx, cancel: cancel}

	if evaluator != nil && cfg.Rules.SweepSchedule != "" {
		if _, err := c.AddFunc(cfg.Rules.SweepSchedule, func() {
			res, err := evaluator.Sweep(s.ctx, time.Now())
			if err != nil {
				log.Errorw("Rule sweep failed", "error", err)
				return
			}
			log.Infow("Rule sweep complete",
				"rules_checked", res.RulesChecked,
				"rules_fired", res.RulesFired,
				"submitted", res.Submitted,
				"rejected", res.Rejected,
				"errors", res.Errors,
			)
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid rules sweep schedule %q: %w", cfg.Rules.SweepSchedule, err)
		}
	}

	if store != nil && cfg.Queue.ProbeSchedule != "" {
		if _, err := c.AddFunc(cfg.Queue.ProbeSchedule, func() {
			if !store.OnFallback() {
				return
			}
			if err := store.CheckPrimary(s.ctx); err != nil {
				log.Debugw("Primary queue store still unavailable", "error", err)
			}
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid queue probe schedule %q: %w", cfg.Queue.ProbeSchedule, err)
		}
	}

	if manager != nil && cfg.Delivery.CleanupSchedule != "" {
		if _, err := c.AddFunc(cfg.Delivery.CleanupSchedule, func() {
			if removed := manager.Cleanup(s.ctx); removed > 0 {
				log.Infow("Removed idle workers", "count", removed)
			}
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Delivery.CleanupSchedule, err)
		}
	}

	return s, nil
}

func (s *scheduler) Start() {
	s.cron.Start()
	s.logger.Infow("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warnw("Scheduler jobs still running at shutdown")
	}
}
