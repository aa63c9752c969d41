package queuestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/circuitbreaker"
	"herald/pkg/metrics"
	"herald/pkg/models"
	"herald/pkg/retry"
)

type SupervisorConfig struct {
	// FallbackOnError switches to the in-process backend when the primary is unreachable.
	FallbackOnError bool
	// RestoreOnRecovery moves queued envelopes back to the primary once it answers again.
	RestoreOnRecovery bool
	Probe             retry.Policy
	Breaker           *circuitbreaker.Config
}

// Supervisor owns the active backend. Callers only ever see the Store interface;
// the swap between primary and fallback happens underneath.
type Supervisor struct {
	primary  Store
	fallback *MemoryStore
	cb       *circuitbreaker.Wrapper
	cfg      SupervisorConfig
	logger   logger.Logger

	mu           sync.RWMutex
	onFallback   bool
	fallbackFrom time.Time
}

// NewSupervisor wraps primary with failover to fallback. A nil primary runs on
// the fallback permanently.
func NewSupervisor(primary Store, fallback *MemoryStore, cfg SupervisorConfig, log logger.Logger) *Supervisor {
	s := &Supervisor{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   log,
	}

	if primary == nil {
		s.onFallback = true
		s.fallbackFrom = time.Now()
	} else {
		cbCfg := circuitbreaker.DefaultConfig("queue-store-" + primary.Name())
		if cfg.Breaker != nil {
			cbCfg = *cfg.Breaker
		}
		cbCfg.IsSuccessful = func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		}
		s.cb = circuitbreaker.NewWrapper(cbCfg)
	}

	s.reportBackend()
	return s
}

func (s *Supervisor) Name() string {
	return s.active().Name()
}

// OnFallback reports whether the in-process backend is active.
func (s *Supervisor) OnFallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onFallback
}

// Degraded lets health checks report the fallback mode.
func (s *Supervisor) Degraded() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.onFallback && s.primary != nil {
		return true, fmt.Sprintf("running on %s fallback since %s", constants.BackendMemory, s.fallbackFrom.Format(time.RFC3339))
	}
	return false, ""
}

func (s *Supervisor) active() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.onFallback {
		return s.fallback
	}
	return s.primary
}

func (s *Supervisor) run(ctx context.Context, op string, fn func(Store) (interface{}, error)) (interface{}, error) {
	s.mu.RLock()
	if s.onFallback {
		defer s.mu.RUnlock()
		res, err := fn(s.fallback)
		s.record(s.fallback.Name(), op, err)
		return res, err
	}
	s.mu.RUnlock()

	res, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return fn(s.primary)
	})
	s.record(s.primary.Name(), op, err)
	if err == nil || !s.shouldFailover(err) {
		return res, err
	}

	s.switchToFallback(ctx, op, err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err = fn(s.fallback)
	s.record(s.fallback.Name(), op, err)
	return res, err
}

func (s *Supervisor) shouldFailover(err error) bool {
	if !s.cfg.FallbackOnError {
		return false
	}
	return errors.Is(err, ErrUnavailable) || circuitbreaker.IsRejected(err)
}

func (s *Supervisor) switchToFallback(ctx context.Context, op string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onFallback {
		return
	}
	s.onFallback = true
	s.fallbackFrom = time.Now()

	metrics.IncFallbackUsage("queue-store", constants.BackendMemory, op)
	s.logger.WarnwCtx(ctx, "Primary queue store unavailable, switching to in-process fallback",
		"primary", s.primary.Name(),
		"operation", op,
		"error", cause,
	)
	s.reportBackendLocked()
}

// CheckPrimary probes the primary with retry and, when configured, migrates
// queued envelopes back to it. Key-value state is not migrated.
func (s *Supervisor) CheckPrimary(ctx context.Context) error {
	if s.primary == nil {
		return nil
	}

	err := retry.RetryWithCallback(ctx, s.cfg.Probe, func() error {
		return s.primary.Ping(ctx)
	}, func(attempt int, err error, next time.Duration) {
		s.logger.Debugw("Primary queue store probe failed",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("primary queue store %s still unavailable: %w", s.primary.Name(), err)
	}

	if !s.OnFallback() || !s.cfg.RestoreOnRecovery {
		return nil
	}
	return s.restore(ctx)
}

func (s *Supervisor) restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.onFallback {
		return nil
	}

	moved := 0
	for _, tenantID := range s.fallback.Tenants() {
		for _, tier := range Tiers {
			envs, err := s.fallback.List(ctx, tenantID, tier, 0)
			if err != nil {
				return err
			}
			for i, env := range envs {
				if err := s.primary.Push(ctx, env); err != nil {
					// drop what already landed on the primary so nothing is queued twice
					for _, done := range envs[:i] {
						_, _ = s.fallback.Remove(ctx, tenantID, done.ID)
					}
					return fmt.Errorf("restore to %s interrupted after %d envelopes: %w", s.primary.Name(), moved, err)
				}
				moved++
			}
			for _, env := range envs {
				_, _ = s.fallback.Remove(ctx, tenantID, env.ID)
			}
		}
	}

	s.onFallback = false
	s.logger.Infow("Primary queue store recovered, restored queued envelopes",
		"primary", s.primary.Name(),
		"envelopes", moved,
		"fallback_duration", time.Since(s.fallbackFrom).String(),
	)
	s.reportBackendLocked()
	return nil
}

func (s *Supervisor) record(backend, op string, err error) {
	status := "ok"
	switch {
	case err == nil, errors.Is(err, ErrEmpty), errors.Is(err, ErrNotFound):
	default:
		status = "error"
	}
	metrics.IncStoreOperation(backend, op, status)
}

func (s *Supervisor) reportBackend() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.reportBackendLocked()
}

func (s *Supervisor) reportBackendLocked() {
	active := constants.BackendMemory
	if !s.onFallback && s.primary != nil {
		active = s.primary.Name()
	}
	metrics.SetStoreBackend(active, constants.BackendRedis, constants.BackendMemory)
}

func (s *Supervisor) Push(ctx context.Context, env *models.Envelope) error {
	_, err := s.run(ctx, "push", func(st Store) (interface{}, error) {
		return nil, st.Push(ctx, env)
	})
	return err
}

func (s *Supervisor) Pop(ctx context.Context, tenantID string, tier Tier) (*models.Envelope, error) {
	res, err := s.run(ctx, "pop", func(st Store) (interface{}, error) {
		return st.Pop(ctx, tenantID, tier)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.Envelope), nil
}

func (s *Supervisor) Len(ctx context.Context, tenantID string, tier Tier) (int, error) {
	res, err := s.run(ctx, "len", func(st Store) (interface{}, error) {
		return st.Len(ctx, tenantID, tier)
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

func (s *Supervisor) List(ctx context.Context, tenantID string, tier Tier, limit int) ([]*models.Envelope, error) {
	res, err := s.run(ctx, "list", func(st Store) (interface{}, error) {
		return st.List(ctx, tenantID, tier, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*models.Envelope), nil
}

func (s *Supervisor) Remove(ctx context.Context, tenantID, messageID string) (*models.Envelope, error) {
	res, err := s.run(ctx, "remove", func(st Store) (interface{}, error) {
		return st.Remove(ctx, tenantID, messageID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.Envelope), nil
}

func (s *Supervisor) Clear(ctx context.Context, tenantID string) (int, error) {
	res, err := s.run(ctx, "clear", func(st Store) (interface{}, error) {
		return st.Clear(ctx, tenantID)
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

func (s *Supervisor) Get(ctx context.Context, key string) (string, error) {
	res, err := s.run(ctx, "get", func(st Store) (interface{}, error) {
		return st.Get(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (s *Supervisor) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.run(ctx, "set", func(st Store) (interface{}, error) {
		return nil, st.Set(ctx, key, value, ttl)
	})
	return err
}

func (s *Supervisor) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.run(ctx, "setnx", func(st Store) (interface{}, error) {
		return st.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *Supervisor) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := s.run(ctx, "incr", func(st Store) (interface{}, error) {
		return st.IncrWithExpire(ctx, key, ttl)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (s *Supervisor) Decr(ctx context.Context, key string) error {
	_, err := s.run(ctx, "decr", func(st Store) (interface{}, error) {
		return nil, st.Decr(ctx, key)
	})
	return err
}

func (s *Supervisor) Delete(ctx context.Context, keys ...string) error {
	_, err := s.run(ctx, "delete", func(st Store) (interface{}, error) {
		return nil, st.Delete(ctx, keys...)
	})
	return err
}

func (s *Supervisor) Ping(ctx context.Context) error {
	return s.active().Ping(ctx)
}
