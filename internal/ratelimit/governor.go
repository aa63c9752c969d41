package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/queuestore"
)

const (
	ReasonHourlyLimit = "hourly_limit_reached"
	ReasonDailyLimit  = "daily_limit_reached"
	// ReasonRateLimitExceeded is reported at submission time, where either cap rejects.
	ReasonRateLimitExceeded = "rate_limit_exceeded"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Decision struct {
	Allowed bool
	Reason  string
	Message string
	Limit   int
	Count   int
	// RetryAt is when the exhausted window resets.
	RetryAt time.Time
}

// Governor enforces per-tenant hourly and daily send caps and a minimum
// spacing between consecutive sends.
type Governor struct {
	store    Store
	cfg      config.RateLimitConfig
	location *time.Location
	logger   logger.Logger
	now      func() time.Time
}

func NewGovernor(store Store, cfg config.RateLimitConfig, log logger.Logger) *Governor {
	return &Governor{
		store:    store,
		cfg:      cfg,
		location: loadLocation(cfg.Timezone, log),
		logger:   log,
		now:      time.Now,
	}
}

// WithClock replaces the governor's time source.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

// CheckCounters reports whether the tenant still has room in both windows.
// The hourly window is checked first.
func (g *Governor) CheckCounters(ctx context.Context, tenantID string) (Decision, error) {
	now := g.now().In(g.location)

	if g.cfg.HourlyLimit > 0 {
		count, err := g.counter(ctx, queuestore.HourlyCounterKey(tenantID, now))
		if err != nil {
			return Decision{}, err
		}
		if count >= g.cfg.HourlyLimit {
			return Decision{
				Reason:  ReasonHourlyLimit,
				Message: fmt.Sprintf("hourly limit reached: %d/%d", count, g.cfg.HourlyLimit),
				Limit:   g.cfg.HourlyLimit,
				Count:   count,
				RetryAt: nextHour(now),
			}, nil
		}
	}

	if g.cfg.DailyLimit > 0 {
		count, err := g.counter(ctx, queuestore.DailyCounterKey(tenantID, now))
		if err != nil {
			return Decision{}, err
		}
		if count >= g.cfg.DailyLimit {
			return Decision{
				Reason:  ReasonDailyLimit,
				Message: fmt.Sprintf("daily limit reached: %d/%d", count, g.cfg.DailyLimit),
				Limit:   g.cfg.DailyLimit,
				Count:   count,
				RetryAt: nextMidnight(now),
			}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// SpacingWait returns how long to wait before the next send keeps the minimum spacing.
func (g *Governor) SpacingWait(ctx context.Context, tenantID string) (time.Duration, error) {
	if g.cfg.MinSpacing <= 0 {
		return 0, nil
	}

	raw, err := g.store.Get(ctx, queuestore.SpacingKey(tenantID))
	if errors.Is(err, queuestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read spacing for tenant %s: %w", tenantID, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}

	wait := time.UnixMilli(ms).Add(g.cfg.MinSpacing).Sub(g.now())
	if wait < 0 {
		return 0, nil
	}
	return wait, nil
}

// RecordSend counts a successful send at at. Failed dispatches must not be recorded.
func (g *Governor) RecordSend(ctx context.Context, tenantID string, at time.Time) error {
	local := at.In(g.location)

	if _, err := g.store.IncrWithExpire(ctx, queuestore.HourlyCounterKey(tenantID, local), nextHour(local).Sub(local)); err != nil {
		return fmt.Errorf("failed to record hourly send for tenant %s: %w", tenantID, err)
	}

	if _, err := g.store.IncrWithExpire(ctx, queuestore.DailyCounterKey(tenantID, local), nextMidnight(local).Sub(local)); err != nil {
		return fmt.Errorf("failed to record daily send for tenant %s: %w", tenantID, err)
	}

	ms := strconv.FormatInt(at.UnixMilli(), 10)
	if err := g.store.Set(ctx, queuestore.SpacingKey(tenantID), ms, constants.DefaultSpacingTTL); err != nil {
		return fmt.Errorf("failed to record spacing for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (g *Governor) DailyCount(ctx context.Context, tenantID string) (int, error) {
	return g.counter(ctx, queuestore.DailyCounterKey(tenantID, g.now().In(g.location)))
}

func (g *Governor) counter(ctx context.Context, key string) (int, error) {
	raw, err := g.store.Get(ctx, key)
	if errors.Is(err, queuestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds %q: %w", key, raw, err)
	}
	return n, nil
}

// nextHour works on the wall clock so half-hour offset zones reset on their own hour.
func nextHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour()+1, 0, 0, 0, t.Location())
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func loadLocation(name string, log logger.Logger) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnw("Invalid timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}
