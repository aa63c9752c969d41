package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
	"herald/internal/logger"
	"herald/internal/queuestore"
)

func newTestGovernor(t *testing.T, cfg config.RateLimitConfig) (*Governor, *time.Time) {
	t.Helper()
	store := queuestore.NewMemoryStore(0)
	t.Cleanup(store.Close)

	g := NewGovernor(store, cfg, logger.NopLogger())
	now := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGovernorHourlyLimit(t *testing.T) {
	ctx := context.Background()
	g, now := newTestGovernor(t, config.RateLimitConfig{HourlyLimit: 2, DailyLimit: 10, Timezone: "UTC"})

	for i := 0; i < 2; i++ {
		d, err := g.CheckCounters(ctx, "t1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.NoError(t, g.RecordSend(ctx, "t1", *now))
	}

	d, err := g.CheckCounters(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHourlyLimit, d.Reason)
	assert.Equal(t, 2, d.Count)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), d.RetryAt)
	assert.Contains(t, d.Message, "2/2")

	other, err := g.CheckCounters(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	*now = now.Add(time.Hour)
	d, err = g.CheckCounters(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGovernorDailyLimit(t *testing.T) {
	ctx := context.Background()
	g, now := newTestGovernor(t, config.RateLimitConfig{HourlyLimit: 0, DailyLimit: 3, Timezone: "UTC"})

	for i := 0; i < 3; i++ {
		require.NoError(t, g.RecordSend(ctx, "t1", *now))
		*now = now.Add(time.Hour)
	}

	d, err := g.CheckCounters(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), d.RetryAt)

	count, err := g.DailyCount(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGovernorSpacingWait(t *testing.T) {
	ctx := context.Background()
	g, now := newTestGovernor(t, config.RateLimitConfig{MinSpacing: 10 * time.Second})

	wait, err := g.SpacingWait(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, wait)

	require.NoError(t, g.RecordSend(ctx, "t1", *now))
	*now = now.Add(4 * time.Second)

	wait, err = g.SpacingWait(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, wait)

	*now = now.Add(10 * time.Second)
	wait, err = g.SpacingWait(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestGovernorInvalidTimezoneFallsBackToUTC(t *testing.T) {
	g := NewGovernor(queuestore.NewMemoryStore(0), config.RateLimitConfig{Timezone: "Nowhere/Special"}, logger.NopLogger())
	assert.Equal(t, time.UTC, g.location)
}

func TestNextHourHalfHourZone(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2026, 3, 2, 10, 40, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, loc), nextHour(at))
}
