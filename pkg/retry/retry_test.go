package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnFatal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("bad input"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithCallbackReportsAttempts(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("down")
	}, func(attempt int, _ error, next time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, next)
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDelay(t *testing.T) {
	assert.Equal(t, time.Minute, Delay(0, time.Minute, 2, time.Hour))
	assert.Equal(t, 4*time.Minute, Delay(2, time.Minute, 2, time.Hour))
	assert.Equal(t, time.Hour, Delay(10, time.Minute, 2, time.Hour))
	assert.Equal(t, time.Minute, Delay(-1, time.Minute, 2, 0))
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 2}, func() error {
		calls++
		cancel()
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestZeroPolicyUsesDefaults(t *testing.T) {
	exp := Policy{}.exponential()
	assert.Equal(t, DefaultPolicy().InitialInterval, exp.InitialInterval)
	assert.Equal(t, DefaultPolicy().Multiplier, exp.Multiplier)
}
