package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryKeepsMostRecent(t *testing.T) {
	h := newHistory(3)
	assert.Empty(t, h.Snapshot())
	assert.True(t, h.Last().IsZero())

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Add(base.Add(time.Duration(i) * time.Second))
	}

	assert.Equal(t, []time.Time{
		base.Add(2 * time.Second),
		base.Add(3 * time.Second),
		base.Add(4 * time.Second),
	}, h.Snapshot())
	assert.Equal(t, base.Add(4*time.Second), h.Last())
}

func TestSleepIsCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, RealClock(), time.Hour, nil)
	require.ErrorIs(t, err, context.Canceled)

	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	assert.NoError(t, sleep(context.Background(), RealClock(), time.Hour, wake))
}
