package behavior

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
	"herald/pkg/models"
)

func testEngine(seed int64) *Engine {
	return NewEngine(config.BehaviorConfig{
		DefaultPattern:       "moderate",
		DefaultTypingProfile: "normal",
		MaxTyping:            20 * time.Second,
	}, rand.New(rand.NewSource(seed)))
}

var monday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestComputeDelayWithinPatternBounds(t *testing.T) {
	e := testEngine(1)

	for _, name := range []string{"conservative", "moderate", "aggressive"} {
		_, p := e.Pattern(name)
		for i := 0; i < 500; i++ {
			d := e.ComputeDelay(DelayInput{
				Pattern:       name,
				TypingProfile: "fast",
				MessageLength: i % 300,
				Position:      i % 5,
				BatchSize:     5,
				DailyCount:    i,
				Jitter:        true,
				At:            monday.AddDate(0, 0, i%30),
			})
			require.GreaterOrEqual(t, d, p.Min, name)
			require.LessOrEqual(t, d, p.Max, name)
		}
	}
}

func TestComputeDelayFactors(t *testing.T) {
	base := DelayInput{Pattern: "conservative", MessageLength: 0, BatchSize: 1, At: monday}

	plain := testEngine(7).ComputeDelay(base)
	assert.Equal(t, clamp(time.Duration(float64(60*time.Second)*DayVariation(monday)), 30*time.Second, 180*time.Second), plain)

	tired := base
	tired.DailyCount = 50
	assert.Greater(t, testEngine(7).ComputeDelay(tired), plain)

	first := base
	first.BatchSize, first.Position = 4, 0
	middle := base
	middle.BatchSize, middle.Position = 4, 1
	last := base
	last.BatchSize, last.Position = 4, 3

	dFirst := testEngine(7).ComputeDelay(first)
	dMiddle := testEngine(7).ComputeDelay(middle)
	dLast := testEngine(7).ComputeDelay(last)
	assert.Greater(t, dFirst, dLast)
	assert.Greater(t, dLast, dMiddle)
	assert.Equal(t, plain, dMiddle)
}

func TestUnknownPatternUsesDefault(t *testing.T) {
	e := testEngine(1)
	name, p := e.Pattern("reckless")
	assert.Equal(t, "moderate", name)
	assert.Equal(t, 15*time.Second, p.Min)
}

func TestConfiguredPatternOverridesDefault(t *testing.T) {
	e := NewEngine(config.BehaviorConfig{
		DefaultPattern: "moderate",
		Patterns: map[string]config.PatternConfig{
			"moderate": {Min: time.Second, Max: 2 * time.Second, Base: time.Second},
		},
	}, rand.New(rand.NewSource(1)))

	_, p := e.Pattern("moderate")
	assert.Equal(t, 2*time.Second, p.Max)
}

func TestDayVariation(t *testing.T) {
	for i := 0; i < 60; i++ {
		day := monday.AddDate(0, 0, i)
		v := DayVariation(day)
		assert.GreaterOrEqual(t, v, 0.8)
		assert.Less(t, v, 1.4)
		assert.Equal(t, v, DayVariation(day.Add(5*time.Hour)))
	}
}

func TestTypingDuration(t *testing.T) {
	e := testEngine(3)

	assert.Zero(t, e.TypingDuration(0, "normal"))

	d := e.TypingDuration(50, "normal")
	chars := float64(50)
	assert.GreaterOrEqual(t, d, time.Duration(chars/6.5*float64(time.Second)))
	assert.LessOrEqual(t, d, time.Duration(chars/3.5*float64(time.Second)))

	assert.Equal(t, 20*time.Second, e.TypingDuration(5000, "slow"))
}

func TestOptimalOrderAvoidsConsecutiveRecipients(t *testing.T) {
	var envs []*models.Envelope
	for _, r := range []string{"a", "a", "a", "b", "b", "c"} {
		envs = append(envs, &models.Envelope{ID: r + string(rune('0'+len(envs))), Recipient: r})
	}

	for seed := int64(0); seed < 20; seed++ {
		ordered := testEngine(seed).OptimalOrder(envs)
		require.Len(t, ordered, len(envs))
		for i := 1; i < len(ordered); i++ {
			assert.NotEqual(t, ordered[i-1].Recipient, ordered[i].Recipient, "seed %d", seed)
		}
	}
}

func TestOptimalOrderUnavoidableRepeat(t *testing.T) {
	envs := []*models.Envelope{
		{ID: "1", Recipient: "a"}, {ID: "2", Recipient: "a"},
		{ID: "3", Recipient: "a"}, {ID: "4", Recipient: "b"},
	}

	ordered := testEngine(1).OptimalOrder(envs)
	recipients := make([]string, 0, len(ordered))
	for _, env := range ordered {
		recipients = append(recipients, env.Recipient)
	}
	assert.Equal(t, []string{"a", "b", "a", "a"}, recipients)
}

func TestOptimalOrderEmptyRecipient(t *testing.T) {
	envs := []*models.Envelope{
		{ID: "1", Recipient: ""},
		{ID: "2", Recipient: "a"},
		{ID: "3", Recipient: ""},
	}

	for seed := int64(0); seed < 10; seed++ {
		var ordered []*models.Envelope
		require.NotPanics(t, func() { ordered = testEngine(seed).OptimalOrder(envs) }, "seed %d", seed)
		require.Len(t, ordered, len(envs))
		assert.Equal(t, "a", ordered[1].Recipient, "seed %d", seed)
	}
}
