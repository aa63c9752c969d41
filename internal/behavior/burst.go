package behavior

import (
	"sort"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type burstThreshold struct {
	level       RiskLevel
	minCount    int
	maxInterval time.Duration
	cooldown    time.Duration
}

// Checked from most to least severe.
var burstThresholds = []burstThreshold{
	{level: RiskCritical, minCount: 15, maxInterval: 10 * time.Second, cooldown: 10 * time.Minute},
	{level: RiskHigh, minCount: 10, maxInterval: 20 * time.Second, cooldown: 5 * time.Minute},
	{level: RiskMedium, minCount: 5, maxInterval: 30 * time.Second},
}

type BurstAnalysis struct {
	IsBurst             bool
	RiskLevel           RiskLevel
	RecommendedCooldown time.Duration
	Count               int
	AverageInterval     time.Duration
}

// AnalyzeBurst classifies the sends that fall inside (now-window, now].
func AnalyzeBurst(timestamps []time.Time, now time.Time, window time.Duration) BurstAnalysis {
	recent := make([]time.Time, 0, len(timestamps))
	cutoff := now.Add(-window)
	for _, ts := range timestamps {
		if ts.After(cutoff) && !ts.After(now) {
			recent = append(recent, ts)
		}
	}

	result := BurstAnalysis{RiskLevel: RiskLow, Count: len(recent)}
	if len(recent) < 2 {
		return result
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].Before(recent[j]) })
	result.AverageInterval = recent[len(recent)-1].Sub(recent[0]) / time.Duration(len(recent)-1)

	for _, th := range burstThresholds {
		if result.Count > th.minCount && result.AverageInterval < th.maxInterval {
			result.RiskLevel = th.level
			result.RecommendedCooldown = th.cooldown
			result.IsBurst = true
			break
		}
	}
	return result
}

// NeedsCooldown reports whether the worker should pause before the next send.
func (a BurstAnalysis) NeedsCooldown() bool {
	return (a.RiskLevel == RiskHigh || a.RiskLevel == RiskCritical) && a.RecommendedCooldown > 0
}
