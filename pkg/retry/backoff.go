package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Delay is base*factor^attempt capped at max. It carries no jitter so a
// requeued message's not-before time is reproducible.
func Delay(attempt int, base time.Duration, factor float64, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(factor, float64(attempt))
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// exponential builds the policy's schedule. Unset fields fall back to DefaultPolicy.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	def := DefaultPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()
	return exp
}
