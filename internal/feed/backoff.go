package feed

import "time"

// Backoff computes bounded exponential reconnect delays:
// Base * Factor^(attempt-1), capped at Cap, for at most MaxAttempts
// attempts. The source material only implies these bounds; the defaults
// here are 1s base, factor 2, 30s ceiling, 5 attempts.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff is the reconnect policy used when config leaves it unset.
var DefaultBackoff = Backoff{
	Base:        time.Second,
	Cap:         30 * time.Second,
	Factor:      2,
	MaxAttempts: 5,
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff
	if b.Base > 0 {
		d.Base = b.Base
	}
	if b.Cap > 0 {
		d.Cap = b.Cap
	}
	if b.Factor > 1 {
		d.Factor = b.Factor
	}
	if b.MaxAttempts > 0 {
		d.MaxAttempts = b.MaxAttempts
	}
	return d
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Cap {
			return b.Cap
		}
	}
	if time.Duration(d) > b.Cap {
		return b.Cap
	}
	return time.Duration(d)
}

// Exhausted reports whether the given 1-based attempt exceeds the budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
