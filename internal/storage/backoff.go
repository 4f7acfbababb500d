package storage

import (
	"math"
	"time"
)

// Default retry policy values.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultJitter      = 0.25
)

// BackoffPolicy computes exponential backoff delays with symmetric jitter:
//
//	delay = min(Max, Base * 2^(attempt-1) * (1 ± Jitter))
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoffPolicy returns the default policy (2s base, 60s cap, ±25%).
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBaseDelay, Max: DefaultMaxDelay, Jitter: DefaultJitter}
}

// BaseDelay returns the un-jittered delay after the given failed attempt (1-based).
func (p BackoffPolicy) BaseDelay(attempt int) time.Duration {
	return p.scaled(attempt, 1)
}

// Delay returns the jittered delay after the given failed attempt.
// r must be in [0,1); 0.5 yields the un-jittered delay.
func (p BackoffPolicy) Delay(attempt int, r float64) time.Duration {
	return p.scaled(attempt, 1+p.Jitter*(2*r-1))
}

func (p BackoffPolicy) scaled(attempt int, factor float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1)) * factor
	if d < 0 {
		d = 0
	}
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}
