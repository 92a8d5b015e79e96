package httpfetcher

import (
	"math"
	mathrand "math/rand"
	"time"
)

// DefaultJitterFactor is the default proportion of delay to add as random
// jitter.
const DefaultJitterFactor = 0.5

// RetryConfig holds the retry/backoff policy for HttpFetcher, ported from
// the teacher's lock-acquisition RetryConfig (pkg/lock/config.go) and
// re-targeted at the contract in SPEC_FULL.md §4.1: up to 25 attempts,
// bounded to 60s of total wall clock.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts for one logical
	// operation, including the first try.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// MaxElapsed bounds the total wall-clock time spent retrying.
	MaxElapsed time.Duration

	// Jitter enables random jitter in retry delays to prevent thundering
	// herd when many shard fetches retry at once.
	Jitter bool

	// JitterFactor is the maximum proportion of delay to add as random
	// jitter. Only used if Jitter is true. Defaults to DefaultJitterFactor.
	JitterFactor float64
}

// GetJitterFactor returns JitterFactor if set and valid, else the default.
func (c RetryConfig) GetJitterFactor() float64 {
	if c.JitterFactor <= 0 {
		return DefaultJitterFactor
	}

	return c.JitterFactor
}

// DefaultRetryConfig returns the default policy described in SPEC_FULL.md
// §4.1: up to 25 tries, total wall-clock capped at 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  25,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		MaxElapsed:   60 * time.Second,
		Jitter:       true,
		JitterFactor: DefaultJitterFactor,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry
// attempt (0-indexed: first attempt is 0, first retry is 1).
func CalculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := cfg.InitialDelay * time.Duration(math.Pow(2, float64(attempt-1)))

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.Jitter {
		factor := cfg.GetJitterFactor()

		//nolint:gosec // jitter does not need crypto-grade randomness
		jitter := mathrand.Float64() * float64(delay) * factor
		delay += time.Duration(jitter)
	}

	return delay
}
