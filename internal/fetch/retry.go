package fetch

import "time"

// RetryConfig controls per-tile retry/backoff, mirroring the retry
// struct shape the teacher's Overpass client exposed
// (overpass.RetryConfig) but generalized to the exponential schedule
// spec.md §4.1 actually requires: attempt k>=1 waits
// RetryDelay * 2^(k-1) before firing.
type RetryConfig struct {
	// Retries is the number of additional attempts after the first
	// failure (so Retries=1 means at most 2 attempts total).
	Retries int
	// Delay is the base retry delay; attempt k's wait is Delay*2^(k-1).
	Delay time.Duration
}

// DefaultRetryConfig matches the CLI defaults in spec.md §6.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Retries: 1, Delay: 2 * time.Second}
}

// NoRetry disables retries entirely. Used by the Generic dezoomer's
// grid-boundary probe, which must treat every attempt (including the
// first) as final regardless of the caller's global --retries setting
// (spec.md §9, first Open Question).
func NoRetry() RetryConfig {
	return RetryConfig{Retries: 0, Delay: 0}
}

// delayFor returns the wait before attempt k (k>=1 is the first retry,
// i.e. the second overall attempt).
func delayFor(cfg RetryConfig, k int) time.Duration {
	d := cfg.Delay
	for i := 1; i < k; i++ {
		d *= 2
	}
	return d
}
