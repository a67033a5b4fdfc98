package quotafence

import (
	"fmt"
	"time"
)

// Algorithm identifies an admission algorithm.
type Algorithm string

const (
	// FixedWindow counts requests in fixed-length windows. Cheapest, but
	// bursts straddling a window boundary can admit up to twice the limit.
	FixedWindow Algorithm = "fixed_window"

	// SlidingWindow keeps raw request timestamps and bounds admissions to
	// the limit within any rolling window. Precise burst control.
	SlidingWindow Algorithm = "sliding_window"

	// TokenBucket refills tokens at a steady rate up to a burst capacity.
	// The only engine that supports fractional request weights.
	TokenBucket Algorithm = "token_bucket"

	// LeakyBucket drains at a steady rate; no burst credit accrues while
	// idle, producing a smoother admission curve under sustained load.
	LeakyBucket Algorithm = "leaky_bucket"
)

// ParseAlgorithm converts a configuration string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case FixedWindow, SlidingWindow, TokenBucket, LeakyBucket:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// Verdict is the outcome of running one engine against one entry.
type Verdict struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int64

	// ResetAt is when the key's quota fully resets.
	ResetAt time.Time

	// RetryAfter is how long to wait before a request would be admitted.
	// Zero when Allowed.
	RetryAfter time.Duration

	// FreshWindow reports that this check began a new window cycle, either
	// because the entry was new or because the previous window had expired.
	FreshWindow bool
}

// Engine is one admission algorithm. Engines are stateless; all per-key state
// lives in the Entry, which the caller passes in under the key's lock. An
// engine mutates the entry only per its documented side-effect rules (fixed
// window increments its counter even on denial, the others write state only
// on admission).
type Engine interface {
	// Algorithm returns the engine's identifier.
	Algorithm() Algorithm

	// Admit evaluates one request of the given weight against the entry at
	// time now, updating the entry in place.
	Admit(e *Entry, cfg GroupConfig, weight float64, now time.Time) Verdict
}

// engineFor returns the engine implementing the given algorithm.
func engineFor(a Algorithm) (Engine, error) {
	switch a {
	case FixedWindow:
		return fixedWindowEngine{}, nil
	case SlidingWindow:
		return slidingWindowEngine{}, nil
	case TokenBucket:
		return tokenBucketEngine{}, nil
	case LeakyBucket:
		return leakyBucketEngine{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
}
