package quotafence

import "time"

// slidingWindowEngine keeps the raw timestamps of admitted requests and
// bounds admissions to MaxRequests within any contiguous span of one window
// length, including spans straddling window boundaries. Memory per key is
// bounded in practice by MaxRequests because only admitted requests are
// recorded.
type slidingWindowEngine struct{}

func (slidingWindowEngine) Algorithm() Algorithm { return SlidingWindow }

func (slidingWindowEngine) Admit(e *Entry, cfg GroupConfig, weight float64, now time.Time) Verdict {
	cutoff := now.Add(-cfg.Window)

	// Discard events that have slid out of the window. Timestamps are
	// appended in order, so the retained suffix is still sorted.
	kept := e.Timestamps[:0]
	for _, ts := range e.Timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	fresh := len(kept) == 0
	e.Timestamps = kept

	allowed := int64(len(e.Timestamps)) < cfg.MaxRequests
	if allowed {
		e.Timestamps = append(e.Timestamps, now)
	}

	resetAt := now.Add(cfg.Window)
	if len(e.Timestamps) > 0 {
		resetAt = e.Timestamps[0].Add(cfg.Window)
	}
	e.ResetTime = resetAt

	remaining := cfg.MaxRequests - int64(len(e.Timestamps))
	if remaining < 0 {
		remaining = 0
	}

	v := Verdict{
		Allowed:     allowed,
		Remaining:   remaining,
		ResetAt:     resetAt,
		FreshWindow: fresh,
	}
	if !allowed {
		// A slot opens when the oldest retained event leaves the window.
		v.RetryAfter = e.Timestamps[0].Add(cfg.Window).Sub(now)
	}
	return v
}
