package quotafence

import "time"

// tokenBucketEngine implements a lazily refilled token bucket. Capacity is
// the configured burst size (defaulting to MaxRequests) and tokens refill at
// MaxRequests per window. This is the only engine with fractional request
// weights, letting heavy operations such as large exports consume more quota
// than simple reads.
type tokenBucketEngine struct{}

func (tokenBucketEngine) Algorithm() Algorithm { return TokenBucket }

func (tokenBucketEngine) Admit(e *Entry, cfg GroupConfig, weight float64, now time.Time) Verdict {
	capacity := float64(cfg.burstCapacity())
	rate := cfg.refillPerSecond()

	fresh := e.LastRefill.IsZero()
	if fresh {
		e.Tokens = capacity
		e.LastRefill = now
	}

	// Lazy refill, capped at capacity. Repeated checks without elapsed time
	// add nothing because LastRefill advances to now each time.
	elapsed := now.Sub(e.LastRefill).Seconds()
	if elapsed > 0 {
		e.Tokens += elapsed * rate
		if e.Tokens > capacity {
			e.Tokens = capacity
			fresh = true
		}
		e.LastRefill = now
	}

	allowed := e.Tokens >= weight
	if allowed {
		e.Tokens -= weight
	}

	// ResetAt estimates when the bucket is full again.
	toFull := (capacity - e.Tokens) / rate
	resetAt := now.Add(time.Duration(toFull * float64(time.Second)))
	e.ResetTime = resetAt

	v := Verdict{
		Allowed:     allowed,
		Remaining:   int64(e.Tokens),
		ResetAt:     resetAt,
		FreshWindow: fresh,
	}
	if !allowed {
		needed := weight - e.Tokens
		v.RetryAfter = time.Duration(needed / rate * float64(time.Second))
	}
	return v
}
