package quotafence

import "time"

// leakyBucketEngine models the quota as a bucket that drains at MaxRequests
// per window. Each admitted request adds its weight to the water level; a
// request is admitted only while the level plus its weight fits under the
// capacity. Unlike the token bucket, no burst credit accrues while idle, so
// the admission curve stays smooth under sustained load.
type leakyBucketEngine struct{}

func (leakyBucketEngine) Algorithm() Algorithm { return LeakyBucket }

func (leakyBucketEngine) Admit(e *Entry, cfg GroupConfig, weight float64, now time.Time) Verdict {
	capacity := float64(cfg.MaxRequests)
	rate := cfg.refillPerSecond()

	fresh := e.LastLeak.IsZero()
	if fresh {
		e.Water = 0
		e.LastLeak = now
	}

	elapsed := now.Sub(e.LastLeak).Seconds()
	if elapsed > 0 {
		e.Water -= elapsed * rate
		if e.Water <= 0 {
			e.Water = 0
			fresh = true
		}
		e.LastLeak = now
	}

	allowed := e.Water+weight <= capacity
	if allowed {
		e.Water += weight
	}

	// ResetAt estimates when the bucket has fully drained.
	toEmpty := e.Water / rate
	resetAt := now.Add(time.Duration(toEmpty * float64(time.Second)))
	e.ResetTime = resetAt

	remaining := int64(capacity - e.Water)
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
		// Wait until enough water has leaked for this weight to fit.
		overflow := e.Water + weight - capacity
		v.RetryAfter = time.Duration(overflow / rate * float64(time.Second))
	}
	return v
}
