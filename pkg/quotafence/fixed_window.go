package quotafence

import "time"

// fixedWindowEngine implements plain fixed-window counting.
//
// The counter is incremented on every check, admitted or not, so repeated
// hammering during an exhausted window stays visible in the count without
// resetting the window early. Bursts straddling a window boundary can admit
// up to twice the limit across two adjacent windows; that is an accepted
// characteristic of fixed windows, callers wanting a strict rolling bound
// should configure SlidingWindow instead.
type fixedWindowEngine struct{}

func (fixedWindowEngine) Algorithm() Algorithm { return FixedWindow }

func (fixedWindowEngine) Admit(e *Entry, cfg GroupConfig, weight float64, now time.Time) Verdict {
	fresh := false
	if e.ResetTime.IsZero() || !now.Before(e.ResetTime) {
		e.Count = 0
		e.WindowStart = now
		e.ResetTime = now.Add(cfg.Window)
		fresh = true
	}

	allowed := e.Count < cfg.MaxRequests
	e.Count++

	remaining := cfg.MaxRequests - e.Count
	if remaining < 0 {
		remaining = 0
	}

	v := Verdict{
		Allowed:     allowed,
		Remaining:   remaining,
		ResetAt:     e.ResetTime,
		FreshWindow: fresh,
	}
	if !allowed {
		v.RetryAfter = e.ResetTime.Sub(now)
	}
	return v
}
