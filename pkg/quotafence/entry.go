package quotafence

import "time"

// Entry is the mutable per-key state for one endpoint group. Which fields are
// meaningful depends on the group's algorithm; the violation and block fields
// are shared by all of them.
//
// Entries are created lazily on the first request for a key, mutated on every
// subsequent request, and evicted either by store TTL or by an explicit
// administrative reset. An entry whose window has ended is logically expired
// and is reinitialized by the engine on the next check, never read as stale
// data.
type Entry struct {
	// Fixed and sliding window state.
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
	ResetTime   time.Time `json:"reset_time"`

	// Token bucket state.
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`

	// Leaky bucket state.
	Water    float64   `json:"water"`
	LastLeak time.Time `json:"last_leak"`

	// Sliding window raw event log, bounded in practice by MaxRequests.
	Timestamps []time.Time `json:"timestamps,omitempty"`

	// Violations counts denials accumulated toward an escalated block.
	Violations int `json:"violations"`

	// BlockedUntil, when set and in the future, dominates every algorithm's
	// decision: all requests for the key are rejected without consulting the
	// engine.
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}

// Blocked reports whether the entry is under an escalated block at now.
func (e *Entry) Blocked(now time.Time) bool {
	return !e.BlockedUntil.IsZero() && e.BlockedUntil.After(now)
}
