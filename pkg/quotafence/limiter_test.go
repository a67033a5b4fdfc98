package quotafence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockClock is a hand-advanced time source for deterministic checks.
type mockClock struct {
	mu sync.Mutex
	t  time.Time
}

func newMockClock() *mockClock {
	return &mockClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingStats struct {
	mu         sync.Mutex
	allowed    map[string]int
	denied     map[string]int
	violations map[string]int
	errors     map[string]int
}

func newCountingStats() *countingStats {
	return &countingStats{
		allowed:    map[string]int{},
		denied:     map[string]int{},
		violations: map[string]int{},
		errors:     map[string]int{},
	}
}

func (s *countingStats) RecordAllowed(g string) { s.mu.Lock(); s.allowed[g]++; s.mu.Unlock() }
func (s *countingStats) RecordDenied(g string)  { s.mu.Lock(); s.denied[g]++; s.mu.Unlock() }
func (s *countingStats) RecordViolation(g string) {
	s.mu.Lock()
	s.violations[g]++
	s.mu.Unlock()
}
func (s *countingStats) RecordError(g string) { s.mu.Lock(); s.errors[g]++; s.mu.Unlock() }

// failingBackend simulates an unreachable distributed store.
type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBackendDown
}
func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (failingBackend) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errBackendDown
}
func (failingBackend) Expire(context.Context, string, time.Duration) error { return errBackendDown }
func (failingBackend) Delete(context.Context, string) error                { return errBackendDown }

func TestNewLimiter_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "no groups"},
		{
			name: "non-positive window",
			opts: []Option{WithGroup("g", GroupConfig{Algorithm: FixedWindow, MaxRequests: 5})},
		},
		{
			name: "non-positive max",
			opts: []Option{WithGroup("g", GroupConfig{Algorithm: FixedWindow, Window: time.Second})},
		},
		{
			name: "unknown algorithm",
			opts: []Option{WithGroup("g", GroupConfig{Algorithm: "gcra", MaxRequests: 5, Window: time.Second})},
		},
		{
			name: "duplicate group",
			opts: []Option{
				WithGroup("g", GroupConfig{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Second}),
				WithGroup("g", GroupConfig{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Second}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLimiter(tt.opts...); err == nil {
				t.Error("NewLimiter() expected error, got nil")
			}
		})
	}
}

// Repeated denials escalate into a hard block that outlasts window resets,
// and a fresh admitted cycle after the block clears the slate.
func TestLimiter_Escalation(t *testing.T) {
	clock := newMockClock()
	limiter, err := NewLimiter(
		WithClock(clock.Now),
		WithGroup("auth", GroupConfig{
			Algorithm:          FixedWindow,
			MaxRequests:        3,
			Window:             time.Second,
			ViolationThreshold: 3,
			BlockDuration:      5 * time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	// Three windows, each with one denial: violations reach the threshold.
	for window := 0; window < 3; window++ {
		for i := 0; i < 3; i++ {
			if d := limiter.CheckKey("auth", "user:1", 1); !d.Allowed {
				t.Fatalf("window %d request %d should be allowed", window, i+1)
			}
		}
		d := limiter.CheckKey("auth", "user:1", 1)
		if d.Allowed {
			t.Fatalf("window %d overflow request should be denied", window)
		}
		if window == 2 {
			if !d.Blocked {
				t.Fatal("third violation should trigger the block")
			}
			if d.RetryAfter != 5*time.Second {
				t.Errorf("RetryAfter = %v, want the block duration", d.RetryAfter)
			}
		}
		clock.Advance(1100 * time.Millisecond)
	}

	// Inside the block: denied regardless of algorithm state, even though
	// the window has long reset.
	clock.Advance(2900 * time.Millisecond) // 4s after the block started
	d := limiter.CheckKey("auth", "user:1", 1)
	if d.Allowed || !d.Blocked {
		t.Fatalf("request inside the block: Allowed=%v Blocked=%v, want denied+blocked", d.Allowed, d.Blocked)
	}

	// After the block elapses a fresh window admits again.
	clock.Advance(1101 * time.Millisecond) // 5.001s+ after the block started
	d = limiter.CheckKey("auth", "user:1", 1)
	if !d.Allowed {
		t.Fatal("request after the block elapsed should be admitted")
	}

	// The fresh admitted cycle cleared the violations: one more denial must
	// not instantly re-block.
	limiter.CheckKey("auth", "user:1", 1)
	limiter.CheckKey("auth", "user:1", 1)
	d = limiter.CheckKey("auth", "user:1", 1)
	if d.Allowed {
		t.Fatal("4th request of the fresh window should be denied")
	}
	if d.Blocked {
		t.Error("first violation after a cleared block must not re-block")
	}
}

// A window reset never unblocks a key early; BlockedUntil is authoritative.
func TestLimiter_BlockOutlivesWindow(t *testing.T) {
	clock := newMockClock()
	limiter, err := NewLimiter(
		WithClock(clock.Now),
		WithGroup("auth", GroupConfig{
			Algorithm:          SlidingWindow,
			MaxRequests:        1,
			Window:             100 * time.Millisecond,
			ViolationThreshold: 1,
			BlockDuration:      10 * time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	limiter.CheckKey("auth", "k", 1)
	if d := limiter.CheckKey("auth", "k", 1); !d.Blocked {
		t.Fatal("single violation at threshold 1 should block")
	}

	for i := 0; i < 20; i++ {
		clock.Advance(200 * time.Millisecond) // every step is a fresh window
		if d := limiter.CheckKey("auth", "k", 1); d.Allowed {
			t.Fatal("blocked key must stay denied across window resets")
		}
	}
}

// Store TTL shares the limiter's clock, so eviction of an idle key and the
// violation slate it carries can be driven without sleeping.
func TestLimiter_TTLEvictionClearsViolations(t *testing.T) {
	clock := newMockClock()
	limiter, err := NewLimiter(
		WithClock(clock.Now),
		WithGroup("auth", GroupConfig{
			Algorithm:          FixedWindow,
			MaxRequests:        1,
			Window:             time.Second,
			ViolationThreshold: 3,
			BlockDuration:      5 * time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	// Two violations, one short of the threshold.
	limiter.CheckKey("auth", "k", 1)
	for i := 0; i < 2; i++ {
		if d := limiter.CheckKey("auth", "k", 1); d.Allowed || d.Blocked {
			t.Fatalf("denial %d: Allowed=%v Blocked=%v, want denied and not blocked", i+1, d.Allowed, d.Blocked)
		}
	}

	// Idle past the entry TTL (block duration + window): the entry is evicted
	// and the accumulated violations go with it.
	clock.Advance(7 * time.Second)

	if d := limiter.CheckKey("auth", "k", 1); !d.Allowed {
		t.Fatal("first request after eviction should be admitted")
	}
	for i := 0; i < 2; i++ {
		d := limiter.CheckKey("auth", "k", 1)
		if d.Allowed {
			t.Fatalf("denial %d after eviction should be denied", i+1)
		}
		if d.Blocked {
			t.Fatal("violations must restart from zero after TTL eviction")
		}
	}
}

func TestLimiter_IndependentGroupsAndKeys(t *testing.T) {
	clock := newMockClock()
	limiter, err := NewLimiter(
		WithClock(clock.Now),
		WithGroup("login", GroupConfig{Algorithm: FixedWindow, MaxRequests: 1, Window: time.Minute}),
		WithGroup("api", GroupConfig{Algorithm: FixedWindow, MaxRequests: 1, Window: time.Minute}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	if d := limiter.CheckKey("login", "user:1", 1); !d.Allowed {
		t.Fatal("first login should be allowed")
	}
	if d := limiter.CheckKey("login", "user:1", 1); d.Allowed {
		t.Fatal("second login should be denied")
	}

	// Same caller, different group: independent quota.
	if d := limiter.CheckKey("api", "user:1", 1); !d.Allowed {
		t.Error("login exhaustion must not affect the api group")
	}
	// Different caller, same group: independent key.
	if d := limiter.CheckKey("login", "user:2", 1); !d.Allowed {
		t.Error("one caller's exhaustion must not affect another")
	}
}

// Backend failure admits the request and records a distinguishable degraded
// event instead of surfacing an error or a denial.
func TestLimiter_FailOpen(t *testing.T) {
	stats := newCountingStats()
	limiter, err := NewLimiter(
		WithStats(stats),
		WithDistributedStore(failingBackend{}, 50*time.Millisecond),
		WithGroup("api", GroupConfig{Algorithm: TokenBucket, MaxRequests: 5, Window: time.Second}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		d := limiter.CheckKey("api", "user:1", 1)
		if !d.Allowed {
			t.Fatal("fail-open admission expected when the store is down")
		}
		if !d.Degraded {
			t.Fatal("degraded flag expected so operators can tell limiter breakage from denials")
		}
	}

	if stats.errors["api"] != 20 {
		t.Errorf("errors recorded = %d, want 20", stats.errors["api"])
	}
	if stats.denied["api"] != 0 {
		t.Errorf("denied recorded = %d, want 0 (fail-open is not a denial)", stats.denied["api"])
	}
}

func TestLimiter_UnknownGroupFailsOpen(t *testing.T) {
	stats := newCountingStats()
	limiter, err := NewLimiter(
		WithStats(stats),
		WithGroup("api", GroupConfig{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Second}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	d := limiter.Check("no-such-group", &Request{RemoteAddr: "1.2.3.4:1"})
	if !d.Allowed || !d.Degraded {
		t.Errorf("Allowed=%v Degraded=%v, want fail-open", d.Allowed, d.Degraded)
	}
	if stats.errors["no-such-group"] != 1 {
		t.Error("misrouted group should be recorded as an error")
	}
}

func TestLimiter_ResetClearsBlock(t *testing.T) {
	clock := newMockClock()
	limiter, err := NewLimiter(
		WithClock(clock.Now),
		WithGroup("auth", GroupConfig{
			Algorithm:          FixedWindow,
			MaxRequests:        1,
			Window:             time.Minute,
			ViolationThreshold: 1,
			BlockDuration:      time.Hour,
		}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	limiter.CheckKey("auth", "user:1", 1)
	if d := limiter.CheckKey("auth", "user:1", 1); !d.Blocked {
		t.Fatal("second request should block")
	}

	// Administrative override, e.g. after a successful password change.
	if err := limiter.Reset("auth", "user:1"); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if d := limiter.CheckKey("auth", "user:1", 1); !d.Allowed {
		t.Error("request after reset should be admitted")
	}

	if err := limiter.Reset("nope", "user:1"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Reset(unknown group) error = %v, want ErrUnknownGroup", err)
	}
	if err := limiter.Reset("auth", ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Reset(empty key) error = %v, want ErrInvalidKey", err)
	}
}

func TestLimiter_StatsRecorded(t *testing.T) {
	stats := newCountingStats()
	clock := newMockClock()
	limiter, err := NewLimiter(
		WithClock(clock.Now),
		WithStats(stats),
		WithGroup("api", GroupConfig{Algorithm: FixedWindow, MaxRequests: 2, Window: time.Minute}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		limiter.CheckKey("api", "k", 1)
	}

	if stats.allowed["api"] != 2 {
		t.Errorf("allowed = %d, want 2", stats.allowed["api"])
	}
	if stats.denied["api"] != 3 {
		t.Errorf("denied = %d, want 3", stats.denied["api"])
	}
	if stats.violations["api"] != 3 {
		t.Errorf("violations = %d, want 3", stats.violations["api"])
	}
}

func TestLimiter_GroupResolverOverride(t *testing.T) {
	limiter, err := NewLimiter(
		WithGroup("public", GroupConfig{
			Algorithm:   FixedWindow,
			MaxRequests: 1,
			Window:      time.Minute,
			Resolver:    ResolveAddress,
		}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	// With the address resolver, the user id is ignored: two users behind
	// one address share the quota.
	r1 := &Request{UserID: "1", RemoteAddr: "9.9.9.9:1"}
	r2 := &Request{UserID: "2", RemoteAddr: "9.9.9.9:2"}
	if d := limiter.Check("public", r1); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d := limiter.Check("public", r2); d.Allowed {
		t.Error("second request from the same address should be denied")
	}
}

func TestLimiter_ConcurrentSameKeyBounded(t *testing.T) {
	limiter, err := NewLimiter(
		WithGroup("api", GroupConfig{Algorithm: SlidingWindow, MaxRequests: 10, Window: time.Minute}),
	)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckKey("api", "shared", 1).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("admitted %d concurrent requests, want exactly 10", admitted)
	}
}
