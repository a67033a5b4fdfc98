package quotafence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed indicates whether the request should proceed.
	Allowed bool

	// Remaining is the quota left in the current window.
	Remaining int64

	// Limit is the configured quota the check was made against.
	Limit int64

	// ResetAt is when the key's quota fully resets.
	ResetAt time.Time

	// RetryAfter is how long to wait before a request would be admitted.
	// Zero when Allowed.
	RetryAfter time.Duration

	// Blocked reports that the key is under an escalated block and the
	// algorithm was never consulted.
	Blocked bool

	// Degraded reports a fail-open admission: the limiter hit an internal
	// error and let the request through rather than become an availability
	// risk. Distinct from a normal admission so operators can tell
	// "attacker blocked" from "rate limiter broken".
	Degraded bool

	// Key is the resolved rate limit key.
	Key string

	// Group is the endpoint group that was checked.
	Group string
}

// RetryAfterSeconds returns RetryAfter as whole seconds, rounded up, for the
// Retry-After response header.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// StatsRecorder receives admission outcomes for observability. Counters are
// used for dashboards and capacity planning, never for admission decisions.
type StatsRecorder interface {
	RecordAllowed(group string)
	RecordDenied(group string)
	RecordViolation(group string)
	RecordError(group string)
}

type nopStats struct{}

func (nopStats) RecordAllowed(string)   {}
func (nopStats) RecordDenied(string)    {}
func (nopStats) RecordViolation(string) {}
func (nopStats) RecordError(string)     {}

// group is one endpoint group's compiled configuration.
type group struct {
	name     string
	cfg      GroupConfig
	engine   Engine
	store    Store
	memory   *MemoryStore // nil when backed by a DistributedStore
	resolver Resolver
	weight   WeightFunc
}

// Limiter orchestrates identity resolution, algorithm engines, violation
// escalation and stats for a set of endpoint groups. Each group owns an
// independent store, so the same caller has independent quotas per group.
//
// A Limiter is constructed once at the composition root and passed by
// reference; there is no package-level singleton.
type Limiter struct {
	groups        map[string]*group
	pending       map[string]GroupConfig
	resolver      Resolver
	stats         StatsRecorder
	logger        *zap.Logger
	now           func() time.Time
	remote        DistributedStore
	remoteTimeout time.Duration
}

// NewLimiter builds a limiter from functional options. Configuration
// problems fail here, never at request time.
func NewLimiter(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		groups:   make(map[string]*group),
		pending:  make(map[string]GroupConfig),
		resolver: ResolveIdentity,
		stats:    nopStats{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if len(l.pending) == 0 {
		return nil, fmt.Errorf("%w: at least one endpoint group is required", ErrInvalidConfig)
	}

	for name, cfg := range l.pending {
		g, err := l.buildGroup(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		l.groups[name] = g
	}
	l.pending = nil
	return l, nil
}

func (l *Limiter) buildGroup(name string, cfg GroupConfig) (*group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := engineFor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	g := &group{
		name:     name,
		cfg:      cfg,
		engine:   engine,
		resolver: l.resolver,
		weight:   cfg.Weight,
	}
	if cfg.Resolver != nil {
		g.resolver = cfg.Resolver
	}
	if g.weight == nil {
		g.weight = func(*Request) float64 { return 1 }
	}

	if l.remote != nil {
		g.store = newPrefixedStore(name, NewRemoteStore(l.remote, l.remoteTimeout))
	} else {
		// TTL expiry shares the limiter's clock.
		mem := newMemoryStore(cfg.maxEntries(), l.now)
		g.store = mem
		g.memory = mem
	}
	return g, nil
}

// Check resolves the request's identity and runs the group's admission
// algorithm. It never returns an error: internal failures resolve as
// fail-open admissions with Degraded set.
func (l *Limiter) Check(groupName string, r *Request) Decision {
	g, ok := l.groups[groupName]
	if !ok {
		// Misrouted group names must not take the product down.
		l.logger.Warn("admission check against unknown group, failing open",
			zap.String("group", groupName))
		l.stats.RecordError(groupName)
		return Decision{Allowed: true, Degraded: true, Group: groupName}
	}
	return l.checkKey(g, g.resolver(r), g.weight(r))
}

// CheckKey runs the admission algorithm for an already resolved key with the
// given weight. Only the bucket engines honor fractional weights.
func (l *Limiter) CheckKey(groupName, key string, weight float64) Decision {
	g, ok := l.groups[groupName]
	if !ok {
		l.stats.RecordError(groupName)
		return Decision{Allowed: true, Degraded: true, Group: groupName, Key: key}
	}
	return l.checkKey(g, key, weight)
}

func (l *Limiter) checkKey(g *group, key string, weight float64) Decision {
	now := l.now()
	if key == "" {
		key = "unknown"
	}
	if weight <= 0 {
		weight = 1
	}

	var d Decision
	var becameBlocked bool
	err := g.store.Update(key, g.cfg.entryTTL(), func(e *Entry) error {
		d, becameBlocked = l.decide(g, e, weight, now)
		return nil
	})
	if err != nil {
		// Fail open. The limiter must never become the outage.
		l.stats.RecordError(g.name)
		l.logger.Warn("rate limiter degraded, failing open",
			zap.String("group", g.name),
			zap.String("key", key),
			zap.Error(err))
		return Decision{
			Allowed:  true,
			Degraded: true,
			Limit:    l.limitFor(g),
			Group:    g.name,
			Key:      key,
		}
	}

	d.Group = g.name
	d.Key = key

	if d.Allowed {
		l.stats.RecordAllowed(g.name)
	} else {
		l.stats.RecordDenied(g.name)
		l.stats.RecordViolation(g.name)
	}
	if becameBlocked {
		l.logger.Warn("key escalated to temporary block",
			zap.String("group", g.name),
			zap.String("key", key),
			zap.Time("blocked_until", d.ResetAt),
			zap.Time("at", now))
	}
	return d
}

// decide evaluates one request against an entry. Runs under the key's store
// lock. The second result reports that this denial triggered a new block.
func (l *Limiter) decide(g *group, e *Entry, weight float64, now time.Time) (Decision, bool) {
	limit := l.limitFor(g)

	// An active block dominates every algorithm's decision. Short-circuit
	// without touching engine state so a blocked attacker cannot keep
	// mutating it.
	if e.Blocked(now) {
		e.Violations++
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      limit,
			ResetAt:    e.BlockedUntil,
			RetryAfter: e.BlockedUntil.Sub(now),
			Blocked:    true,
		}, false
	}
	hadBlock := !e.BlockedUntil.IsZero()

	v := g.engine.Admit(e, g.cfg, weight, now)
	d := Decision{
		Allowed:    v.Allowed,
		Remaining:  v.Remaining,
		Limit:      limit,
		ResetAt:    v.ResetAt,
		RetryAfter: v.RetryAfter,
	}

	if v.Allowed {
		// A fresh admitted cycle after an elapsed block clears the slate.
		// A window reset alone never unblocks a key early; BlockedUntil is
		// authoritative and independent of window boundaries.
		if hadBlock && v.FreshWindow {
			e.Violations = 0
			e.BlockedUntil = time.Time{}
		}
		return d, false
	}

	e.Violations++
	if g.cfg.BlockDuration > 0 && e.Violations >= g.cfg.violationThreshold() {
		e.BlockedUntil = now.Add(g.cfg.BlockDuration)
		d.Blocked = true
		d.ResetAt = e.BlockedUntil
		d.RetryAfter = g.cfg.BlockDuration
		return d, true
	}
	return d, false
}

func (l *Limiter) limitFor(g *group) int64 {
	if g.cfg.Algorithm == TokenBucket {
		return g.cfg.burstCapacity()
	}
	return g.cfg.MaxRequests
}

// Reset clears a single key's state in a group, including violations and any
// active block. Administrative override, e.g. to un-penalize a user after a
// successful password change.
func (l *Limiter) Reset(groupName, key string) error {
	g, ok := l.groups[groupName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, groupName)
	}
	if key == "" {
		return ErrInvalidKey
	}
	return g.store.Delete(key)
}

// Groups returns the configured endpoint group names, sorted.
func (l *Limiter) Groups() []string {
	names := make([]string, 0, len(l.groups))
	for name := range l.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupConfigFor returns the configuration of a group.
func (l *Limiter) GroupConfigFor(name string) (GroupConfig, bool) {
	g, ok := l.groups[name]
	if !ok {
		return GroupConfig{}, false
	}
	return g.cfg, true
}

// StartJanitors starts background eviction for every memory-backed group and
// returns a function that stops them all.
func (l *Limiter) StartJanitors(interval time.Duration) func() {
	stops := make([]func(), 0, len(l.groups))
	for _, g := range l.groups {
		if g.memory != nil {
			stops = append(stops, g.memory.StartJanitor(interval))
		}
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
