// Package metrics aggregates admission outcomes per endpoint group. Counters
// feed dashboards and capacity planning; they are never consulted for
// admission decisions.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks per-group admission statistics. It implements the
// limiter's StatsRecorder interface. All methods are safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	groups    map[string]*groupCounters
	startTime time.Time
}

type groupCounters struct {
	allowed    atomic.Int64
	denied     atomic.Int64
	violations atomic.Int64
	errors     atomic.Int64
}

// GroupStats is a point-in-time view of one group's counters.
type GroupStats struct {
	Group      string `json:"group"`
	Allowed    int64  `json:"allowed"`
	Denied     int64  `json:"denied"`
	Violations int64  `json:"violations"`
	Errors     int64  `json:"errors"`
}

// Snapshot is a point-in-time view of every group.
type Snapshot struct {
	Groups        []GroupStats `json:"groups"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     time.Time    `json:"start_time"`
}

// NewCollector creates a stats collector.
func NewCollector() *Collector {
	return &Collector{
		groups:    make(map[string]*groupCounters),
		startTime: time.Now(),
	}
}

// RecordAllowed counts an admitted request.
func (c *Collector) RecordAllowed(group string) { c.counters(group).allowed.Add(1) }

// RecordDenied counts a denied request.
func (c *Collector) RecordDenied(group string) { c.counters(group).denied.Add(1) }

// RecordViolation counts a denial accumulating toward an escalated block.
func (c *Collector) RecordViolation(group string) { c.counters(group).violations.Add(1) }

// RecordError counts a fail-open event, kept separate from denials so
// operators can tell a degraded limiter from a blocked attacker.
func (c *Collector) RecordError(group string) { c.counters(group).errors.Add(1) }

// Group returns the counters for one endpoint group. The second result is
// false when the group has recorded nothing yet.
func (c *Collector) Group(name string) (GroupStats, bool) {
	c.mu.RLock()
	gc, ok := c.groups[name]
	c.mu.RUnlock()
	if !ok {
		return GroupStats{}, false
	}
	return gc.stats(name), true
}

// GetSnapshot returns the counters for every group.
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]GroupStats, 0, len(c.groups))
	for name, gc := range c.groups {
		groups = append(groups, gc.stats(name))
	}
	sortByGroup(groups)

	return &Snapshot{
		Groups:        groups,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		StartTime:     c.startTime,
	}
}

// Reset zeroes the counters of one group.
func (c *Collector) Reset(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, group)
}

func (c *Collector) counters(group string) *groupCounters {
	c.mu.RLock()
	gc, ok := c.groups[group]
	c.mu.RUnlock()
	if ok {
		return gc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok = c.groups[group]; ok {
		return gc
	}
	gc = &groupCounters{}
	c.groups[group] = gc
	return gc
}

func (gc *groupCounters) stats(name string) GroupStats {
	return GroupStats{
		Group:      name,
		Allowed:    gc.allowed.Load(),
		Denied:     gc.denied.Load(),
		Violations: gc.violations.Load(),
		Errors:     gc.errors.Load(),
	}
}

func sortByGroup(groups []GroupStats) {
	for i := 0; i < len(groups)-1; i++ {
		for j := i + 1; j < len(groups); j++ {
			if groups[j].Group < groups[i].Group {
				groups[i], groups[j] = groups[j], groups[i]
			}
		}
	}
}
