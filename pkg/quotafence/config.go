package quotafence

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultViolationThreshold is the number of denials that triggers an
	// escalated block when a group has a block duration configured.
	DefaultViolationThreshold = 3

	// DefaultMaxEntries bounds the in-memory store per group so memory stays
	// bounded under address-spoofing floods.
	DefaultMaxEntries = 4096
)

// WeightFunc resolves the quota weight of a request. Only the token bucket
// and leaky bucket engines honor fractional weights; the window engines
// count every request as one.
type WeightFunc func(r *Request) float64

// GroupConfig is the rate limit configuration for one endpoint group.
type GroupConfig struct {
	// Algorithm selects the admission engine.
	Algorithm Algorithm

	// MaxRequests is the number of requests allowed per Window.
	MaxRequests int64

	// Window is the quota window length.
	Window time.Duration

	// BurstSize is the token bucket capacity. Defaults to MaxRequests.
	// Ignored by the other engines.
	BurstSize int64

	// ViolationThreshold is the number of denials before the key is hard
	// blocked. Defaults to DefaultViolationThreshold. Only takes effect when
	// BlockDuration is set.
	ViolationThreshold int

	// BlockDuration is how long an escalated key stays blocked. Zero
	// disables escalation.
	BlockDuration time.Duration

	// MaxEntries bounds the group's in-memory store. Defaults to
	// DefaultMaxEntries.
	MaxEntries int

	// Weight resolves the per-request quota weight. Defaults to a constant 1.
	Weight WeightFunc

	// Resolver overrides the limiter's identity resolver for this group.
	Resolver Resolver
}

// Validate checks the configuration. Invalid parameters fail fast at
// construction, never at request time.
func (c GroupConfig) Validate() error {
	if _, err := engineFor(c.Algorithm); err != nil {
		return err
	}
	if c.MaxRequests <= 0 {
		return ErrInvalidMaxRequests
	}
	if c.Window <= 0 {
		return ErrInvalidWindow
	}
	if c.BurstSize < 0 {
		return ErrInvalidBurstSize
	}
	if c.ViolationThreshold < 0 {
		return fmt.Errorf("%w: violation threshold must not be negative", ErrInvalidConfig)
	}
	if c.BlockDuration < 0 {
		return fmt.Errorf("%w: block duration must not be negative", ErrInvalidConfig)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("%w: max entries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// burstCapacity returns the token bucket capacity.
func (c GroupConfig) burstCapacity() int64 {
	if c.BurstSize > 0 {
		return c.BurstSize
	}
	return c.MaxRequests
}

// refillPerSecond returns the sustained rate in requests per second.
func (c GroupConfig) refillPerSecond() float64 {
	return float64(c.MaxRequests) / c.Window.Seconds()
}

// violationThreshold returns the effective escalation threshold.
func (c GroupConfig) violationThreshold() int {
	if c.ViolationThreshold > 0 {
		return c.ViolationThreshold
	}
	return DefaultViolationThreshold
}

// maxEntries returns the effective store bound.
func (c GroupConfig) maxEntries() int {
	if c.MaxEntries > 0 {
		return c.MaxEntries
	}
	return DefaultMaxEntries
}

// entryTTL returns the store TTL for the group's entries. Blocked entries
// must outlive their block, otherwise eviction would lift the block early.
func (c GroupConfig) entryTTL() time.Duration {
	ttl := 3 * c.Window
	if c.BlockDuration > 0 && c.BlockDuration+c.Window > ttl {
		ttl = c.BlockDuration + c.Window
	}
	return ttl
}

// FileConfig is the YAML representation of a limiter configuration.
//
// Example:
//
//	groups:
//	  auth-login:
//	    algorithm: sliding_window
//	    max_requests: 5
//	    window: 1m
//	    violation_threshold: 3
//	    block_duration: 15m
//	  general-api:
//	    algorithm: token_bucket
//	    max_requests: 60
//	    window: 1m
//	    burst_size: 10
type FileConfig struct {
	Groups map[string]GroupFileConfig `yaml:"groups"`
}

// GroupFileConfig is the YAML representation of one group's configuration.
// Durations are strings in time.ParseDuration format ("500ms", "1m", "1h").
type GroupFileConfig struct {
	Algorithm          string `yaml:"algorithm"`
	MaxRequests        int64  `yaml:"max_requests"`
	Window             string `yaml:"window"`
	BurstSize          int64  `yaml:"burst_size,omitempty"`
	ViolationThreshold int    `yaml:"violation_threshold,omitempty"`
	BlockDuration      string `yaml:"block_duration,omitempty"`
	MaxEntries         int    `yaml:"max_entries,omitempty"`
}

// ToGroupConfig converts the YAML form into a validated GroupConfig.
func (g GroupFileConfig) ToGroupConfig() (GroupConfig, error) {
	algo, err := ParseAlgorithm(g.Algorithm)
	if err != nil {
		return GroupConfig{}, err
	}

	window, err := time.ParseDuration(g.Window)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("%w: bad window %q: %v", ErrInvalidConfig, g.Window, err)
	}

	var blockFor time.Duration
	if g.BlockDuration != "" {
		blockFor, err = time.ParseDuration(g.BlockDuration)
		if err != nil {
			return GroupConfig{}, fmt.Errorf("%w: bad block_duration %q: %v", ErrInvalidConfig, g.BlockDuration, err)
		}
	}

	cfg := GroupConfig{
		Algorithm:          algo,
		MaxRequests:        g.MaxRequests,
		Window:             window,
		BurstSize:          g.BurstSize,
		ViolationThreshold: g.ViolationThreshold,
		BlockDuration:      blockFor,
		MaxEntries:         g.MaxEntries,
	}
	if err := cfg.Validate(); err != nil {
		return GroupConfig{}, err
	}
	return cfg, nil
}

// LoadConfigFromFile loads per-group configurations from a YAML file.
func LoadConfigFromFile(path string) (map[string]GroupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}
	if len(fc.Groups) == 0 {
		return nil, fmt.Errorf("%w: no endpoint groups defined", ErrInvalidConfig)
	}

	groups := make(map[string]GroupConfig, len(fc.Groups))
	for name, g := range fc.Groups {
		cfg, err := g.ToGroupConfig()
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		groups[name] = cfg
	}
	return groups, nil
}
