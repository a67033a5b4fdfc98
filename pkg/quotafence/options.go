package quotafence

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Limiter.
type Option func(*Limiter) error

// WithGroup registers an endpoint group with its rate limit configuration.
func WithGroup(name string, cfg GroupConfig) Option {
	return func(l *Limiter) error {
		if name == "" {
			return fmt.Errorf("%w: group name cannot be empty", ErrInvalidConfig)
		}
		if _, dup := l.pending[name]; dup {
			return fmt.Errorf("%w: duplicate group %q", ErrInvalidConfig, name)
		}
		l.pending[name] = cfg
		return nil
	}
}

// WithGroups registers several endpoint groups at once, e.g. the result of
// LoadConfigFromFile.
func WithGroups(groups map[string]GroupConfig) Option {
	return func(l *Limiter) error {
		for name, cfg := range groups {
			if err := WithGroup(name, cfg)(l); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithConfigFile registers endpoint groups from a YAML configuration file.
func WithConfigFile(path string) Option {
	return func(l *Limiter) error {
		groups, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		return WithGroups(groups)(l)
	}
}

// WithResolver sets the default identity resolver. Individual groups can
// still override it via GroupConfig.Resolver.
func WithResolver(resolver Resolver) Option {
	return func(l *Limiter) error {
		if resolver == nil {
			return fmt.Errorf("%w: resolver cannot be nil", ErrInvalidConfig)
		}
		l.resolver = resolver
		return nil
	}
}

// WithStats sets the stats recorder receiving admission outcomes.
func WithStats(stats StatsRecorder) Option {
	return func(l *Limiter) error {
		if stats == nil {
			return fmt.Errorf("%w: stats recorder cannot be nil", ErrInvalidConfig)
		}
		l.stats = stats
		return nil
	}
}

// WithLogger sets the logger for fail-open events and escalated blocks.
// Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		l.logger = logger
		return nil
	}
}

// WithDistributedStore backs every group with a shared external store
// instead of per-group in-memory maps. Each call is bounded by timeout;
// on expiry or backend failure checks fail open. A non-positive timeout
// falls back to DefaultRemoteTimeout.
func WithDistributedStore(backend DistributedStore, timeout time.Duration) Option {
	return func(l *Limiter) error {
		if backend == nil {
			return fmt.Errorf("%w: distributed store cannot be nil", ErrInvalidConfig)
		}
		l.remote = backend
		l.remoteTimeout = timeout
		return nil
	}
}

// WithClock overrides the limiter's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		l.now = now
		return nil
	}
}
