package ratelimit

import (
	"log/slog"
	"time"
)

// engineConfig holds everything the functional options configure. Every
// engine built by NewRedisEngine, NewRedisEngineFromURL or NewMemoryEngine
// holds one; an option that doesn't apply to a
// given backend (e.g. WithPoolSize on MemoryEngine) is simply inert rather
// than an error, matching the teacher's tolerant option style.
type engineConfig struct {
	prefix           string
	timeout          time.Duration
	recorder         MetricsRecorder
	defaultAlgorithm Algorithm
	poolSize         int
	logger           *slog.Logger
	now              func() time.Time
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		prefix:           "ratelimit",
		timeout:          5 * time.Second,
		recorder:         noOpMetricsRecorder{},
		defaultAlgorithm: FixedWindow,
		poolSize:         50,
		logger:           slog.Default(),
		now:              time.Now,
	}
}

// Option configures an engine at construction time.
type Option func(*engineConfig)

// WithPrefix sets the key prefix prepended to every derived key (default
// "ratelimit").
func WithPrefix(prefix string) Option {
	return func(c *engineConfig) { c.prefix = prefix }
}

// WithTimeout sets the per-call timeout applied to store operations
// (default 5s). It has no effect on MemoryEngine, which never blocks.
func WithTimeout(d time.Duration) Option {
	return func(c *engineConfig) { c.timeout = d }
}

// WithRecorder injects a MetricsRecorder. Without it, metrics calls are
// no-ops.
func WithRecorder(r MetricsRecorder) Option {
	return func(c *engineConfig) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithDefaultAlgorithm sets the algorithm used when a call site doesn't
// specify one via WithAlgorithm (default FixedWindow).
func WithDefaultAlgorithm(a Algorithm) Option {
	return func(c *engineConfig) { c.defaultAlgorithm = a }
}

// WithPoolSize sets the maximum number of concurrent store connections.
// Only honored by NewRedisEngineFromURL, which owns client construction;
// NewRedisEngine takes an already-constructed *redis.Client, so its pool
// size is the caller's responsibility.
func WithPoolSize(n int) Option {
	return func(c *engineConfig) { c.poolSize = n }
}

// WithLogger sets the structured logger. Only the Redis backend's
// reload-on-NOSCRIPT path logs through it; connection setup failures and
// infrastructural faults are returned as errors and are not logged. Never
// used on the per-decision hot path — that's what WithRecorder is for.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNow overrides the engine's clock. Intended for deterministic tests;
// production callers should never need it.
func WithNow(fn func() time.Time) Option {
	return func(c *engineConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}
