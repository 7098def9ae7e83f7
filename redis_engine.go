package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisEngine wraps an already-constructed *redis.Client. Use this when
// the caller already owns Redis connection lifecycle (shared pool, custom
// TLS, cluster client) and just wants rate limiting layered on top of it.
// It loads all three scripts eagerly so the first Check never pays a
// cold-cache round trip.
func NewRedisEngine(client *redis.Client, opts ...Option) (Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: redis client is nil")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	be, err := newRedisBackend(ctx, client, cfg.timeout, cfg.logger)
	if err != nil {
		return nil, err
	}

	return &coreEngine{
		backend: be,
		keys:    newKeyBuilder(cfg.prefix),
		cfg:     cfg,
	}, nil
}

// NewRedisEngineFromURL parses storeURL (a redis:// or rediss:// URL, the
// same form accepted by redis.ParseURL) and owns the resulting client's
// lifecycle. This is the constructor that honors WithPoolSize, since it is
// the one building the client rather than receiving it pre-built.
func NewRedisEngineFromURL(storeURL string, opts ...Option) (Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	redisOpts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse store url: %w", err)
	}
	redisOpts.PoolSize = cfg.poolSize

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	be, err := newRedisBackend(ctx, client, cfg.timeout, cfg.logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &coreEngine{
		backend: be,
		keys:    newKeyBuilder(cfg.prefix),
		cfg:     cfg,
	}, nil
}

// NewMemoryEngine constructs an Engine backed by process-local state. It
// never blocks and never returns ErrBackendUnavailable or ErrScriptFailure;
// it exists for tests, local development, and single-instance deployments
// that don't need cross-replica enforcement.
func NewMemoryEngine(opts ...Option) Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &coreEngine{
		backend: newMemoryBackend(cfg.now),
		keys:    newKeyBuilder(cfg.prefix),
		cfg:     cfg,
	}
}
