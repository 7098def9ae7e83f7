package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/fixed_window.lua
var fixedWindowScript string

//go:embed scripts/token_bucket.lua
var tokenBucketScript string

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

var scriptBodies = map[Algorithm]string{
	FixedWindow:   fixedWindowScript,
	TokenBucket:   tokenBucketScript,
	SlidingWindow: slidingWindowScript,
}

// redisBackend executes the three algorithm scripts atomically against
// Redis via EVALSHA, with reload-on-NOSCRIPT retried exactly once. Each
// script is loaded once per process lifetime, yielding a content-addressed
// handle assigned by Redis (its SHA-1); subsequent calls reference that
// handle instead of retransmitting the script body.
type redisBackend struct {
	client  *redis.Client
	timeout time.Duration
	logger  *slog.Logger

	// shas is published atomically so concurrent callers never observe a
	// torn handle map during the reload-on-NOSCRIPT path.
	shas atomic.Pointer[map[Algorithm]string]
}

func newRedisBackend(ctx context.Context, client *redis.Client, timeout time.Duration, logger *slog.Logger) (*redisBackend, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: connect: %w", wrapBackendError(err))
	}

	shas := make(map[Algorithm]string, len(scriptBodies))
	for algo, body := range scriptBodies {
		sha, err := client.ScriptLoad(ctx, body).Result()
		if err != nil {
			return nil, fmt.Errorf("ratelimit: load script %s: %w", algo, wrapBackendError(err))
		}
		shas[algo] = sha
	}

	b := &redisBackend{client: client, timeout: timeout, logger: logger}
	b.shas.Store(&shas)
	return b, nil
}

// runScript executes algo's script via EVALSHA, reloading and retrying
// exactly once on NOSCRIPT. A second failure is fatal and surfaces as
// ErrScriptFailure; connection-level errors surface unchanged as
// ErrBackendUnavailable.
func (b *redisBackend) runScript(ctx context.Context, algo Algorithm, keys []string, argv ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	sha := (*b.shas.Load())[algo]
	result, err := b.client.EvalSha(ctx, sha, keys, argv...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("ratelimit: script %s returned no result: %w", algo, ErrScriptFailure)
		}
		if isNoScript(err) {
			b.logger.Warn("ratelimit: script missing from cache, reloading", "algorithm", algo)
			newSHA, loadErr := b.client.ScriptLoad(ctx, scriptBodies[algo]).Result()
			if loadErr != nil {
				return nil, fmt.Errorf("ratelimit: reload script %s: %w", algo, wrapBackendError(loadErr))
			}
			current := *b.shas.Load()
			updated := make(map[Algorithm]string, len(current))
			for k, v := range current {
				updated[k] = v
			}
			updated[algo] = newSHA
			b.shas.Store(&updated)

			result, err = b.client.EvalSha(ctx, newSHA, keys, argv...).Result()
			if err != nil {
				return nil, fmt.Errorf("ratelimit: script %s failed after reload: %w", algo, ErrScriptFailure)
			}
		} else {
			return nil, fmt.Errorf("ratelimit: script %s: %w", algo, wrapBackendError(err))
		}
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("ratelimit: script %s returned unexpected shape: %w", algo, ErrScriptFailure)
	}
	return values, nil
}

func isNoScript(err error) bool {
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	msg := rerr.Error()
	return len(msg) >= 8 && msg[:8] == "NOSCRIPT"
}

func wrapBackendError(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func toScriptResult(values []interface{}) (scriptResult, error) {
	allowed, err := toInt64(values[0])
	if err != nil {
		return scriptResult{}, fmt.Errorf("ratelimit: %w", ErrScriptFailure)
	}
	remaining, err := toInt64(values[1])
	if err != nil {
		return scriptResult{}, fmt.Errorf("ratelimit: %w", ErrScriptFailure)
	}
	retryAfterMs, err := toInt64(values[2])
	if err != nil {
		return scriptResult{}, fmt.Errorf("ratelimit: %w", ErrScriptFailure)
	}
	return scriptResult{allowed: allowed == 1, remaining: remaining, retryAfterMs: retryAfterMs}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		var out int64
		_, err := fmt.Sscanf(n, "%d", &out)
		return out, err
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}

func (b *redisBackend) execFixedWindow(ctx context.Context, key string, limitFP int64, window int64, windowEnd int64, costFP int64) (scriptResult, error) {
	values, err := b.runScript(ctx, FixedWindow, []string{key}, limitFP, window, windowEnd, costFP)
	if err != nil {
		return scriptResult{}, err
	}
	return toScriptResult(values)
}

func (b *redisBackend) execTokenBucket(ctx context.Context, key string, capacityFP int64, window int64, nowMs int64, costFP int64) (scriptResult, error) {
	values, err := b.runScript(ctx, TokenBucket, []string{key}, capacityFP, window, nowMs, costFP)
	if err != nil {
		return scriptResult{}, err
	}
	return toScriptResult(values)
}

func (b *redisBackend) execSlidingWindow(ctx context.Context, currentKey, previousKey string, limitFP int64, window int64, now int64, costFP int64) (scriptResult, error) {
	values, err := b.runScript(ctx, SlidingWindow, []string{currentKey, previousKey}, limitFP, window, now, costFP)
	if err != nil {
		return scriptResult{}, err
	}
	return toScriptResult(values)
}

func (b *redisBackend) usageFixedWindow(ctx context.Context, key string) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	pipe := b.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, wrapBackendError(err)
	}

	count, err := getCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, wrapBackendError(err)
	}
	ttl := ttlCmd.Val()
	return count, int64(ttl / time.Second), nil
}

func (b *redisBackend) usageTokenBucket(ctx context.Context, key string) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	values, err := b.client.HMGet(ctx, key, "tokens", "last_refill_ms").Result()
	if err != nil {
		return 0, 0, wrapBackendError(err)
	}
	if values[0] == nil || values[1] == nil {
		return 0, 0, nil
	}
	tokens, err := toInt64FromAny(values[0])
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: %w", ErrScriptFailure)
	}
	lastRefillMs, err := toInt64FromAny(values[1])
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: %w", ErrScriptFailure)
	}
	return tokens, lastRefillMs, nil
}

func toInt64FromAny(v interface{}) (int64, error) {
	switch n := v.(type) {
	case string:
		var out int64
		_, err := fmt.Sscanf(n, "%d", &out)
		return out, err
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}

func (b *redisBackend) usageSlidingWindow(ctx context.Context, currentKey, previousKey string) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	pipe := b.client.Pipeline()
	curCmd := pipe.Get(ctx, currentKey)
	prevCmd := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, wrapBackendError(err)
	}

	cur, err := curCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, wrapBackendError(err)
	}
	prev, err := prevCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, wrapBackendError(err)
	}
	return cur, prev, nil
}

func (b *redisBackend) deleteKeys(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return wrapBackendError(err)
	}
	return nil
}
