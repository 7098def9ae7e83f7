// Package ratelimit provides distributed and local rate limiting across
// three algorithms: fixed window, token bucket, and sliding window.
//
// The primary entry point is the Engine interface:
//
//	res, err := engine.Check(ctx, id, "100/minute")
//
// The returned CheckResult reports whether the request is allowed, how many
// units remain, and timing hints for callers that want to set rate-limit
// headers (for example, Retry-After).
//
// # Overview
//
//   - Fixed window: a counter per epoch-aligned time slice. Simple and cheap,
//     but permits up to 2x the limit across a window boundary.
//   - Token bucket: a bucket that refills continuously up to a capacity.
//     Smooths bursts while enforcing a long-term average rate.
//   - Sliding window: a weighted average of the current and previous fixed
//     windows, approximating a true sliding window without storing every
//     request timestamp.
//
// # Core Types
//
// RatePolicy is a parsed rate string ("100/minute", "5/second", "1/hour"):
// Limit units per Window. Identity is who is being limited, split into ID
// (the identifier itself) and Tenant (an optional isolation scope so the
// same ID in two tenants never shares a budget).
//
// # Backends
//
// The package provides two implementations of Engine with the same Check
// API:
//
//   - MemoryEngine (NewMemoryEngine): an in-process engine backed by Go
//     maps. Useful for unit tests, local development, and single-instance
//     deployments. Because its state is local to the process, it does not
//     enforce a global limit across multiple replicas.
//
//   - RedisEngine (NewRedisEngine, NewRedisEngineFromURL): a distributed
//     engine backed by Redis. Each algorithm runs as a single Lua script so
//     the read/compute/write cycle is atomic, making it safe to use across
//     many application instances while enforcing one global budget per
//     identity.
//
// Recommendation: use a Redis-backed engine in production when you need a
// global limit, and MemoryEngine in tests as a fast, dependency-free
// stand-in with identical arithmetic.
//
// # Fixed-Point Arithmetic
//
// All three scripts operate on integers scaled by Scale (1000), never on
// floats, so a rate like "1/hour" refills fractional tokens per second
// without any two Redis nodes or Lua interpreter versions ever disagreeing
// on a division's rounding. Every division inside a script is a floored
// integer division taken after the multiplications it depends on; dividing
// by Scale happens once, at the point a value is reported back to the caller.
//
// # Concurrency
//
// MemoryEngine is safe for concurrent use (a mutex guards its internal
// maps). RedisEngine delegates concurrency safety to Redis and the
// go-redis client; the process-local script-handle cache is published
// through an atomic.Pointer so a concurrent reload during the
// reload-on-NOSCRIPT path is never observed half-written.
//
// # Context and Error Policy
//
// Check accepts a context.Context; RedisEngine passes it through to every
// Redis operation so callers can enforce deadlines. This package does not
// impose a fail-open vs fail-closed policy: if Redis is unavailable, Check
// returns a non-nil error wrapping ErrBackendUnavailable, and the caller
// decides whether to deny traffic or let it through.
//
// A denied request is not, by itself, an error: CheckResult.Allowed
// distinguishes an expected deny from a fault. Callers that prefer
// exception-style control flow can use CheckOrDeny, which returns a
// *LimitExceededError on deny instead.
//
// # Storage Details
//
// MemoryEngine stores state in process-local maps keyed the same way
// RedisEngine derives its keys. RedisEngine stores fixed-window and
// sliding-window state as plain integer counters, and token-bucket state as
// a Redis hash with two fields:
//
//   - "tokens": current token balance, fixed-point
//   - "last_refill_ms": last refill timestamp, epoch milliseconds
//
// Every key set by a script carries a TTL so identities that stop sending
// requests don't leak memory in Redis.
//
// # Limitations and Notes
//
//   - MemoryEngine does not evict old identities; long-lived processes with
//     high-cardinality keys should prefer RedisEngine.
//   - RedisEngine uses EVALSHA; a script evicted from Redis's cache
//     (SCRIPT FLUSH, a restart without persistence) is transparently
//     reloaded and retried once before the call fails.
//   - Identifiers and tenant tags longer than the configured key budget
//     have their tail replaced by a content hash rather than being
//     rejected.
//
// # Configuration
//
// Both engines are configured using the functional options pattern:
//
//	engine, _ := ratelimit.NewRedisEngine(client,
//		ratelimit.WithPrefix("myapp:rate"),
//		ratelimit.WithTimeout(2*time.Second),
//		ratelimit.WithRecorder(myMetrics),
//	)
//
// Supported options: WithPrefix, WithTimeout, WithRecorder,
// WithDefaultAlgorithm, WithPoolSize (NewRedisEngineFromURL only),
// WithLogger, WithNow (test determinism).
package ratelimit
