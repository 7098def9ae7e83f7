package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryBackend is an in-process stand-in for redisBackend: same backend
// interface, same fixed-point math, no network round trip. It exists for
// unit tests, local development, and single-instance deployments — its
// state is local to the process and does not enforce a global limit across
// replicas. Grounded in the teacher's MemoryLimiter, generalized from token
// bucket alone to all three algorithms.
type memoryBackend struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	buckets  map[string]*memBucket
	now      func() time.Time
}

type memCounter struct {
	value       int64
	expireAtSec int64
}

type memBucket struct {
	tokens       int64
	lastRefillMs int64
}

func newMemoryBackend(now func() time.Time) *memoryBackend {
	return &memoryBackend{
		counters: make(map[string]*memCounter),
		buckets:  make(map[string]*memBucket),
		now:      now,
	}
}

func (b *memoryBackend) execFixedWindow(_ context.Context, key string, limitFP int64, window int64, windowEnd int64, costFP int64) (scriptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.counters[key]
	if entry == nil {
		entry = &memCounter{}
		b.counters[key] = entry
	}

	entry.value += costFP
	if entry.value == costFP {
		// First admission into this window: bind expiry to the true
		// window boundary, mirroring the script's EXPIREAT.
		entry.expireAtSec = windowEnd
	}
	if entry.expireAtSec <= 0 {
		entry.expireAtSec = windowEnd
	}

	ttlSec := entry.expireAtSec - b.now().Unix()
	if ttlSec < 0 {
		ttlSec = window
	}

	allowed := entry.value <= limitFP
	remaining := int64(0)
	if allowed {
		remaining = limitFP - entry.value
	}
	return scriptResult{allowed: allowed, remaining: remaining, retryAfterMs: ttlSec * 1000}, nil
}

func (b *memoryBackend) execTokenBucket(_ context.Context, key string, capacityFP int64, window int64, nowMs int64, costFP int64) (scriptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.buckets[key]
	var tokens, lastRefillMs int64
	if bucket == nil {
		tokens, lastRefillMs = capacityFP, nowMs
	} else {
		tokens, lastRefillMs = bucket.tokens, bucket.lastRefillMs
	}

	elapsedMs := nowMs - lastRefillMs
	if elapsedMs < 0 {
		elapsedMs = 0
		lastRefillMs = nowMs
	}
	// Divide last: cross-multiply capacityFP and elapsedMs before dividing
	// by (window * 1000) instead of going through a standalone per-second
	// rate, which would truncate to 0 forever for any rate slower than one
	// scaled unit per second (e.g. 1/hour).
	refill := (capacityFP * elapsedMs) / (window * 1000)
	tokens += refill
	if tokens >= capacityFP {
		tokens = capacityFP
		lastRefillMs = nowMs
	} else {
		// Advance the refill clock only by the time the credited units
		// account for, so the fractional remainder carries into the next call.
		lastRefillMs += ceilDiv(refill*window*1000, capacityFP)
	}

	allowed := false
	var retryAfterMs int64
	if tokens >= costFP {
		allowed = true
		tokens -= costFP
	} else {
		needed := costFP - tokens
		retryAfterMs = ceilDiv(needed*window*1000, capacityFP)
	}

	b.buckets[key] = &memBucket{tokens: tokens, lastRefillMs: lastRefillMs}
	return scriptResult{allowed: allowed, remaining: tokens, retryAfterMs: retryAfterMs}, nil
}

func (b *memoryBackend) execSlidingWindow(_ context.Context, currentKey, previousKey string, limitFP int64, window int64, now int64, costFP int64) (scriptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur, prev int64
	if entry := b.counters[currentKey]; entry != nil {
		cur = entry.value
	}
	if entry := b.counters[previousKey]; entry != nil {
		prev = entry.value
	}

	windowStart := now - (now % window)
	elapsed := now - windowStart
	remainingInWindow := window - elapsed

	prevWeightFP := (remainingInWindow * 1000) / window
	weightedPrev := (prev * prevWeightFP) / 1000
	weighted := cur + weightedPrev

	var allowed bool
	var remaining, retryAfterMs int64

	if weighted+costFP <= limitFP {
		allowed = true
		entry := b.counters[currentKey]
		if entry == nil {
			entry = &memCounter{}
			b.counters[currentKey] = entry
		}
		entry.value += costFP
		entry.expireAtSec = now + 2*window
		cur = entry.value
		weighted = cur + weightedPrev
		remaining = max64(0, limitFP-weighted)
	} else {
		remaining = max64(0, limitFP-weighted)
		avail := limitFP - costFP - cur
		switch {
		case avail < 0:
			retryAfterMs = remainingInWindow * 1000
		case prev == 0:
			retryAfterMs = remainingInWindow * 1000
		default:
			targetElapsedMs := (window * 1000) - (avail*window*1000)/prev
			waitMs := targetElapsedMs - elapsed*1000
			if waitMs < 1000 {
				waitMs = 1000
			}
			capMs := remainingInWindow * 1000
			if waitMs > capMs {
				waitMs = capMs
			}
			retryAfterMs = waitMs
		}
	}

	return scriptResult{allowed: allowed, remaining: remaining, retryAfterMs: retryAfterMs}, nil
}

func (b *memoryBackend) usageFixedWindow(_ context.Context, key string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.counters[key]
	if entry == nil {
		return 0, 0, nil
	}
	ttl := entry.expireAtSec - b.now().Unix()
	return entry.value, ttl, nil
}

func (b *memoryBackend) usageTokenBucket(_ context.Context, key string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.buckets[key]
	if bucket == nil {
		return 0, 0, nil
	}
	return bucket.tokens, bucket.lastRefillMs, nil
}

func (b *memoryBackend) usageSlidingWindow(_ context.Context, currentKey, previousKey string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur, prev int64
	if entry := b.counters[currentKey]; entry != nil {
		cur = entry.value
	}
	if entry := b.counters[previousKey]; entry != nil {
		prev = entry.value
	}
	return cur, prev, nil
}

func (b *memoryBackend) deleteKeys(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range keys {
		delete(b.counters, key)
		delete(b.buckets, key)
	}
	return nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
