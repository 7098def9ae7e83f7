package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Engine is the facade collaborators consume: parse once, derive keys,
// dispatch to the selected algorithm, rescale, and return a CheckResult.
type Engine interface {
	// Check decides whether a request may proceed. A deny is reported via
	// CheckResult.Allowed being false, not via the error return — err is
	// reserved for programmer and infrastructural faults.
	Check(ctx context.Context, id Identity, rate string, opts ...CheckOption) (CheckResult, error)

	// CheckOrDeny is Check, except a deny is reported as a
	// *LimitExceededError instead of CheckResult.Allowed == false. Use this
	// when exception-style control flow reads better at the call site.
	CheckOrDeny(ctx context.Context, id Identity, rate string, opts ...CheckOption) (CheckResult, error)

	// GetUsage is a read-only snapshot of the algorithm's current state. It
	// never mutates store state.
	GetUsage(ctx context.Context, id Identity, rate string, opts ...CheckOption) (Usage, error)

	// Reset deletes the algorithm's key(s) for this identity. Resetting a
	// non-existent key is a no-op, not an error.
	Reset(ctx context.Context, id Identity, rate string, opts ...CheckOption) error
}

// coreEngine implements Engine over a backend (redisBackend or
// memoryBackend). It is the only place algorithm dispatch happens; backends
// never see an Algorithm tag, only the method that corresponds to it.
type coreEngine struct {
	backend backend
	keys    *keyBuilder
	cfg     engineConfig
}

func resolveParams(cfg engineConfig, opts []CheckOption) checkParams {
	p := checkParams{algorithm: cfg.defaultAlgorithm, cost: 1}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (e *coreEngine) Check(ctx context.Context, id Identity, rate string, opts ...CheckOption) (CheckResult, error) {
	start := time.Now()
	result, err := e.check(ctx, id, rate, opts...)
	e.cfg.recorder.Add("ratelimit.call", 1, map[string]string{"allowed": fmt.Sprint(result.Allowed)})
	e.cfg.recorder.Observe("ratelimit.latency", time.Since(start).Seconds(), nil)
	return result, err
}

func (e *coreEngine) CheckOrDeny(ctx context.Context, id Identity, rate string, opts ...CheckOption) (CheckResult, error) {
	result, err := e.Check(ctx, id, rate, opts...)
	if err != nil {
		return result, err
	}
	if !result.Allowed {
		return result, &LimitExceededError{
			Limit:      result.Limit,
			Remaining:  result.Remaining,
			RetryAfter: result.RetryAfter,
		}
	}
	return result, nil
}

func (e *coreEngine) check(ctx context.Context, id Identity, rate string, opts ...CheckOption) (CheckResult, error) {
	policy, err := ParseRate(rate)
	if err != nil {
		return CheckResult{}, err
	}
	params := resolveParams(e.cfg, opts)
	if !params.algorithm.valid() {
		return CheckResult{}, fmt.Errorf("ratelimit: %q: %w", params.algorithm, ErrUnknownAlgorithm)
	}
	if err := validateCost(params.cost); err != nil {
		return CheckResult{}, err
	}

	now := e.cfg.now()
	windowSeconds := int64(policy.Window / time.Second)
	costFP := toFixedPoint(params.cost)
	limitFP := toFixedPoint(policy.Limit)

	switch params.algorithm {
	case FixedWindow:
		windowStart := now.Unix() - (now.Unix() % windowSeconds)
		windowEnd := windowStart + windowSeconds
		key := e.keys.fixedWindowKey(id, windowStart)
		res, err := e.backend.execFixedWindow(ctx, key, limitFP, windowSeconds, windowEnd, costFP)
		if err != nil {
			return CheckResult{}, err
		}
		return CheckResult{
			Allowed:    res.allowed,
			Limit:      policy.Limit,
			Remaining:  fromFixedPoint(res.remaining),
			RetryAfter: time.Duration(res.retryAfterMs) * time.Millisecond,
			ResetAt:    time.Unix(windowEnd, 0),
		}, nil

	case TokenBucket:
		nowMs := now.UnixMilli()
		key := e.keys.tokenBucketKey(id)
		res, err := e.backend.execTokenBucket(ctx, key, limitFP, windowSeconds, nowMs, costFP)
		if err != nil {
			return CheckResult{}, err
		}
		resetAt := now.Add(time.Duration(res.retryAfterMs) * time.Millisecond)
		return CheckResult{
			Allowed:    res.allowed,
			Limit:      policy.Limit,
			Remaining:  fromFixedPoint(res.remaining),
			RetryAfter: time.Duration(res.retryAfterMs) * time.Millisecond,
			ResetAt:    resetAt,
		}, nil

	case SlidingWindow:
		windowStart := now.Unix() - (now.Unix() % windowSeconds)
		currentKey, previousKey := e.keys.slidingWindowKeys(id, windowStart, windowSeconds)
		res, err := e.backend.execSlidingWindow(ctx, currentKey, previousKey, limitFP, windowSeconds, now.Unix(), costFP)
		if err != nil {
			return CheckResult{}, err
		}
		return CheckResult{
			Allowed:    res.allowed,
			Limit:      policy.Limit,
			Remaining:  fromFixedPoint(res.remaining),
			RetryAfter: time.Duration(res.retryAfterMs) * time.Millisecond,
			ResetAt:    time.Unix(windowStart+windowSeconds, 0),
		}, nil

	default:
		return CheckResult{}, fmt.Errorf("ratelimit: %q: %w", params.algorithm, ErrUnknownAlgorithm)
	}
}

func (e *coreEngine) GetUsage(ctx context.Context, id Identity, rate string, opts ...CheckOption) (Usage, error) {
	policy, err := ParseRate(rate)
	if err != nil {
		return Usage{}, err
	}
	params := resolveParams(e.cfg, opts)
	if !params.algorithm.valid() {
		return Usage{}, fmt.Errorf("ratelimit: %q: %w", params.algorithm, ErrUnknownAlgorithm)
	}

	now := e.cfg.now()
	windowSeconds := int64(policy.Window / time.Second)

	switch params.algorithm {
	case FixedWindow:
		windowStart := now.Unix() - (now.Unix() % windowSeconds)
		windowEnd := windowStart + windowSeconds
		key := e.keys.fixedWindowKey(id, windowStart)
		countFP, ttl, err := e.backend.usageFixedWindow(ctx, key)
		if err != nil {
			return Usage{}, err
		}
		current := fromFixedPoint(countFP)
		resetAt := time.Unix(windowEnd, 0)
		if ttl > 0 {
			resetAt = now.Add(time.Duration(ttl) * time.Second)
		}
		return Usage{
			Algorithm: FixedWindow,
			Limit:     policy.Limit,
			Current:   current,
			Remaining: max64(0, policy.Limit-current),
			ResetAt:   resetAt,
		}, nil

	case TokenBucket:
		key := e.keys.tokenBucketKey(id)
		tokensFP, lastRefillMs, err := e.backend.usageTokenBucket(ctx, key)
		if err != nil {
			return Usage{}, err
		}
		limitFP := toFixedPoint(policy.Limit)
		if tokensFP == 0 && lastRefillMs == 0 {
			// Missing bucket: virtually full, as if never touched.
			tokensFP = limitFP
		} else {
			elapsedMs := now.UnixMilli() - lastRefillMs
			if elapsedMs > 0 {
				// Deferred division: cross-multiply before dividing so a
				// slow rate (e.g. limitFP=1000, window=3600) never
				// truncates to a permanently-zero refill rate.
				tokensFP += (limitFP * elapsedMs) / (windowSeconds * 1000)
				if tokensFP > limitFP {
					tokensFP = limitFP
				}
			}
		}
		current := fromFixedPoint(tokensFP)
		return Usage{
			Algorithm: TokenBucket,
			Limit:     policy.Limit,
			Current:   current,
			Remaining: current,
			ResetAt:   now,
		}, nil

	case SlidingWindow:
		windowStart := now.Unix() - (now.Unix() % windowSeconds)
		currentKey, previousKey := e.keys.slidingWindowKeys(id, windowStart, windowSeconds)
		curFP, prevFP, err := e.backend.usageSlidingWindow(ctx, currentKey, previousKey)
		if err != nil {
			return Usage{}, err
		}
		elapsed := now.Unix() - windowStart
		remainingInWindow := windowSeconds - elapsed
		prevWeightFP := (remainingInWindow * 1000) / windowSeconds
		weightedPrevFP := (prevFP * prevWeightFP) / 1000
		weightedFP := curFP + weightedPrevFP
		weighted := fromFixedPoint(weightedFP)
		return Usage{
			Algorithm: SlidingWindow,
			Limit:     policy.Limit,
			Current:   weighted,
			Remaining: max64(0, policy.Limit-weighted),
			ResetAt:   time.Unix(windowStart+windowSeconds, 0),
		}, nil

	default:
		return Usage{}, fmt.Errorf("ratelimit: %q: %w", params.algorithm, ErrUnknownAlgorithm)
	}
}

func (e *coreEngine) Reset(ctx context.Context, id Identity, rate string, opts ...CheckOption) error {
	policy, err := ParseRate(rate)
	if err != nil {
		return err
	}
	params := resolveParams(e.cfg, opts)
	if !params.algorithm.valid() {
		return fmt.Errorf("ratelimit: %q: %w", params.algorithm, ErrUnknownAlgorithm)
	}

	now := e.cfg.now()
	windowSeconds := int64(policy.Window / time.Second)

	switch params.algorithm {
	case FixedWindow:
		windowStart := now.Unix() - (now.Unix() % windowSeconds)
		return e.backend.deleteKeys(ctx, e.keys.fixedWindowKey(id, windowStart))
	case TokenBucket:
		return e.backend.deleteKeys(ctx, e.keys.tokenBucketKey(id))
	case SlidingWindow:
		windowStart := now.Unix() - (now.Unix() % windowSeconds)
		currentKey, previousKey := e.keys.slidingWindowKeys(id, windowStart, windowSeconds)
		return e.backend.deleteKeys(ctx, currentKey, previousKey)
	default:
		return fmt.Errorf("ratelimit: %q: %w", params.algorithm, ErrUnknownAlgorithm)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
