package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEngine_FixedWindow_Exhaustion(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	engine := NewMemoryEngine(WithNow(fixedClock(base)))
	id := Identity{ID: "user_1"}

	for i := 0; i < 5; i++ {
		res, err := engine.Check(context.Background(), id, "5/second", WithAlgorithm(FixedWindow))
		require.NoError(t, err)
		require.Truef(t, res.Allowed, "request %d unexpectedly denied", i)
	}

	res, err := engine.Check(context.Background(), id, "5/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, int64(0), res.Remaining)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestEngine_FixedWindow_ResetsAtBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		res, err := engine.Check(context.Background(), id, "3/second", WithAlgorithm(FixedWindow))
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := engine.Check(context.Background(), id, "3/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.False(t, res.Allowed)

	now = now.Add(time.Second)
	res, err = engine.Check(context.Background(), id, "3/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestEngine_TokenBucket_BurstThenRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(func() time.Time { return now }))

	for i := 0; i < 10; i++ {
		res, err := engine.Check(context.Background(), id, "10/second", WithAlgorithm(TokenBucket))
		require.NoError(t, err)
		require.Truef(t, res.Allowed, "burst request %d unexpectedly denied", i)
	}

	res, err := engine.Check(context.Background(), id, "10/second", WithAlgorithm(TokenBucket))
	require.NoError(t, err)
	require.False(t, res.Allowed)

	now = now.Add(150 * time.Millisecond)
	res, err = engine.Check(context.Background(), id, "10/second", WithAlgorithm(TokenBucket))
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestEngine_TokenBucket_LowRateDoesNotStarve(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(func() time.Time { return now }))

	res, err := engine.Check(context.Background(), id, "1/hour", WithAlgorithm(TokenBucket))
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = engine.Check(context.Background(), id, "1/hour", WithAlgorithm(TokenBucket))
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// A couple of seconds is nowhere near a full refill at 1/hour.
	now = now.Add(2 * time.Second)
	res, err = engine.Check(context.Background(), id, "1/hour", WithAlgorithm(TokenBucket))
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// At the full window (1 hour), the bucket must have refilled exactly
	// one token — a pre-floored per-second refill rate (1000/3600 == 0)
	// would deny this forever instead.
	now = now.Add(3_600*time.Second - 2*time.Second)
	res, err = engine.Check(context.Background(), id, "1/hour", WithAlgorithm(TokenBucket))
	require.NoError(t, err)
	require.True(t, res.Allowed, "token bucket must refill after a full window even at very low rates")
}

func TestEngine_SlidingWindow_WeightsPreviousWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	base = base.Add(-time.Duration(base.Unix()%60) * time.Second) // align to a minute boundary
	now := base
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(func() time.Time { return now }))

	for i := 0; i < 10; i++ {
		res, err := engine.Check(context.Background(), id, "10/minute", WithAlgorithm(SlidingWindow))
		require.NoError(t, err)
		require.Truef(t, res.Allowed, "request %d in first window unexpectedly denied", i)
	}

	// Cross into the next window right at its start: the weighted average
	// still counts all of the previous window's 10 requests, so an
	// immediate 11th request should still be denied.
	now = base.Add(60 * time.Second)
	res, err := engine.Check(context.Background(), id, "10/minute", WithAlgorithm(SlidingWindow))
	require.NoError(t, err)
	require.False(t, res.Allowed, "previous window's load should still weigh in near the boundary")

	// 50 seconds into the new window, the previous window's weight has
	// decayed enough that fresh capacity opens up.
	now = base.Add(110 * time.Second)
	res, err = engine.Check(context.Background(), id, "10/minute", WithAlgorithm(SlidingWindow))
	require.NoError(t, err)
	require.True(t, res.Allowed, "previous window's weight should have decayed by then")
}

func TestEngine_CheckOrDeny_ReturnsLimitExceededError(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(fixedClock(base)))

	_, err := engine.Check(context.Background(), id, "1/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)

	_, err = engine.CheckOrDeny(context.Background(), id, "1/second", WithAlgorithm(FixedWindow))
	require.Error(t, err)

	var denied *LimitExceededError
	require.True(t, errors.As(err, &denied))
	require.Equal(t, int64(1), denied.Limit)
}

func TestEngine_TenantIsolation(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	engine := NewMemoryEngine(WithNow(fixedClock(base)))

	a := Identity{ID: "user_1", Tenant: "tenant_a"}
	b := Identity{ID: "user_1", Tenant: "tenant_b"}

	res, err := engine.Check(context.Background(), a, "1/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = engine.Check(context.Background(), b, "1/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.True(t, res.Allowed, "tenant_b shares no budget with tenant_a")
}

func TestEngine_MalformedRate(t *testing.T) {
	engine := NewMemoryEngine()
	_, err := engine.Check(context.Background(), Identity{ID: "u"}, "not-a-rate")
	require.ErrorIs(t, err, ErrMalformedRate)
}

func TestEngine_UnknownAlgorithm(t *testing.T) {
	engine := NewMemoryEngine()
	_, err := engine.Check(context.Background(), Identity{ID: "u"}, "1/second", WithAlgorithm(Algorithm("made_up")))
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestEngine_InvalidCost(t *testing.T) {
	engine := NewMemoryEngine()
	_, err := engine.Check(context.Background(), Identity{ID: "u"}, "10/second", WithCost(0))
	require.ErrorIs(t, err, ErrInvalidCost)

	_, err = engine.Check(context.Background(), Identity{ID: "u"}, "10/second", WithCost(MaxCost+1))
	require.ErrorIs(t, err, ErrInvalidCost)
}

func TestEngine_Reset(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(fixedClock(base)))

	res, err := engine.Check(context.Background(), id, "1/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = engine.Check(context.Background(), id, "1/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, engine.Reset(context.Background(), id, "1/second", WithAlgorithm(FixedWindow)))

	res, err = engine.Check(context.Background(), id, "1/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.True(t, res.Allowed, "reset should clear the counter")
}

func TestEngine_GetUsage_DoesNotMutate(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	id := Identity{ID: "user_1"}
	engine := NewMemoryEngine(WithNow(fixedClock(base)))

	_, err := engine.Check(context.Background(), id, "5/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)

	usage, err := engine.GetUsage(context.Background(), id, "5/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.Equal(t, int64(1), usage.Current)

	usage, err = engine.GetUsage(context.Background(), id, "5/second", WithAlgorithm(FixedWindow))
	require.NoError(t, err)
	require.Equal(t, int64(1), usage.Current, "GetUsage must be read-only")
}
