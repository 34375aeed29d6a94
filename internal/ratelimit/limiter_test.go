package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/logging"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, policies ...domain.RateLimitPolicy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewMemory()
	for _, p := range policies {
		st.PutRateLimitPolicy(p)
	}
	return NewLimiter(rdb, st, logging.Discard()), mr
}

func TestAllow_MinuteWindowWithBurst(t *testing.T) {
	l, mr := newLimiter(t, domain.RateLimitPolicy{
		ClientID: "c1", RequestsPerMinute: 10, RequestsPerHour: 1000, RequestsPerDay: 10000, BurstAllowance: 2,
	})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, l.Allow(ctx, "c1"), "request %d", i+1)
	}

	err := l.Allow(ctx, "c1")
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, Minute, exceeded.Window)
	assert.LessOrEqual(t, exceeded.RetryAfter, time.Minute)

	// rejected requests do not consume quota
	assert.Equal(t, "12", mustGet(t, mr, Key("c1", Minute)))
	assert.Equal(t, "12", mustGet(t, mr, Key("c1", Hour)))

	mr.FastForward(61 * time.Second)
	assert.NoError(t, l.Allow(ctx, "c1"))
}

func TestAllow_HourAndDayWindows(t *testing.T) {
	l, mr := newLimiter(t,
		domain.RateLimitPolicy{ClientID: "hourly", RequestsPerMinute: 100, RequestsPerHour: 3, RequestsPerDay: 100},
		domain.RateLimitPolicy{ClientID: "daily", RequestsPerMinute: 100, RequestsPerHour: 100, RequestsPerDay: 2},
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "hourly"))
	}
	var exceeded *ExceededError
	require.True(t, errors.As(l.Allow(ctx, "hourly"), &exceeded))
	assert.Equal(t, Hour, exceeded.Window)

	require.NoError(t, l.Allow(ctx, "daily"))
	require.NoError(t, l.Allow(ctx, "daily"))
	require.True(t, errors.As(l.Allow(ctx, "daily"), &exceeded))
	assert.Equal(t, Day, exceeded.Window)

	ttl := mr.TTL(Key("daily", Day))
	assert.True(t, ttl > 23*time.Hour && ttl <= 24*time.Hour)
}

func TestAllow_NoPolicyIsUnrestricted(t *testing.T) {
	l, mr := newLimiter(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Allow(context.Background(), "anonymous"))
	}
	assert.False(t, mr.Exists(Key("anonymous", Minute)))
}

func TestAllow_ConcurrentBurstNeverOverAdmits(t *testing.T) {
	l, _ := newLimiter(t, domain.RateLimitPolicy{
		ClientID: "c1", RequestsPerMinute: 10, RequestsPerHour: 1000, RequestsPerDay: 10000, BurstAllowance: 2,
	})

	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Allow(context.Background(), "c1"); err == nil {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(12), admitted.Load())
	assert.Equal(t, int64(48), rejected.Load())
}

func TestAllow_CountersNeverDecreaseWithinWindow(t *testing.T) {
	l, mr := newLimiter(t, domain.RateLimitPolicy{
		ClientID: "c1", RequestsPerMinute: 5, RequestsPerHour: 1000, RequestsPerDay: 10000,
	})
	var last int
	for i := 0; i < 8; i++ {
		_ = l.Allow(context.Background(), "c1")
		n, err := strconv.Atoi(mustGet(t, mr, Key("c1", Minute)))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, last)
		last = n
	}
}

func TestAllow_FailsOpenWhenRedisDown(t *testing.T) {
	l, mr := newLimiter(t, domain.RateLimitPolicy{ClientID: "c1", RequestsPerMinute: 1, RequestsPerHour: 1, RequestsPerDay: 1})
	mr.Close()
	assert.NoError(t, l.Allow(context.Background(), "c1"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "rate_limit:c1:minute", Key("c1", Minute))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
