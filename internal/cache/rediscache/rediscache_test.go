package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "order:1", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "order:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "order:1"))
	_, ok, err = c.Get(ctx, "order:1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestThrottle_WaitsForNextSecond(t *testing.T) {
	mr := miniredis.RunT(t)
	th := NewThrottle(NewRateLimiter(mr.Addr()), "first_delivery", 1)

	ctx := context.Background()
	require.NoError(t, th.Wait(ctx))

	start := time.Now()
	require.NoError(t, th.Wait(ctx))
	// второй вызов в ту же секунду обязан дождаться следующей
	require.Less(t, time.Since(start), 1100*time.Millisecond)
	require.False(t, time.Now().Truncate(time.Second).Equal(start.Truncate(time.Second)))
}

func TestThrottle_ContextCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	th := NewThrottle(NewRateLimiter(mr.Addr()), "aramex", 1)

	// фиксируем часы, чтобы бюджет не обновлялся
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return fixed }

	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := th.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottle_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	th := NewThrottle(NewRateLimiter(mr.Addr()), "x", 1)
	mr.Close()

	require.Error(t, th.Wait(context.Background()))
}
