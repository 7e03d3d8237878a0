package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow делает INCR по ключу и ставит TTL, если ключ создаётся впервые.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}

// Throttle shares a per-second request budget across every process that
// talks to the same carrier. It satisfies carrier.Throttle.
type Throttle struct {
	rl        *RateLimiter
	name      string
	perSecond int64
	now       func() time.Time
}

func NewThrottle(rl *RateLimiter, name string, perSecond int) *Throttle {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Throttle{rl: rl, name: name, perSecond: int64(perSecond), now: time.Now}
}

// Wait blocks until the current second has budget left or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		now := t.now()
		key := "throttle:" + t.name + ":" + strconv.FormatInt(now.Unix(), 10)
		ok, _, err := t.rl.Allow(ctx, key, t.perSecond, 2*time.Second)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		// ждём начала следующей секунды
		next := now.Truncate(time.Second).Add(time.Second)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
