package carrier

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle paces outgoing requests to a rate-limited provider.
type Throttle interface {
	Wait(ctx context.Context) error
}

// LocalThrottle is an in-process token bucket, enough when a single worker talks to the provider.
type LocalThrottle struct {
	l *rate.Limiter
}

func NewLocalThrottle(perSecond int) *LocalThrottle {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &LocalThrottle{l: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (t *LocalThrottle) Wait(ctx context.Context) error {
	return t.l.Wait(ctx)
}
