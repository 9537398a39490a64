package stream

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Backoff bounds the exponential delay between retries of a failing stream
// operation.
type Backoff struct {
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultBackoff is used when a component is not given one.
var DefaultBackoff = Backoff{Delay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}

// Retry runs fn until it succeeds or ctx is done. Stream failures are
// transient by assumption: nothing was acked, so nothing is lost by waiting.
func Retry(ctx context.Context, logger *zap.Logger, op string, b Backoff, fn func() error) error {
	if b.Delay <= 0 {
		b = DefaultBackoff
	}
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(b.Delay),
		retry.MaxDelay(b.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Stream operation failed, retrying",
				zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}
