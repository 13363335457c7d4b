package transport

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/synsocial/chatsync/internal/syncerr"
)

// BreakerRealtime wraps a Realtime with a circuit breaker so a flapping
// backend fails fast instead of stacking up blocked publishes. An open
// breaker reads as a subscription failure, which the connection
// supervisor turns into the polling fallback.
type BreakerRealtime struct {
	inner Realtime
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerRealtime(inner Realtime) *BreakerRealtime {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "realtime",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &BreakerRealtime{inner: inner, cb: cb}
}

func (b *BreakerRealtime) Subscribe(ctx context.Context, chatID string) (Subscription, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.inner.Subscribe(ctx, chatID)
	})
	if err != nil {
		return nil, b.classify(err)
	}
	return v.(Subscription), nil
}

func (b *BreakerRealtime) Publish(ctx context.Context, chatID string, ev ChangeEvent) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Publish(ctx, chatID, ev)
	})
	return b.classify(err)
}

func (b *BreakerRealtime) Heartbeat(ctx context.Context) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Heartbeat(ctx)
	})
	return b.classify(err)
}

func (b *BreakerRealtime) classify(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return syncerr.Subscription(err)
	}
	return err
}
