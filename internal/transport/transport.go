// Package transport is the persistence/transport boundary's real-time
// half: change subscriptions per chat filter and the presence channel.
// The rest of the core is written against these interfaces so the
// concrete channel (redis pub/sub here) can be swapped without touching
// message or state logic.
package transport

import (
	"context"
	"time"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
)

// ChangeEvent is one change observed on a subscribed chat filter.
// Origin identifies the publishing process so a subscriber can skip
// changes that originated locally and already went through its bus.
type ChangeEvent struct {
	Origin string              `json:"origin,omitempty"`
	Event  events.MessageEvent `json:"event"`
	At     time.Time           `json:"at"`
}

// Subscription is a live change feed for one chat. Events stops when the
// feed dies; Err then yields the cause. Unsubscribe is idempotent and
// must release the underlying channel promptly rather than leaving it
// to the GC.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() <-chan error
	Unsubscribe() error
}

// Realtime is the push channel contract.
type Realtime interface {
	Subscribe(ctx context.Context, chatID string) (Subscription, error)
	Publish(ctx context.Context, chatID string, ev ChangeEvent) error

	// Heartbeat probes channel liveness; the connection supervisor
	// treats consecutive failures as a dead channel.
	Heartbeat(ctx context.Context) error
}

// PresenceChannel tracks ephemeral online membership per named channel.
type PresenceChannel interface {
	Join(ctx context.Context, channel, userID string) error
	// Refresh extends the member's liveness; missing refreshes expire
	// the entry, which is how ungraceful disconnects are detected.
	Refresh(ctx context.Context, channel, userID string) error
	Leave(ctx context.Context, channel, userID string) error
	Snapshot(ctx context.Context, channel string) ([]domain.PresenceEntry, error)
}
