// Package signal handles ephemeral typing and presence indicators.
// Both ride on TTL'd redis entries: a signal that is not refreshed
// inside its TTL simply disappears, so stale state cleans itself up.
package signal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/metrics"
	"github.com/synsocial/chatsync/internal/transport"
)

// typingChannel namespaces typing entries away from presence entries on
// the same chat.
func typingChannel(chatID string) string { return "typing:" + chatID }

type TypingConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
}

// TypingSignaler debounces keystroke notifications into at most one
// TTL refresh per interval and fans the signal out on the bus.
type TypingSignaler struct {
	presence transport.PresenceChannel
	ids      identity.Accessor
	bus      *events.Bus
	log      *zap.SugaredLogger
	cfg      TypingConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewTypingSignaler(presence transport.PresenceChannel, ids identity.Accessor, bus *events.Bus, cfg TypingConfig, log *zap.SugaredLogger) *TypingSignaler {
	if cfg.TTL <= 0 {
		cfg.TTL = 4 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 1500 * time.Millisecond
	}
	return &TypingSignaler{
		presence: presence,
		ids:      ids,
		bus:      bus,
		log:      log,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *TypingSignaler) limiter(chatID, userID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := chatID + "/" + userID
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.cfg.RefreshInterval), 1)
		t.limiters[key] = l
	}
	return l
}

// Started is called on every keystroke. Most calls are absorbed by the
// limiter; the ones that pass refresh the TTL entry and broadcast.
func (t *TypingSignaler) Started(ctx context.Context, chatID, userID string) error {
	if !t.ids.TypingIndicatorsEnabled(userID) {
		return nil
	}
	if !t.limiter(chatID, userID).Allow() {
		return nil
	}
	// Join rather than Refresh: it rewrites the entry timestamp, which
	// Typers uses to age entries out.
	if err := t.presence.Join(ctx, typingChannel(chatID), userID); err != nil {
		t.log.Warnw("typing refresh", "chat_id", chatID, "user_id", userID, "err", err)
		return err
	}
	metrics.TypingSignals.Inc()
	t.bus.PublishTyping(domain.TypingSignal{
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: true,
		At:       time.Now().UTC(),
	})
	return nil
}

// Stopped clears the indicator immediately. Callers invoke it on send
// and on input blur; losing the call is harmless since the TTL expires
// the entry anyway.
func (t *TypingSignaler) Stopped(ctx context.Context, chatID, userID string) error {
	if !t.ids.TypingIndicatorsEnabled(userID) {
		return nil
	}
	if err := t.presence.Leave(ctx, typingChannel(chatID), userID); err != nil {
		t.log.Warnw("typing clear", "chat_id", chatID, "user_id", userID, "err", err)
		return err
	}
	t.bus.PublishTyping(domain.TypingSignal{
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: false,
		At:       time.Now().UTC(),
	})
	return nil
}

// Typers returns who is currently typing in the chat, excluding the
// viewer and anything past the TTL.
func (t *TypingSignaler) Typers(ctx context.Context, chatID, viewerID string) ([]string, error) {
	entries, err := t.presence.Snapshot(ctx, typingChannel(chatID))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var users []string
	for _, e := range entries {
		if e.UserID == viewerID {
			continue
		}
		if now.Sub(e.OnlineAt) > t.cfg.TTL {
			continue
		}
		users = append(users, e.UserID)
	}
	return users, nil
}
