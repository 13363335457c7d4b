package signal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/transport"
)

// PresenceKeeper maintains a user's online marker on a chat channel
// while a subscription is live, refreshing it on an interval well under
// the TTL.
type PresenceKeeper struct {
	presence transport.PresenceChannel
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewPresenceKeeper(presence transport.PresenceChannel, interval time.Duration, log *zap.SugaredLogger) *PresenceKeeper {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &PresenceKeeper{presence: presence, interval: interval, log: log}
}

// Keep joins the channel and refreshes until ctx is cancelled, then
// leaves. It blocks; run it in its own goroutine per subscription.
func (k *PresenceKeeper) Keep(ctx context.Context, chatID, userID string) {
	if err := k.presence.Join(ctx, chatID, userID); err != nil {
		k.log.Warnw("presence join", "chat_id", chatID, "user_id", userID, "err", err)
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := k.presence.Leave(leaveCtx, chatID, userID); err != nil {
				k.log.Warnw("presence leave", "chat_id", chatID, "user_id", userID, "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := k.presence.Refresh(ctx, chatID, userID); err != nil {
				k.log.Warnw("presence refresh", "chat_id", chatID, "user_id", userID, "err", err)
			}
		}
	}
}

// Online returns the users currently present on the chat channel.
func (k *PresenceKeeper) Online(ctx context.Context, chatID string) ([]domain.PresenceEntry, error) {
	return k.presence.Snapshot(ctx, chatID)
}
