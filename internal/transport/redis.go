package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/syncerr"
)

// RedisRealtime implements the push channel over redis pub/sub and the
// presence channel over TTL'd keys plus a membership set.
type RedisRealtime struct {
	client      *redis.Client
	prefix      string
	presenceTTL time.Duration
	log         *zap.SugaredLogger
}

func NewRedisRealtime(client *redis.Client, prefix string, presenceTTL time.Duration, log *zap.SugaredLogger) *RedisRealtime {
	return &RedisRealtime{client: client, prefix: prefix, presenceTTL: presenceTTL, log: log}
}

func (r *RedisRealtime) chatChannel(chatID string) string {
	return fmt.Sprintf("%s:chat:%s", r.prefix, chatID)
}

func (r *RedisRealtime) presenceSetKey(channel string) string {
	return fmt.Sprintf("%s:presence:%s", r.prefix, channel)
}

func (r *RedisRealtime) presenceMemberKey(channel, userID string) string {
	return fmt.Sprintf("%s:presence:%s:%s", r.prefix, channel, userID)
}

func (r *RedisRealtime) Publish(ctx context.Context, chatID string, ev ChangeEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.chatChannel(chatID), b).Err(); err != nil {
		return syncerr.Transport(err)
	}
	return nil
}

func (r *RedisRealtime) Heartbeat(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return syncerr.Subscription(err)
	}
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan ChangeEvent
	errs   chan error
	cancel context.CancelFunc
}

func (s *redisSubscription) Events() <-chan ChangeEvent { return s.events }
func (s *redisSubscription) Err() <-chan error          { return s.errs }

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	return s.pubsub.Close()
}

func (r *RedisRealtime) Subscribe(ctx context.Context, chatID string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.chatChannel(chatID))
	// force the SUBSCRIBE round-trip so failures surface here, not on
	// the first receive
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, syncerr.Subscription(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan ChangeEvent, 64),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					select {
					case sub.errs <- syncerr.Subscription(fmt.Errorf("channel %s closed", chatID)):
					default:
					}
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Warnw("drop malformed change event", "chat_id", chatID, "err", err)
					continue
				}
				select {
				case sub.events <- ev:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// Presence

func (r *RedisRealtime) Join(ctx context.Context, channel, userID string) error {
	entry := domain.PresenceEntry{UserID: userID, OnlineAt: time.Now().UTC()}
	b, _ := json.Marshal(entry)
	if err := r.client.SAdd(ctx, r.presenceSetKey(channel), userID).Err(); err != nil {
		return syncerr.Transport(err)
	}
	if err := r.client.Set(ctx, r.presenceMemberKey(channel, userID), b, r.presenceTTL).Err(); err != nil {
		return syncerr.Transport(err)
	}
	return nil
}

func (r *RedisRealtime) Refresh(ctx context.Context, channel, userID string) error {
	ok, err := r.client.Expire(ctx, r.presenceMemberKey(channel, userID), r.presenceTTL).Result()
	if err != nil {
		return syncerr.Transport(err)
	}
	if !ok {
		// key expired between heartbeats; rejoin
		return r.Join(ctx, channel, userID)
	}
	return nil
}

func (r *RedisRealtime) Leave(ctx context.Context, channel, userID string) error {
	if err := r.client.SRem(ctx, r.presenceSetKey(channel), userID).Err(); err != nil {
		return syncerr.Transport(err)
	}
	if err := r.client.Del(ctx, r.presenceMemberKey(channel, userID)).Err(); err != nil {
		return syncerr.Transport(err)
	}
	return nil
}

// Snapshot returns live members, pruning entries whose TTL key lapsed
// (crashed clients never send an explicit leave).
func (r *RedisRealtime) Snapshot(ctx context.Context, channel string) ([]domain.PresenceEntry, error) {
	members, err := r.client.SMembers(ctx, r.presenceSetKey(channel)).Result()
	if err != nil {
		return nil, syncerr.Transport(err)
	}
	var out []domain.PresenceEntry
	for _, userID := range members {
		b, err := r.client.Get(ctx, r.presenceMemberKey(channel, userID)).Bytes()
		if err == redis.Nil {
			_ = r.client.SRem(ctx, r.presenceSetKey(channel), userID).Err()
			continue
		}
		if err != nil {
			return nil, syncerr.Transport(err)
		}
		var entry domain.PresenceEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
