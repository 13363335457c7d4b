// Package supervisor keeps one chat's real-time feed alive. It owns the
// subscribe/heartbeat/reconnect cycle and degrades to store polling when
// the push channel is down, so subscribers of the bus keep receiving
// changes either way.
package supervisor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/metrics"
	"github.com/synsocial/chatsync/internal/store"
	"github.com/synsocial/chatsync/internal/transport"
)

type Config struct {
	// Origin is this process's id; channel events carrying it already
	// went through the local bus and are dropped.
	Origin string

	HeartbeatInterval time.Duration
	MaxMissed         int
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	StableAfter       time.Duration
	PollInterval      time.Duration

	// PollOverlap widens the reconciliation window so state changes on
	// recent messages are re-emitted, not just brand new ones.
	PollOverlap time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = 3
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 4 * time.Second
	}
	if c.PollOverlap <= 0 {
		c.PollOverlap = time.Minute
	}
}

type Supervisor struct {
	rt       transport.Realtime
	messages store.MessageStore
	bus      *events.Bus
	log      *zap.SugaredLogger
	cfg      Config

	mu    sync.RWMutex
	state events.ConnState
}

// New builds a supervisor. One Run per Supervisor instance.
func New(rt transport.Realtime, messages store.MessageStore, bus *events.Bus, cfg Config, log *zap.SugaredLogger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{rt: rt, messages: messages, bus: bus, cfg: cfg, log: log, state: events.ConnDisconnected}
}

func (s *Supervisor) State() events.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(st events.ConnState) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed {
		metrics.ConnectionState.Set(float64(st))
		s.bus.PublishStatus(st)
	}
}

// Run supervises the feed for chatID until ctx is cancelled. It blocks;
// run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context, chatID string) {
	lastSeen := time.Now().UTC()
	backoff := s.cfg.BackoffMin
	failures := 0

	for {
		if ctx.Err() != nil {
			s.setState(events.ConnDisconnected)
			return
		}

		s.setState(events.ConnConnecting)
		metrics.Reconnects.Inc()
		sub, err := s.rt.Subscribe(ctx, chatID)
		if err == nil {
			// Catch up on anything missed while the channel was down,
			// then go live. Ordering matters: reconcile first so bus
			// subscribers never see a gap.
			lastSeen = s.poll(ctx, chatID, lastSeen)
			stable := s.serve(ctx, chatID, sub, &lastSeen)
			if stable {
				backoff = s.cfg.BackoffMin
				failures = 0
			}
			if ctx.Err() != nil {
				s.setState(events.ConnDisconnected)
				return
			}
		} else {
			s.log.Warnw("subscribe", "chat_id", chatID, "err", err)
		}

		// A single drop is retried quietly. Degraded, and the polling
		// fallback with it, surfaces only after repeated failures.
		failures++
		if failures < s.cfg.MaxMissed {
			if !sleep(ctx, jitter(backoff)) {
				s.setState(events.ConnDisconnected)
				return
			}
		} else {
			s.setState(events.ConnDegraded)
			metrics.FallbackActivations.Inc()
			lastSeen = s.pollUntil(ctx, chatID, lastSeen, jitter(backoff))
		}
		backoff *= 2
		if backoff > s.cfg.BackoffMax {
			backoff = s.cfg.BackoffMax
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serve pumps the live subscription until it dies or ctx is cancelled.
// Returns whether the connection stayed up long enough to count as
// stable.
func (s *Supervisor) serve(ctx context.Context, chatID string, sub transport.Subscription, lastSeen *time.Time) bool {
	defer sub.Unsubscribe()

	s.setState(events.ConnLive)
	start := time.Now()
	missed := 0

	hb := time.NewTicker(s.cfg.HeartbeatInterval)
	defer hb.Stop()

	for {
		select {
		case <-ctx.Done():
			return time.Since(start) >= s.cfg.StableAfter

		case ev, ok := <-sub.Events():
			if !ok {
				return time.Since(start) >= s.cfg.StableAfter
			}
			if ev.At.After(*lastSeen) {
				*lastSeen = ev.At
			}
			if ev.Origin == s.cfg.Origin {
				continue
			}
			s.bus.PublishMessage(ev.Event)
			metrics.EventsRelayed.Inc()

		case err := <-sub.Err():
			s.log.Warnw("subscription lost", "chat_id", chatID, "err", err)
			return time.Since(start) >= s.cfg.StableAfter

		case <-hb.C:
			hctx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatInterval)
			err := s.rt.Heartbeat(hctx)
			cancel()
			if err != nil {
				missed++
				s.log.Warnw("heartbeat missed", "chat_id", chatID, "missed", missed, "err", err)
				if missed >= s.cfg.MaxMissed {
					return time.Since(start) >= s.cfg.StableAfter
				}
				continue
			}
			missed = 0
		}
	}
}

// pollUntil polls the store on the fallback cadence for the given
// duration, then returns so Run can retry the subscription.
func (s *Supervisor) pollUntil(ctx context.Context, chatID string, lastSeen time.Time, wait time.Duration) time.Time {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return lastSeen
		case <-deadline.C:
			return lastSeen
		case <-tick.C:
			lastSeen = s.poll(ctx, chatID, lastSeen)
		}
	}
}

// poll fetches changes since lastSeen (minus the overlap window) and
// replays them on the bus. New messages come out as created events,
// re-fetched recent ones as state changes so subscribers upsert.
func (s *Supervisor) poll(ctx context.Context, chatID string, lastSeen time.Time) time.Time {
	msgs, err := s.messages.Since(ctx, chatID, lastSeen.Add(-s.cfg.PollOverlap))
	if err != nil {
		s.log.Warnw("poll", "chat_id", chatID, "err", err)
		return lastSeen
	}
	for _, m := range msgs {
		kind := events.MessageStateChanged
		if m.CreatedAt.After(lastSeen) {
			kind = events.MessageCreated
		}
		s.bus.PublishMessage(events.MessageEvent{Kind: kind, ChatID: chatID, Message: m})
		metrics.EventsRelayed.Inc()
		if m.CreatedAt.After(lastSeen) {
			lastSeen = m.CreatedAt
		}
	}
	return lastSeen
}

// jitter spreads reconnect attempts so peers do not stampede the broker.
func jitter(d time.Duration) time.Duration {
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half))
}
