package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/logger"
	"github.com/synsocial/chatsync/internal/signal"
	"github.com/synsocial/chatsync/internal/supervisor"
)

type fakePresence struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time // channel -> user -> joined at
}

func newFakePresence() *fakePresence {
	return &fakePresence{entries: make(map[string]map[string]time.Time)}
}

func (f *fakePresence) join(channel, userID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[channel]; !ok {
		f.entries[channel] = make(map[string]time.Time)
	}
	f.entries[channel][userID] = at
}

func (f *fakePresence) Join(_ context.Context, channel, userID string) error {
	f.join(channel, userID, time.Now().UTC())
	return nil
}

func (f *fakePresence) Refresh(ctx context.Context, channel, userID string) error {
	return f.Join(ctx, channel, userID)
}

func (f *fakePresence) Leave(_ context.Context, channel, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries[channel], userID)
	return nil
}

func (f *fakePresence) Snapshot(_ context.Context, channel string) ([]domain.PresenceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PresenceEntry
	for user, at := range f.entries[channel] {
		out = append(out, domain.PresenceEntry{UserID: user, OnlineAt: at})
	}
	return out, nil
}

func TestSnapshotSeedsTypersAndOnline(t *testing.T) {
	p := newFakePresence()
	bus := events.NewBus()
	typing := signal.NewTypingSignaler(p, identity.NewStatic("bob"), bus, signal.TypingConfig{
		TTL: 4 * time.Second,
	}, logger.Nop())
	presence := signal.NewPresenceKeeper(p, time.Second, logger.Nop())
	srv := NewServer(nil, typing, presence, nil, nil, bus, nil, supervisor.Config{}, "", logger.Nop())

	now := time.Now().UTC()
	p.join("typing:c1", "alice", now)             // actively typing
	p.join("typing:c1", "bob", now)               // the viewer, filtered out
	p.join("typing:c1", "carol", now.Add(-time.Minute)) // stale, past the TTL
	p.join("c1", "alice", now)
	p.join("c1", "bob", now)

	f := srv.snapshot(context.Background(), "c1", "bob")
	if f.Type != "snapshot" {
		t.Fatalf("type = %q, want snapshot", f.Type)
	}
	if len(f.Typers) != 1 || f.Typers[0] != "alice" {
		t.Fatalf("typers = %v, want [alice]", f.Typers)
	}
	online := map[string]bool{}
	for _, u := range f.Online {
		online[u] = true
	}
	if len(online) != 2 || !online["alice"] || !online["bob"] {
		t.Fatalf("online = %v, want alice and bob", f.Online)
	}
}
