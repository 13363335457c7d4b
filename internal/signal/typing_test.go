package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/logger"
)

type fakePresence struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time // channel -> user -> joined at
	joins   int
}

func newFakePresence() *fakePresence {
	return &fakePresence{entries: make(map[string]map[string]time.Time)}
}

func (f *fakePresence) Join(_ context.Context, channel, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[channel]; !ok {
		f.entries[channel] = make(map[string]time.Time)
	}
	f.entries[channel][userID] = time.Now().UTC()
	f.joins++
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

func (f *fakePresence) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

func newSignaler(p *fakePresence, ids *identity.Static, bus *events.Bus) *TypingSignaler {
	return NewTypingSignaler(p, ids, bus, TypingConfig{
		TTL:             50 * time.Millisecond,
		RefreshInterval: 40 * time.Millisecond,
	}, logger.Nop())
}

func TestStartedDebouncesKeystrokes(t *testing.T) {
	p := newFakePresence()
	bus := events.NewBus()
	ts := newSignaler(p, identity.NewStatic("alice"), bus)

	for i := 0; i < 10; i++ {
		if err := ts.Started(context.Background(), "c1", "alice"); err != nil {
			t.Fatalf("Started #%d: %v", i, err)
		}
	}
	if n := p.joinCount(); n != 1 {
		t.Fatalf("burst of keystrokes produced %d writes, want 1", n)
	}

	time.Sleep(60 * time.Millisecond)
	if err := ts.Started(context.Background(), "c1", "alice"); err != nil {
		t.Fatalf("Started after interval: %v", err)
	}
	if n := p.joinCount(); n != 2 {
		t.Fatalf("writes after interval = %d, want 2", n)
	}
}

func TestStartedPublishesOnBus(t *testing.T) {
	p := newFakePresence()
	bus := events.NewBus()
	ts := newSignaler(p, identity.NewStatic("alice"), bus)

	ch, cancel := bus.SubscribeTyping("c1")
	defer cancel()

	if err := ts.Started(context.Background(), "c1", "alice"); err != nil {
		t.Fatalf("Started: %v", err)
	}
	select {
	case sig := <-ch:
		if sig.UserID != "alice" || !sig.IsTyping {
			t.Fatalf("unexpected signal %+v", sig)
		}
	default:
		t.Fatal("typing start not published")
	}

	if err := ts.Stopped(context.Background(), "c1", "alice"); err != nil {
		t.Fatalf("Stopped: %v", err)
	}
	select {
	case sig := <-ch:
		if sig.IsTyping {
			t.Fatal("stop signal still flagged typing")
		}
	default:
		t.Fatal("typing stop not published")
	}
}

func TestDisabledIndicatorsAreSilent(t *testing.T) {
	p := newFakePresence()
	bus := events.NewBus()
	ids := identity.NewStatic("alice")
	ids.SetTypingIndicators("alice", false)
	ts := newSignaler(p, ids, bus)

	ch, cancel := bus.SubscribeTyping("c1")
	defer cancel()

	if err := ts.Started(context.Background(), "c1", "alice"); err != nil {
		t.Fatalf("Started: %v", err)
	}
	if n := p.joinCount(); n != 0 {
		t.Fatalf("disabled indicators wrote %d entries", n)
	}
	select {
	case sig := <-ch:
		t.Fatalf("disabled indicators published %+v", sig)
	default:
	}
}

func TestTypersFiltersSelfAndExpired(t *testing.T) {
	p := newFakePresence()
	bus := events.NewBus()
	ts := newSignaler(p, identity.NewStatic("alice"), bus)

	if err := ts.Started(context.Background(), "c1", "alice"); err != nil {
		t.Fatalf("alice Started: %v", err)
	}
	if err := ts.Started(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("bob Started: %v", err)
	}

	users, err := ts.Typers(context.Background(), "c1", "alice")
	if err != nil {
		t.Fatalf("Typers: %v", err)
	}
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("typers = %v, want [bob]", users)
	}

	// beyond the ttl everyone ages out
	time.Sleep(70 * time.Millisecond)
	users, err = ts.Typers(context.Background(), "c1", "alice")
	if err != nil {
		t.Fatalf("Typers after ttl: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("typers after ttl = %v, want none", users)
	}
}

func TestPresenceKeeperLifecycle(t *testing.T) {
	p := newFakePresence()
	k := NewPresenceKeeper(p, 10*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Keep(ctx, "c1", "alice")
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entries, _ := k.Online(context.Background(), "c1")
		if len(entries) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	entries, _ := k.Online(context.Background(), "c1")
	if len(entries) != 1 || entries[0].UserID != "alice" {
		t.Fatalf("online = %v, want alice", entries)
	}

	cancel()
	<-done
	entries, _ = k.Online(context.Background(), "c1")
	if len(entries) != 0 {
		t.Fatalf("alice still online after leave: %v", entries)
	}
}
