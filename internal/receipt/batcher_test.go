package receipt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/logger"
	"github.com/synsocial/chatsync/internal/store"
	"github.com/synsocial/chatsync/internal/transport"
)

type fixture struct {
	mem     *store.Memory
	ids     *identity.Static
	bus     *events.Bus
	batcher *Batcher
	chat    *domain.Chat
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mem := store.NewMemory()
	ids := identity.NewStatic("bob")
	bus := events.NewBus()
	fan := &transport.Fanout{Origin: "test", Bus: bus, Log: logger.Nop()}
	b := NewBatcher(mem.Messages(), mem.Chats(), ids, fan, cfg, logger.Nop())

	chat, err := mem.GetOrCreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateDirect: %v", err)
	}
	return &fixture{mem: mem, ids: ids, bus: bus, batcher: b, chat: chat}
}

func (f *fixture) seed(t *testing.T, id string, offset time.Duration) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID: id, ChatID: f.chat.ID, SenderID: "alice", Content: "msg",
		CreatedAt: time.Now().UTC().Add(offset),
	}
	if err := f.mem.Insert(context.Background(), m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDebounceCoalescesToMaxWatermark(t *testing.T) {
	f := newFixture(t, Config{Debounce: 30 * time.Millisecond})
	m1 := f.seed(t, "m1", 0)
	m2 := f.seed(t, "m2", time.Second)

	f.batcher.Observe(m1, "bob")
	f.batcher.Observe(m2, "bob")
	f.batcher.Observe(m1, "bob") // out of order observation must not lower the watermark

	waitFor(t, time.Second, func() bool {
		m, err := f.mem.GetMessage(context.Background(), "m2")
		return err == nil && m.State == domain.StateRead
	})

	m, _ := f.mem.GetMessage(context.Background(), "m1")
	if m.State != domain.StateRead {
		t.Fatal("watermark flush must cover earlier messages")
	}
	cursor, err := f.mem.Cursor(context.Background(), f.chat.ID, "bob")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor.LastReadMessageID != "m2" {
		t.Fatalf("cursor = %q, want m2", cursor.LastReadMessageID)
	}
}

func TestCapTriggersImmediateFlush(t *testing.T) {
	f := newFixture(t, Config{Debounce: time.Hour, MaxBuffered: 3})
	var last *domain.Message
	for i := 0; i < 3; i++ {
		last = f.seed(t, fmt.Sprintf("m%d", i), time.Duration(i)*time.Second)
		f.batcher.Observe(last, "bob")
	}

	waitFor(t, time.Second, func() bool {
		m, err := f.mem.GetMessage(context.Background(), last.ID)
		return err == nil && m.State == domain.StateRead
	})
	if f.batcher.Pending(f.chat.ID, "bob") != 0 {
		t.Fatal("cap flush should drain the pair")
	}
}

func TestOwnMessagesAreNeverObserved(t *testing.T) {
	f := newFixture(t, Config{Debounce: 10 * time.Millisecond})
	m := &domain.Message{ID: "own", ChatID: f.chat.ID, SenderID: "bob", CreatedAt: time.Now().UTC()}
	if err := f.mem.Insert(context.Background(), m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	f.batcher.Observe(m, "bob")
	if f.batcher.Pending(f.chat.ID, "bob") != 0 {
		t.Fatal("own message must not buffer a receipt")
	}
}

func TestPauseHoldsFlushUntilResume(t *testing.T) {
	f := newFixture(t, Config{Debounce: 20 * time.Millisecond})
	m := f.seed(t, "m1", 0)

	f.batcher.Pause("bob")
	f.batcher.Observe(m, "bob")

	time.Sleep(100 * time.Millisecond)
	got, _ := f.mem.GetMessage(context.Background(), "m1")
	if got.State != domain.StateSent {
		t.Fatal("paused batcher must not flush")
	}

	f.batcher.Resume("bob")
	waitFor(t, time.Second, func() bool {
		m, err := f.mem.GetMessage(context.Background(), "m1")
		return err == nil && m.State == domain.StateRead
	})
}

func TestPauseIsScopedToOneReader(t *testing.T) {
	f := newFixture(t, Config{Debounce: 20 * time.Millisecond})
	f.mem.AddParticipant(f.chat, "carol", domain.RoleMember)
	m := f.seed(t, "m1", 0)

	f.batcher.Pause("bob")
	f.batcher.Observe(m, "carol")

	// carol is foregrounded; bob's pause must not hold her flush
	waitFor(t, time.Second, func() bool {
		got, err := f.mem.GetMessage(context.Background(), "m1")
		return err == nil && got.State == domain.StateRead
	})

	cursor, err := f.mem.Cursor(context.Background(), f.chat.ID, "bob")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != nil && cursor.LastReadMessageID != "" {
		t.Fatalf("bob's cursor moved to %q while paused", cursor.LastReadMessageID)
	}
}

func TestFlushDropsDrainedPair(t *testing.T) {
	f := newFixture(t, Config{Debounce: time.Hour})
	m := f.seed(t, "m1", 0)
	f.batcher.Observe(m, "bob")

	f.batcher.ChatClosed(f.chat.ID, "bob")

	f.batcher.mu.Lock()
	n := len(f.batcher.pending)
	f.batcher.mu.Unlock()
	if n != 0 {
		t.Fatalf("pending pairs = %d after drain, want 0", n)
	}
}

func TestChatClosedForcesFlush(t *testing.T) {
	f := newFixture(t, Config{Debounce: time.Hour})
	m := f.seed(t, "m1", 0)
	f.batcher.Observe(m, "bob")

	f.batcher.ChatClosed(f.chat.ID, "bob")
	got, _ := f.mem.GetMessage(context.Background(), "m1")
	if got.State != domain.StateRead {
		t.Fatal("closing the chat must flush buffered receipts")
	}
}

func TestReceiptsDisabledAdvancesCursorOnly(t *testing.T) {
	f := newFixture(t, Config{Debounce: time.Hour})
	f.ids.SetReadReceipts("bob", false)
	m := f.seed(t, "m1", 0)

	ch, cancel := f.bus.SubscribeMessages(f.chat.ID)
	defer cancel()

	f.batcher.Observe(m, "bob")
	f.batcher.ChatClosed(f.chat.ID, "bob")

	// reader's private cursor moved
	cursor, err := f.mem.Cursor(context.Background(), f.chat.ID, "bob")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor.LastReadMessageID != "m1" {
		t.Fatalf("cursor = %q, want m1", cursor.LastReadMessageID)
	}

	// sender-visible state stays below read and nothing is broadcast
	got, _ := f.mem.GetMessage(context.Background(), "m1")
	if got.State.AtLeast(domain.StateRead) {
		t.Fatal("receipts disabled must not surface read to the sender")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected broadcast %+v", ev)
	default:
	}
}

func TestFlushPublishesWatermarkEvent(t *testing.T) {
	f := newFixture(t, Config{Debounce: time.Hour})
	m := f.seed(t, "m1", 0)

	ch, cancel := f.bus.SubscribeMessages(f.chat.ID)
	defer cancel()

	f.batcher.Observe(m, "bob")
	f.batcher.ChatClosed(f.chat.ID, "bob")

	select {
	case ev := <-ch:
		if ev.Kind != events.MessageStateChanged {
			t.Fatalf("kind = %v, want state change", ev.Kind)
		}
		if ev.ReaderID != "bob" || ev.WatermarkID != "m1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("flush should broadcast the watermark")
	}

	// repeating the flush with nothing pending publishes nothing
	f.batcher.ChatClosed(f.chat.ID, "bob")
	select {
	case ev := <-ch:
		t.Fatalf("empty flush broadcast %+v", ev)
	default:
	}
}
