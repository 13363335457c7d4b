package domain

import (
	"testing"
	"time"
)

func TestDeliveryStateOrdering(t *testing.T) {
	if !StateRead.AtLeast(StateDelivered) {
		t.Fatal("read should imply delivered")
	}
	if !StateDelivered.AtLeast(StateSent) {
		t.Fatal("delivered should imply sent")
	}
	if StateSent.AtLeast(StateDelivered) {
		t.Fatal("sent must not imply delivered")
	}
}

func TestDeliveryStateString(t *testing.T) {
	cases := map[DeliveryState]string{
		StateSent:         "sent",
		StateDelivered:    "delivered",
		StateRead:         "read",
		DeliveryState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", state, got, want)
		}
	}
}

func TestMessageBefore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", CreatedAt: base}
	b := &Message{ID: "b", CreatedAt: base.Add(time.Second)}
	if !a.Before(b) {
		t.Fatal("earlier message should order first")
	}
	if b.Before(a) {
		t.Fatal("later message should not order first")
	}

	// same instant falls back to id
	c := &Message{ID: "c", CreatedAt: base}
	if !a.Before(c) || c.Before(a) {
		t.Fatal("ties should break by id")
	}
}

func TestDeletedFor(t *testing.T) {
	m := &Message{DeletedForUsers: []string{"u1"}}
	if !m.DeletedFor("u1") {
		t.Fatal("u1 tombstoned the message")
	}
	if m.DeletedFor("u2") {
		t.Fatal("u2 did not tombstone the message")
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{"text", Message{Content: "hello"}, "hello"},
		{"image", Message{Media: &MediaRef{Kind: KindImage}}, "📷 Photo"},
		{"video", Message{Media: &MediaRef{Kind: KindVideo}}, "🎥 Video"},
		{"audio", Message{Media: &MediaRef{Kind: KindAudio}}, "🎵 Audio"},
		{"file", Message{Media: &MediaRef{Kind: KindFile}}, "📎 File"},
		{"deleted wins", Message{Content: "hello", IsDeletedForEveryone: true}, DeletedPlaceholder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.Preview(); got != tc.want {
				t.Errorf("Preview() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDirectChatID(t *testing.T) {
	if DirectChatID("bob", "alice") != DirectChatID("alice", "bob") {
		t.Fatal("direct chat id must not depend on argument order")
	}
	if got := DirectChatID("bob", "alice"); got != "dm_alice_bob" {
		t.Fatalf("DirectChatID = %q", got)
	}
}

func TestTypingSignalExpired(t *testing.T) {
	now := time.Now()
	sig := TypingSignal{At: now.Add(-5 * time.Second)}
	if !sig.Expired(now, 4*time.Second) {
		t.Fatal("signal older than ttl should be expired")
	}
	if sig.Expired(now, 10*time.Second) {
		t.Fatal("signal inside ttl should not be expired")
	}
}
