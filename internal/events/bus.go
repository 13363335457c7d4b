// Package events carries the core's change notifications to subscribers
// (the websocket surface, tests, any UI binding) without the core
// depending on a delivery technology.
package events

import (
	"sync"

	"github.com/synsocial/chatsync/internal/domain"
)

type MessageKind string

const (
	MessageCreated      MessageKind = "message.created"
	MessageEdited       MessageKind = "message.edited"
	MessageDeleted      MessageKind = "message.deleted"
	MessageStateChanged MessageKind = "message.state_changed"
)

type MessageEvent struct {
	Kind    MessageKind     `json:"kind"`
	ChatID  string          `json:"chat_id"`
	Message *domain.Message `json:"message,omitempty"`

	// For state changes without a full payload (read watermarks).
	ReaderID    string `json:"reader_id,omitempty"`
	WatermarkID string `json:"watermark_id,omitempty"`
}

// ConnState is the connection mode surfaced to the UI layer.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnLive
	ConnDegraded
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnLive:
		return "live"
	case ConnDegraded:
		return "degraded"
	}
	return "disconnected"
}

const subscriberBuffer = 64

// Bus is a bounded in-process pub/sub broker. Slow subscribers lose the
// oldest buffered event rather than blocking publishers.
type Bus struct {
	mu       sync.RWMutex
	messages map[string][]chan MessageEvent       // chatID -> subscribers
	typing   map[string][]chan domain.TypingSignal // chatID -> subscribers
	status   []chan ConnState
}

func NewBus() *Bus {
	return &Bus{
		messages: make(map[string][]chan MessageEvent),
		typing:   make(map[string][]chan domain.TypingSignal),
	}
}

func send[T any](ch chan T, ev T) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch: // drop oldest
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) PublishMessage(ev MessageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.messages[ev.ChatID] {
		send(ch, ev)
	}
}

func (b *Bus) SubscribeMessages(chatID string) (<-chan MessageEvent, func()) {
	ch := make(chan MessageEvent, subscriberBuffer)
	b.mu.Lock()
	b.messages[chatID] = append(b.messages[chatID], ch)
	b.mu.Unlock()
	return ch, func() { b.unsubscribeMessages(chatID, ch) }
}

func (b *Bus) unsubscribeMessages(chatID string, ch chan MessageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.messages[chatID]
	for i, c := range subs {
		if c == ch {
			b.messages[chatID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.messages[chatID]) == 0 {
		delete(b.messages, chatID)
	}
}

func (b *Bus) PublishTyping(sig domain.TypingSignal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.typing[sig.ChatID] {
		send(ch, sig)
	}
}

func (b *Bus) SubscribeTyping(chatID string) (<-chan domain.TypingSignal, func()) {
	ch := make(chan domain.TypingSignal, subscriberBuffer)
	b.mu.Lock()
	b.typing[chatID] = append(b.typing[chatID], ch)
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typing[chatID]
		for i, c := range subs {
			if c == ch {
				b.typing[chatID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.typing[chatID]) == 0 {
			delete(b.typing, chatID)
		}
	}
}

func (b *Bus) PublishStatus(s ConnState) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.status {
		send(ch, s)
	}
}

func (b *Bus) SubscribeStatus() (<-chan ConnState, func()) {
	ch := make(chan ConnState, subscriberBuffer)
	b.mu.Lock()
	b.status = append(b.status, ch)
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.status {
			if c == ch {
				b.status = append(b.status[:i], b.status[i+1:]...)
				break
			}
		}
	}
}
