package domain

import "time"

// TypingSignal is an ephemeral typing indicator. It is never persisted
// beyond its TTL; absence of a refresh inside the TTL window means the
// user stopped typing even without an explicit stop.
type TypingSignal struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
	At       time.Time `json:"at"`
}

// Expired reports whether the signal is older than ttl as of now.
func (t TypingSignal) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.At) > ttl
}

// PresenceEntry is a user's ephemeral online marker on a presence channel.
type PresenceEntry struct {
	UserID   string    `json:"user_id"`
	OnlineAt time.Time `json:"online_at"`
}
