package domain

import (
	"sort"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Participant is a chat membership row with the per-user read cursor.
type Participant struct {
	ChatID string `bson:"chat_id" json:"chat_id"`
	UserID string `bson:"user_id" json:"user_id"`
	Role   Role   `bson:"role" json:"role"`

	// LastReadMessageID/LastReadAt form the read watermark: everything
	// ordered at or below it counts as read by this user.
	LastReadMessageID string     `bson:"last_read_message_id,omitempty" json:"last_read_message_id,omitempty"`
	LastReadAt        *time.Time `bson:"last_read_at,omitempty" json:"last_read_at,omitempty"`
}

type Chat struct {
	ID      string `bson:"_id" json:"id"`
	IsGroup bool   `bson:"is_group" json:"is_group"`
	Name    string `bson:"name,omitempty" json:"name,omitempty"`
	Avatar  string `bson:"avatar,omitempty" json:"avatar,omitempty"`

	CreatedBy string    `bson:"created_by" json:"created_by"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`

	// Denormalized for list rendering. Derived, recomputed from the
	// message store; never treated as authoritative.
	LastMessage     string     `bson:"last_message,omitempty" json:"last_message,omitempty"`
	LastMessageTime *time.Time `bson:"last_message_time,omitempty" json:"last_message_time,omitempty"`
}

// DirectChatID returns the deterministic id for a direct chat between two
// users, independent of argument order.
func DirectChatID(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return "dm_" + ids[0] + "_" + ids[1]
}

// ChatSummary is the chat-list projection emitted to the UI layer.
type ChatSummary struct {
	ChatID          string     `json:"chat_id"`
	Name            string     `json:"name,omitempty"`
	IsGroup         bool       `json:"is_group"`
	LastMessage     string     `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count"`
}
