package domain

import "time"

// DeletedPlaceholder replaces the content of a message deleted for everyone.
const DeletedPlaceholder = "This message was deleted"

// MaxEditHistory bounds the number of retained edit snapshots per message.
// Oldest snapshots are dropped first.
const MaxEditHistory = 20

// DeliveryState is the per-message delivery progression relative to the
// other participant(s). States are ordered: read implies delivered
// implies sent.
type DeliveryState int

const (
	StateSent DeliveryState = iota
	StateDelivered
	StateRead
)

func (s DeliveryState) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	}
	return "unknown"
}

// AtLeast reports whether s has progressed at least as far as other.
func (s DeliveryState) AtLeast(other DeliveryState) bool { return s >= other }

// MediaKind classifies an attached media reference.
type MediaKind string

const (
	KindText  MediaKind = "text"
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindFile  MediaKind = "file"
)

// MediaRef points at an uploaded attachment. Upload/encoding happens
// elsewhere; the sync core only carries the reference.
type MediaRef struct {
	URL  string    `bson:"url" json:"url"`
	Kind MediaKind `bson:"kind" json:"kind"`
	Size int64     `bson:"size" json:"size"`
}

// EditSnapshot is one prior content revision of an edited message.
type EditSnapshot struct {
	Content  string    `bson:"content" json:"content"`
	EditedAt time.Time `bson:"edited_at" json:"edited_at"`
	EditedBy string    `bson:"edited_by" json:"edited_by"`
}

type Message struct {
	ID       string `bson:"_id" json:"id"`
	ChatID   string `bson:"chat_id" json:"chat_id"`
	SenderID string `bson:"sender_id" json:"sender_id"`

	Content  string    `bson:"content" json:"content"`
	Media    *MediaRef `bson:"media,omitempty" json:"media,omitempty"`
	ReplyTo  string    `bson:"reply_to,omitempty" json:"reply_to,omitempty"`

	// CreatedAt is the authoritative ordering key within a chat.
	// Ties are broken by ID.
	CreatedAt time.Time `bson:"created_at" json:"created_at"`

	IsEdited    bool           `bson:"is_edited" json:"is_edited"`
	EditedAt    *time.Time     `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	EditHistory []EditSnapshot `bson:"edit_history,omitempty" json:"edit_history,omitempty"`

	IsDeletedForEveryone bool     `bson:"is_deleted_for_everyone" json:"is_deleted_for_everyone"`
	DeletedForUsers      []string `bson:"deleted_for_users,omitempty" json:"deleted_for_users,omitempty"`

	State       DeliveryState `bson:"state" json:"state"`
	DeliveredAt *time.Time    `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

// DeletedFor reports whether userID tombstoned this message for themselves.
func (m *Message) DeletedFor(userID string) bool {
	for _, u := range m.DeletedForUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Preview is the chat-list summary text for this message.
func (m *Message) Preview() string {
	if m.IsDeletedForEveryone {
		return DeletedPlaceholder
	}
	if m.Media != nil {
		switch m.Media.Kind {
		case KindImage:
			return "📷 Photo"
		case KindVideo:
			return "🎥 Video"
		case KindAudio:
			return "🎵 Audio"
		case KindFile:
			return "📎 File"
		}
	}
	return m.Content
}

// Before orders messages by creation time, breaking ties by id so the
// order is stable across re-fetches.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
