// Package store owns the canonical per-chat message list and the chat
// membership rows. Implementations enforce per-viewer visibility at read
// time and keep message ordering stable (created_at, ties by id).
package store

import (
	"context"
	"time"

	"github.com/synsocial/chatsync/internal/domain"
)

type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)

	// ListForViewer returns up to limit messages of the chat in stable
	// order, oldest first, excluding messages the viewer tombstoned for
	// themselves. A zero before means "no upper bound".
	ListForViewer(ctx context.Context, chatID, viewerID string, limit int64, before time.Time) ([]*domain.Message, error)

	// Since returns messages created strictly after the given instant,
	// unfiltered, for resync/reconciliation.
	Since(ctx context.Context, chatID string, since time.Time) ([]*domain.Message, error)

	// MarkDelivered advances a message to delivered. Calling it on an
	// already delivered or read message is a no-op.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// MarkReadThrough marks every message of the chat ordered at or
	// below the watermark message as read, skipping the reader's own
	// messages. Delivery state never regresses. Returns the number of
	// messages that transitioned.
	MarkReadThrough(ctx context.Context, chatID, readerID, watermarkID string, at time.Time) (int, error)

	// ApplyEdit replaces content, appends the snapshot to the bounded
	// edit history and flags the message edited.
	ApplyEdit(ctx context.Context, id, newContent string, snap domain.EditSnapshot) error

	// TombstoneFor hides the message from one viewer. Idempotent.
	TombstoneFor(ctx context.Context, id, userID string) error

	// DeleteForEveryone replaces content with the placeholder, clears
	// media and marks the message terminally deleted.
	DeleteForEveryone(ctx context.Context, id string, at time.Time) error

	// LastVisible returns the newest message the viewer can see, or
	// syncerr.ErrNotFound for an empty chat.
	LastVisible(ctx context.Context, chatID, viewerID string) (*domain.Message, error)

	// CountUnread counts messages created after the cursor instant that
	// the viewer can see and did not send.
	CountUnread(ctx context.Context, chatID, viewerID string, after time.Time) (int, error)
}

type ChatStore interface {
	// GetOrCreateDirect resolves the deterministic direct chat between
	// two users, creating it (and both participant rows) on first use.
	// Tolerates concurrent creation.
	GetOrCreateDirect(ctx context.Context, userA, userB string) (*domain.Chat, error)

	Get(ctx context.Context, chatID string) (*domain.Chat, error)
	ChatsFor(ctx context.Context, userID string) ([]*domain.Chat, error)

	Participants(ctx context.Context, chatID string) ([]domain.Participant, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	Cursor(ctx context.Context, chatID, userID string) (*domain.Participant, error)

	// AdvanceCursor moves a participant's read watermark forward. Stale
	// watermarks (older than the current cursor) are ignored.
	AdvanceCursor(ctx context.Context, chatID, userID, messageID string, at time.Time) error

	// UpdateSummary refreshes the denormalized last-message cache.
	UpdateSummary(ctx context.Context, chatID, preview string, at time.Time) error
}
