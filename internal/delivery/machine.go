// Package delivery is the message lifecycle core: send, delivered, read,
// edit and both deletion modes. Every mutation goes through here so the
// state transitions stay monotonic and every change is fanned out on the
// bus exactly once.
package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
	"github.com/synsocial/chatsync/internal/identity"
	"github.com/synsocial/chatsync/internal/metrics"
	"github.com/synsocial/chatsync/internal/receipt"
	"github.com/synsocial/chatsync/internal/store"
	"github.com/synsocial/chatsync/internal/syncerr"
	"github.com/synsocial/chatsync/internal/transport"
)

const maxContentLen = 4096

type Machine struct {
	messages store.MessageStore
	chats    store.ChatStore
	ids      identity.Accessor
	batcher  *receipt.Batcher
	fan      *transport.Fanout
	log      *zap.SugaredLogger

	now func() time.Time
}

func NewMachine(messages store.MessageStore, chats store.ChatStore, ids identity.Accessor, batcher *receipt.Batcher, fan *transport.Fanout, log *zap.SugaredLogger) *Machine {
	return &Machine{
		messages: messages,
		chats:    chats,
		ids:      ids,
		batcher:  batcher,
		fan:      fan,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SendInput carries everything needed to create a message.
type SendInput struct {
	ChatID   string
	SenderID string
	Content  string
	Media    *domain.MediaRef
	ReplyTo  string
}

// Send validates, persists and fans out a new message. The message is
// born in the sent state; delivery and read advance it later.
func (m *Machine) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && in.Media == nil {
		return nil, syncerr.Validationf("empty message")
	}
	if len(in.Content) > maxContentLen {
		return nil, syncerr.Validationf("content exceeds %d bytes", maxContentLen)
	}
	if err := m.requireParticipant(ctx, in.ChatID, in.SenderID); err != nil {
		return nil, err
	}
	if in.ReplyTo != "" {
		parent, err := m.messages.Get(ctx, in.ReplyTo)
		if err != nil {
			return nil, syncerr.Validationf("reply target %s: %v", in.ReplyTo, err)
		}
		if parent.ChatID != in.ChatID {
			return nil, syncerr.Validationf("reply target belongs to another chat")
		}
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		Content:   in.Content,
		Media:     in.Media,
		ReplyTo:   in.ReplyTo,
		CreatedAt: m.now(),
		State:     domain.StateSent,
	}
	if err := m.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	if err := m.chats.UpdateSummary(ctx, in.ChatID, msg.Preview(), msg.CreatedAt); err != nil {
		m.log.Warnw("update chat summary", "chat_id", in.ChatID, "err", err)
	}

	// The sender stops typing by definition of having sent.
	m.fan.Bus.PublishTyping(domain.TypingSignal{ChatID: in.ChatID, UserID: in.SenderID, IsTyping: false, At: msg.CreatedAt})

	m.publish(ctx, events.MessageEvent{Kind: events.MessageCreated, ChatID: in.ChatID, Message: msg})
	return msg, nil
}

// Delivered records that the message reached recipientID's device. A
// no-op when the message already progressed to delivered or read.
func (m *Machine) Delivered(ctx context.Context, messageID, recipientID string) error {
	msg, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == recipientID {
		return nil
	}
	if err := m.requireParticipant(ctx, msg.ChatID, recipientID); err != nil {
		return err
	}
	if msg.State.AtLeast(domain.StateDelivered) {
		return nil
	}
	at := m.now()
	if err := m.messages.MarkDelivered(ctx, messageID, at); err != nil {
		return err
	}
	msg.State = domain.StateDelivered
	msg.DeliveredAt = &at
	m.publish(ctx, events.MessageEvent{Kind: events.MessageStateChanged, ChatID: msg.ChatID, Message: msg})
	return nil
}

// Read feeds a viewport observation into the receipt batcher. The store
// write happens later, coalesced; see package receipt.
func (m *Machine) Read(ctx context.Context, messageID, readerID string) error {
	msg, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == readerID {
		return nil
	}
	if err := m.requireParticipant(ctx, msg.ChatID, readerID); err != nil {
		return err
	}
	m.batcher.Observe(msg, readerID)
	return nil
}

// ChatClosed force-flushes the reader's pending receipts for the chat.
func (m *Machine) ChatClosed(chatID, readerID string) {
	m.batcher.ChatClosed(chatID, readerID)
}

// Background defers the user's read-receipt flushes while their app is
// in the background. Observations keep buffering; nothing becomes read
// until Foreground.
func (m *Machine) Background(userID string) {
	m.batcher.Pause(userID)
}

// Foreground resumes read-receipt flushing for the user.
func (m *Machine) Foreground(userID string) {
	m.batcher.Resume(userID)
}

// Edit replaces the content of the caller's own message, snapshotting
// the prior revision. Deleted messages cannot be edited.
func (m *Machine) Edit(ctx context.Context, messageID, editorID, newContent string) (*domain.Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, syncerr.Validationf("empty content")
	}
	if len(newContent) > maxContentLen {
		return nil, syncerr.Validationf("content exceeds %d bytes", maxContentLen)
	}
	msg, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, syncerr.Permissionf("message %s belongs to %s", messageID, msg.SenderID)
	}
	if msg.IsDeletedForEveryone {
		return nil, syncerr.InvalidStatef("message %s is deleted", messageID)
	}
	if newContent == msg.Content {
		return msg, nil
	}

	at := m.now()
	snap := domain.EditSnapshot{Content: msg.Content, EditedAt: at, EditedBy: editorID}
	if err := m.messages.ApplyEdit(ctx, messageID, newContent, snap); err != nil {
		return nil, err
	}
	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = &at
	msg.EditHistory = append(msg.EditHistory, snap)
	if len(msg.EditHistory) > domain.MaxEditHistory {
		msg.EditHistory = msg.EditHistory[len(msg.EditHistory)-domain.MaxEditHistory:]
	}

	m.refreshSummaryIfLatest(ctx, msg, editorID)
	m.publish(ctx, events.MessageEvent{Kind: events.MessageEdited, ChatID: msg.ChatID, Message: msg})
	return msg, nil
}

// History returns the bounded prior revisions of a message, newest last.
func (m *Machine) History(ctx context.Context, messageID, viewerID string) ([]domain.EditSnapshot, error) {
	msg, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := m.requireParticipant(ctx, msg.ChatID, viewerID); err != nil {
		return nil, err
	}
	if msg.DeletedFor(viewerID) || msg.IsDeletedForEveryone {
		return nil, syncerr.InvalidStatef("message %s is deleted", messageID)
	}
	return msg.EditHistory, nil
}

// DeleteForMe tombstones the message for one viewer only. Other
// participants are unaffected; the event carries ReaderID so the relay
// layer delivers it only to that user's devices.
func (m *Machine) DeleteForMe(ctx context.Context, messageID, userID string) error {
	msg, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if err := m.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return err
	}
	if msg.DeletedFor(userID) {
		return nil
	}
	if err := m.messages.TombstoneFor(ctx, messageID, userID); err != nil {
		return err
	}
	m.publish(ctx, events.MessageEvent{Kind: events.MessageDeleted, ChatID: msg.ChatID, Message: msg, ReaderID: userID})
	return nil
}

// DeleteForEveryone terminally deletes the caller's own message: content
// becomes the placeholder, media is dropped, and no further edits are
// possible. Idempotent.
func (m *Machine) DeleteForEveryone(ctx context.Context, messageID, userID string) error {
	msg, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return syncerr.Permissionf("message %s belongs to %s", messageID, msg.SenderID)
	}
	if msg.IsDeletedForEveryone {
		return nil
	}
	at := m.now()
	if err := m.messages.DeleteForEveryone(ctx, messageID, at); err != nil {
		return err
	}
	msg.Content = domain.DeletedPlaceholder
	msg.Media = nil
	msg.IsDeletedForEveryone = true

	m.refreshSummaryIfLatest(ctx, msg, userID)
	m.publish(ctx, events.MessageEvent{Kind: events.MessageDeleted, ChatID: msg.ChatID, Message: msg})
	return nil
}

// Messages lists the chat for a viewer, oldest first, with that viewer's
// tombstones filtered out.
func (m *Machine) Messages(ctx context.Context, chatID, viewerID string, limit int64, before time.Time) ([]*domain.Message, error) {
	if err := m.requireParticipant(ctx, chatID, viewerID); err != nil {
		return nil, err
	}
	return m.messages.ListForViewer(ctx, chatID, viewerID, limit, before)
}

// OpenDirect resolves (creating on first use) the direct chat between
// the caller and peer.
func (m *Machine) OpenDirect(ctx context.Context, userID, peerID string) (*domain.Chat, error) {
	if userID == peerID {
		return nil, syncerr.Validationf("cannot open a chat with yourself")
	}
	return m.chats.GetOrCreateDirect(ctx, userID, peerID)
}

// Summaries builds the chat-list projection for a user, including the
// per-chat unread count derived from the user's read cursor.
func (m *Machine) Summaries(ctx context.Context, userID string) ([]domain.ChatSummary, error) {
	chats, err := m.chats.ChatsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChatSummary, 0, len(chats))
	for _, c := range chats {
		s := domain.ChatSummary{
			ChatID:          c.ID,
			Name:            c.Name,
			IsGroup:         c.IsGroup,
			LastMessage:     c.LastMessage,
			LastMessageTime: c.LastMessageTime,
		}
		cursor, err := m.chats.Cursor(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		var after time.Time
		if cursor != nil && cursor.LastReadAt != nil {
			after = *cursor.LastReadAt
		}
		n, err := m.messages.CountUnread(ctx, c.ID, userID, after)
		if err != nil {
			return nil, err
		}
		s.UnreadCount = n
		out = append(out, s)
	}
	return out, nil
}

func (m *Machine) requireParticipant(ctx context.Context, chatID, userID string) error {
	ok, err := m.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return syncerr.Validationf("user %s is not a participant of chat %s", userID, chatID)
	}
	return nil
}

// refreshSummaryIfLatest recomputes the denormalized chat summary when
// the mutated message is the newest one in the chat.
func (m *Machine) refreshSummaryIfLatest(ctx context.Context, msg *domain.Message, viewerID string) {
	last, err := m.messages.LastVisible(ctx, msg.ChatID, viewerID)
	if err != nil || last.ID != msg.ID {
		return
	}
	if err := m.chats.UpdateSummary(ctx, msg.ChatID, msg.Preview(), msg.CreatedAt); err != nil {
		m.log.Warnw("update chat summary", "chat_id", msg.ChatID, "err", err)
	}
}

func (m *Machine) publish(ctx context.Context, ev events.MessageEvent) {
	m.fan.Publish(ctx, ev)
}
