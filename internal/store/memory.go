package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/syncerr"
)

// Memory is an in-process implementation of both stores. It backs unit
// tests and single-node deployments without a Mongo instance.
type Memory struct {
	mu           sync.RWMutex
	messages     map[string]*domain.Message          // id -> message
	byChat       map[string][]string                 // chatID -> message ids (unordered)
	chats        map[string]*domain.Chat             // chatID -> chat
	participants map[string][]*domain.Participant    // chatID -> rows
}

func NewMemory() *Memory {
	return &Memory{
		messages:     make(map[string]*domain.Message),
		byChat:       make(map[string][]string),
		chats:        make(map[string]*domain.Chat),
		participants: make(map[string][]*domain.Participant),
	}
}

func cloneMessage(m *domain.Message) *domain.Message {
	c := *m
	if m.Media != nil {
		mc := *m.Media
		c.Media = &mc
	}
	c.EditHistory = append([]domain.EditSnapshot(nil), m.EditHistory...)
	c.DeletedForUsers = append([]string(nil), m.DeletedForUsers...)
	return &c
}

func (s *Memory) Insert(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return nil // upsert semantics, second insert of same id is a no-op
	}
	s.messages[m.ID] = cloneMessage(m)
	s.byChat[m.ChatID] = append(s.byChat[m.ChatID], m.ID)
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Memory) ordered(chatID string) []*domain.Message {
	ids := s.byChat[chatID]
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Memory) ListForViewer(_ context.Context, chatID, viewerID string, limit int64, before time.Time) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Message
	for _, m := range s.ordered(chatID) {
		if m.DeletedFor(viewerID) {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *Memory) Since(_ context.Context, chatID string, since time.Time) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Message
	for _, m := range s.ordered(chatID) {
		if m.CreatedAt.After(since) {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

func (s *Memory) MarkDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return syncerr.ErrNotFound
	}
	if m.State.AtLeast(domain.StateDelivered) {
		return nil
	}
	m.State = domain.StateDelivered
	t := at
	m.DeliveredAt = &t
	return nil
}

func (s *Memory) MarkReadThrough(_ context.Context, chatID, readerID, watermarkID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.messages[watermarkID]
	if !ok || wm.ChatID != chatID {
		return 0, syncerr.ErrNotFound
	}
	n := 0
	for _, id := range s.byChat[chatID] {
		m := s.messages[id]
		if m.SenderID == readerID {
			continue
		}
		if m != wm && !m.Before(wm) {
			continue
		}
		if m.State.AtLeast(domain.StateRead) {
			continue
		}
		m.State = domain.StateRead
		t := at
		m.ReadAt = &t
		if m.DeliveredAt == nil {
			m.DeliveredAt = &t
		}
		n++
	}
	return n, nil
}

func (s *Memory) ApplyEdit(_ context.Context, id, newContent string, snap domain.EditSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return syncerr.ErrNotFound
	}
	m.EditHistory = append(m.EditHistory, snap)
	if len(m.EditHistory) > domain.MaxEditHistory {
		m.EditHistory = m.EditHistory[len(m.EditHistory)-domain.MaxEditHistory:]
	}
	m.Content = newContent
	m.IsEdited = true
	t := snap.EditedAt
	m.EditedAt = &t
	return nil
}

func (s *Memory) TombstoneFor(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return syncerr.ErrNotFound
	}
	if !m.DeletedFor(userID) {
		m.DeletedForUsers = append(m.DeletedForUsers, userID)
	}
	return nil
}

func (s *Memory) DeleteForEveryone(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return syncerr.ErrNotFound
	}
	m.IsDeletedForEveryone = true
	m.Content = domain.DeletedPlaceholder
	m.Media = nil
	return nil
}

func (s *Memory) LastVisible(_ context.Context, chatID, viewerID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ordered(chatID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].DeletedFor(viewerID) {
			return cloneMessage(msgs[i]), nil
		}
	}
	return nil, syncerr.ErrNotFound
}

func (s *Memory) CountUnread(_ context.Context, chatID, viewerID string, after time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.ordered(chatID) {
		if m.SenderID == viewerID || m.DeletedFor(viewerID) {
			continue
		}
		if m.CreatedAt.After(after) {
			n++
		}
	}
	return n, nil
}

// ChatStore

func (s *Memory) GetOrCreateDirect(_ context.Context, userA, userB string) (*domain.Chat, error) {
	if userA == "" || userB == "" {
		return nil, syncerr.Validationf("both user ids required")
	}
	if userA == userB {
		return nil, syncerr.Validationf("cannot create chat with yourself")
	}
	id := domain.DirectChatID(userA, userB)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[id]; ok {
		cc := *c
		return &cc, nil
	}
	c := &domain.Chat{ID: id, CreatedBy: userA, CreatedAt: time.Now().UTC()}
	s.chats[id] = c
	s.participants[id] = []*domain.Participant{
		{ChatID: id, UserID: userA, Role: domain.RoleAdmin},
		{ChatID: id, UserID: userB, Role: domain.RoleMember},
	}
	cc := *c
	return &cc, nil
}

func (s *Memory) GetChat(_ context.Context, chatID string) (*domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *Memory) ChatsFor(_ context.Context, userID string) ([]*domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Chat
	for chatID, rows := range s.participants {
		for _, p := range rows {
			if p.UserID == userID {
				cc := *s.chats[chatID]
				out = append(out, &cc)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) Participants(_ context.Context, chatID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.participants[chatID]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, p := range rows {
		out = append(out, *p)
	}
	return out, nil
}

func (s *Memory) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants[chatID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) Cursor(_ context.Context, chatID, userID string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants[chatID] {
		if p.UserID == userID {
			pp := *p
			return &pp, nil
		}
	}
	return nil, syncerr.ErrNotFound
}

func (s *Memory) AdvanceCursor(_ context.Context, chatID, userID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.messages[messageID]
	if !ok || wm.ChatID != chatID {
		return syncerr.ErrNotFound
	}
	for _, p := range s.participants[chatID] {
		if p.UserID != userID {
			continue
		}
		if p.LastReadMessageID != "" {
			if cur, ok := s.messages[p.LastReadMessageID]; ok && !cur.Before(wm) {
				return nil // stale watermark
			}
		}
		p.LastReadMessageID = messageID
		t := at
		p.LastReadAt = &t
		return nil
	}
	return syncerr.ErrNotFound
}

func (s *Memory) UpdateSummary(_ context.Context, chatID, preview string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return syncerr.ErrNotFound
	}
	c.LastMessage = preview
	t := at
	c.LastMessageTime = &t
	return nil
}

// Messages returns the MessageStore view of the shared state.
func (s *Memory) Messages() MessageStore { return memoryMessages{s} }

// Chats returns the ChatStore view of the shared state.
func (s *Memory) Chats() ChatStore { return memoryChats{s} }

// The two interfaces both name a Get method with different signatures,
// so thin views supply the right one each.
type memoryMessages struct{ *Memory }

func (v memoryMessages) Get(ctx context.Context, id string) (*domain.Message, error) {
	return v.GetMessage(ctx, id)
}

type memoryChats struct{ *Memory }

func (v memoryChats) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	return v.GetChat(ctx, chatID)
}

var (
	_ MessageStore = memoryMessages{}
	_ ChatStore    = memoryChats{}
)

// AddParticipant registers a chat membership row directly. Group chat
// management lives outside the sync core; tests and fixtures use this.
func (s *Memory) AddParticipant(chat *domain.Chat, userID string, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; !ok {
		cc := *chat
		s.chats[chat.ID] = &cc
	}
	s.participants[chat.ID] = append(s.participants[chat.ID], &domain.Participant{
		ChatID: chat.ID, UserID: userID, Role: role,
	})
}
