package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used when no database is configured and
// in tests. One lock covers everything, so upsert and append are atomic.
type Memory struct {
	mu sync.RWMutex

	conversations map[string]*Conversation // pair key -> conversation
	messages      map[string]Message       // id -> message
	notifications []*Notification          // insertion order
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		conversations: map[string]*Conversation{},
		messages:      map[string]Message{},
		now:           time.Now,
	}
}

func (s *Memory) Close() {}

func cloneConversation(c *Conversation) *Conversation {
	cp := *c
	cp.MessageIDs = slices.Clone(c.MessageIDs)
	return &cp
}

func (s *Memory) UpsertConversation(_ context.Context, a, b string) (*Conversation, error) {
	key := PairKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[key]; ok {
		return cloneConversation(c), nil
	}
	now := s.now().UTC()
	c := &Conversation{
		ID:           uuid.NewString(),
		PairKey:      key,
		Participants: sortedPair(a, b),
		MessageIDs:   []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[key] = c
	return cloneConversation(c), nil
}

func (s *Memory) FindConversation(_ context.Context, a, b string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *Memory) AppendMessage(_ context.Context, conv *Conversation, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[conv.PairKey]
	if !ok || stored.ID != conv.ID {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.ConversationID = stored.ID
	s.messages[msg.ID] = *msg
	stored.MessageIDs = append(stored.MessageIDs, msg.ID)
	stored.UpdatedAt = msg.CreatedAt

	conv.MessageIDs = slices.Clone(stored.MessageIDs)
	conv.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *Memory) ListMessages(_ context.Context, a, b string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[PairKey(a, b)]
	if !ok {
		return []Message{}, nil
	}
	out := make([]Message, 0, len(c.MessageIDs))
	for _, id := range c.MessageIDs {
		out = append(out, s.messages[id])
	}
	return out, nil
}

func (s *Memory) ListConversations(_ context.Context, identity string) ([]Conversation, error) {
	s.mu.RLock()
	out := []Conversation{}
	for _, c := range s.conversations {
		if c.Participants[0] == identity || c.Participants[1] == identity {
			out = append(out, *cloneConversation(c))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Memory) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *Memory) ListNotifications(_ context.Context, recipient string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Notification{}
	// newest first: walk insertion order backwards
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.RecipientID != recipient {
			continue
		}
		out = append(out, *n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) UnreadCount(_ context.Context, recipient string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipient && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *Memory) MarkRead(_ context.Context, recipient, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id && n.RecipientID == recipient {
			n.IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) MarkAllRead(_ context.Context, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipient && !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}
