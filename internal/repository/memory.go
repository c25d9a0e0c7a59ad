package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/utils"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// "memory" storage driver.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*domain.User
	conversations map[string]*domain.Conversation
	messages      map[string]*domain.Message
	byConv        map[string][]string // conversationID -> message ids in insert order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*domain.User),
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string]*domain.Message),
		byConv:        make(map[string][]string),
	}
}

func (s *MemoryStore) UpsertUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	existing, ok := s.users[u.ID]
	if ok {
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = existing.CreatedAt
		}
		// a handle, once set, only changes through SetUsername
		if existing.Username != "" {
			cp.Username = existing.Username
		}
	}
	if cp.Username != "" && (!ok || existing.Username == "") {
		for id, other := range s.users {
			if id != u.ID && other.Username == cp.Username {
				return ErrConflict
			}
		}
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = utils.NowUTC()
	}
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUsers(_ context.Context, ids []string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetUsername(_ context.Context, id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.Username != "" {
		return ErrConflict
	}
	for otherID, other := range s.users {
		if otherID != id && other.Username == username {
			return ErrConflict
		}
	}
	u.Username = username
	return nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, q UserQuery) ([]*domain.User, error) {
	needle := strings.ToLower(q.Username)
	s.mu.RLock()
	var out []*domain.User
	for _, u := range s.users {
		if u.Username == "" || u.ID == q.ExcludeID {
			continue
		}
		name := strings.ToLower(u.Username)
		var hit bool
		if q.Match == MatchPrefix {
			hit = strings.HasPrefix(name, needle)
		} else {
			hit = strings.Contains(name, needle)
		}
		if hit {
			cp := *u
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return ErrConflict
	}
	seen := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		if _, dup := seen[p.UserID]; dup {
			return ErrConflict
		}
		seen[p.UserID] = struct{}{}
	}
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]*domain.Conversation, error) {
	s.mu.RLock()
	var out []*domain.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	for _, mid := range s.byConv[id] {
		delete(s.messages, mid)
	}
	delete(s.byConv, id)
	return nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	p, ok := c.Participant(userID)
	if !ok {
		return ErrNotFound
	}
	p.HasSeenLatestMessage = true
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *domain.Message) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, dup := s.messages[m.ID]; dup {
		return nil, ErrConflict
	}
	cp := *m
	s.messages[m.ID] = &cp
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)

	c.LatestMessageID = m.ID
	c.UpdatedAt = utils.Later(c.UpdatedAt, m.CreatedAt)
	for i := range c.Participants {
		c.Participants[i].HasSeenLatestMessage = c.Participants[i].UserID == m.SenderID
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetMessages(_ context.Context, ids []string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conversationID]
	out := make([]*domain.Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		cp := *s.messages[ids[i]]
		out = append(out, &cp)
	}
	return out, nil
}
