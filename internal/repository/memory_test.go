package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messenger-service/internal/domain"
)

func seedUsers(t *testing.T, s *MemoryStore, users ...domain.User) {
	t.Helper()
	for i := range users {
		require.NoError(t, s.UpsertUser(context.Background(), &users[i]))
	}
}

func newConversation(id string, userIDs ...string) *domain.Conversation {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &domain.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
	for _, uid := range userIDs {
		c.Participants = append(c.Participants, domain.Participant{ID: id + "-" + uid, UserID: uid})
	}
	return c
}

func TestMemoryStore_SetUsername(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, domain.User{ID: "u1"}, domain.User{ID: "u2"})

	require.NoError(t, s.SetUsername(ctx, "u1", "ada"))
	require.ErrorIs(t, s.SetUsername(ctx, "u2", "ada"), ErrConflict)
	require.ErrorIs(t, s.SetUsername(ctx, "u1", "other"), ErrConflict, "username is set once")
	require.ErrorIs(t, s.SetUsername(ctx, "missing", "x"), ErrNotFound)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "ada", u.Username)

	u, err = s.GetUserByUsername(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	_, err = s.GetUserByUsername(ctx, "ADA")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertKeepsUsername(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, domain.User{ID: "u1", Username: "ada", Name: "Ada"})
	require.NoError(t, s.UpsertUser(ctx, &domain.User{ID: "u1", Name: "Ada L."}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "ada", u.Username)
	require.Equal(t, "Ada L.", u.Name)
}

func TestMemoryStore_UpsertAppliesMissingUsername(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, domain.User{ID: "u1", Name: "Ada"}, domain.User{ID: "u2", Username: "grace"})

	require.NoError(t, s.UpsertUser(ctx, &domain.User{ID: "u1", Username: "ada"}))
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "ada", u.Username)

	// a set handle is not replaced
	require.NoError(t, s.UpsertUser(ctx, &domain.User{ID: "u1", Username: "lovelace"}))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "ada", u.Username)

	require.ErrorIs(t, s.UpsertUser(ctx, &domain.User{ID: "u3", Username: "grace"}), ErrConflict)
}

func TestMemoryStore_SearchUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s,
		domain.User{ID: "u1", Username: "Alice"},
		domain.User{ID: "u2", Username: "malik"},
		domain.User{ID: "u3", Username: "bob"},
		domain.User{ID: "u4"},
	)

	got, err := s.SearchUsers(ctx, UserQuery{Username: "ALI", Match: MatchSubstring})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Alice", got[0].Username)
	require.Equal(t, "malik", got[1].Username)

	got, err = s.SearchUsers(ctx, UserQuery{Username: "ali", Match: MatchPrefix})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "u1", got[0].ID)

	got, err = s.SearchUsers(ctx, UserQuery{Username: "ali", Match: MatchSubstring, ExcludeID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "u2", got[0].ID)

	got, err = s.SearchUsers(ctx, UserQuery{Username: "", Match: MatchSubstring, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMemoryStore_CreateConversationRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "u1", "u2")))
	require.ErrorIs(t, s.CreateConversation(ctx, newConversation("c1", "u1")), ErrConflict)
	require.ErrorIs(t, s.CreateConversation(ctx, newConversation("c2", "u1", "u1")), ErrConflict)
}

func TestMemoryStore_AppendMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newConversation("c1", "u1", "u2", "u3")
	c.Participants[1].HasSeenLatestMessage = true
	require.NoError(t, s.CreateConversation(ctx, c))

	at := c.UpdatedAt.Add(time.Minute)
	updated, err := s.AppendMessage(ctx, &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u3", Body: "hi", CreatedAt: at})
	require.NoError(t, err)
	require.Equal(t, "m1", updated.LatestMessageID)
	require.Equal(t, at, updated.UpdatedAt)
	for _, p := range updated.Participants {
		require.Equal(t, p.UserID == "u3", p.HasSeenLatestMessage, p.UserID)
	}

	// clock going backwards does not rewind activity
	_, err = s.AppendMessage(ctx, &domain.Message{ID: "m2", ConversationID: "c1", SenderID: "u1", Body: "yo", CreatedAt: at.Add(-time.Hour)})
	require.NoError(t, err)
	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, at, got.UpdatedAt)
	require.Equal(t, "m2", got.LatestMessageID)

	_, err = s.AppendMessage(ctx, &domain.Message{ID: "m3", ConversationID: "nope", SenderID: "u1"})
	require.ErrorIs(t, err, ErrNotFound)

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m2", msgs[0].ID)
	require.Equal(t, "m1", msgs[1].ID)
}

func TestMemoryStore_MarkSeen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "u1", "u2")))

	require.NoError(t, s.MarkSeen(ctx, "c1", "u2"))
	require.NoError(t, s.MarkSeen(ctx, "c1", "u2"))
	require.ErrorIs(t, s.MarkSeen(ctx, "c1", "u9"), ErrNotFound)
	require.ErrorIs(t, s.MarkSeen(ctx, "c9", "u1"), ErrNotFound)

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.False(t, got.Participants[0].HasSeenLatestMessage)
	require.True(t, got.Participants[1].HasSeenLatestMessage)
}

func TestMemoryStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "u1", "u2")))
	_, err := s.AppendMessage(ctx, &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Body: "hi", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, "c1"))
	require.ErrorIs(t, s.DeleteConversation(ctx, "c1"), ErrNotFound)

	_, err = s.GetConversation(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.GetMessages(ctx, []string{"m1"})
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMemoryStore_ListConversationsOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	older := newConversation("c-old", "u1", "u2")
	newer := newConversation("c-new", "u1", "u3")
	newer.UpdatedAt = older.UpdatedAt.Add(time.Hour)
	other := newConversation("c-other", "u2", "u3")
	for _, c := range []*domain.Conversation{older, newer, other} {
		require.NoError(t, s.CreateConversation(ctx, c))
	}

	got, err := s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c-new", got[0].ID)
	require.Equal(t, "c-old", got[1].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "u1")))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	got.Participants[0].HasSeenLatestMessage = true

	again, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.False(t, again.Participants[0].HasSeenLatestMessage)
}
