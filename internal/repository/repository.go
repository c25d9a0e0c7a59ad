package repository

import (
	"context"
	"errors"

	"github.com/fathima-sithara/messenger-service/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type MatchMode string

const (
	MatchSubstring MatchMode = "substring"
	MatchPrefix    MatchMode = "prefix"
)

type UserQuery struct {
	Username  string
	ExcludeID string
	Match     MatchMode
	Limit     int
}

type UserStore interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// GetUsers returns the users that exist; unknown ids are skipped.
	GetUsers(ctx context.Context, ids []string) ([]*domain.User, error)
	// SetUsername fails with ErrConflict when the name is taken or the user
	// already has one.
	SetUsername(ctx context.Context, id, username string) error
	SearchUsers(ctx context.Context, q UserQuery) ([]*domain.User, error)
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, c *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	// ListConversations returns the user's conversations, most recently active first.
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	// DeleteConversation removes the conversation with its participants and messages.
	DeleteConversation(ctx context.Context, id string) error
	MarkSeen(ctx context.Context, conversationID, userID string) error
}

type MessageStore interface {
	// AppendMessage stores m and, in one step on the conversation, points the
	// latest message at it, advances updated_at and resets seen flags so only
	// the sender has seen it.
	AppendMessage(ctx context.Context, m *domain.Message) (*domain.Conversation, error)
	GetMessages(ctx context.Context, ids []string) ([]*domain.Message, error)
	// ListMessages returns the conversation's messages, newest first.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

// Store is the data access layer the resolvers run against.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
}
