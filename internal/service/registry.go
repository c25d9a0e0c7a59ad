package service

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
)

// Handler runs a query or mutation with JSON-encoded variables.
type Handler func(ctx context.Context, id *auth.Identity, vars json.RawMessage) (any, error)

// SubscribeHandler opens a subscription with JSON-encoded variables.
type SubscribeHandler func(ctx context.Context, id *auth.Identity, vars json.RawMessage) (*Stream, error)

// Registry is the fixed set of operations transports dispatch to by name.
type Registry struct {
	Queries       map[string]Handler
	Mutations     map[string]Handler
	Subscriptions map[string]SubscribeHandler
}

func NewRegistry(m *Messenger) *Registry {
	return &Registry{
		Queries: map[string]Handler{
			"conversations": func(ctx context.Context, id *auth.Identity, _ json.RawMessage) (any, error) {
				return m.Conversations(ctx, id)
			},
			"searchUsers": handle(m.SearchUsers),
			"messages":    handle(m.Messages),
		},
		Mutations: map[string]Handler{
			"createUsername":       handle(m.CreateUsername),
			"createConversation":   handle(m.CreateConversation),
			"deleteConversation":   handle(m.DeleteConversation),
			"sendMessage":          handle(m.SendMessage),
			"markConversationSeen": handle(m.MarkConversationSeen),
		},
		Subscriptions: map[string]SubscribeHandler{
			"conversationCreated": func(ctx context.Context, id *auth.Identity, _ json.RawMessage) (*Stream, error) {
				return m.SubscribeConversationCreated(ctx, id)
			},
			"conversationUpdated": func(ctx context.Context, id *auth.Identity, _ json.RawMessage) (*Stream, error) {
				return m.SubscribeConversationUpdated(ctx, id)
			},
			"conversationDeleted": func(ctx context.Context, id *auth.Identity, _ json.RawMessage) (*Stream, error) {
				return m.SubscribeConversationDeleted(ctx, id)
			},
			"messageSent": func(ctx context.Context, id *auth.Identity, vars json.RawMessage) (*Stream, error) {
				in, err := decode[MessageSentInput](vars)
				if err != nil {
					return nil, err
				}
				return m.SubscribeMessageSent(ctx, id, in)
			},
		},
	}
}

// handle adapts a typed operation. Identity is checked before the variables
// are looked at.
func handle[In, Out any](fn func(context.Context, *auth.Identity, In) (Out, error)) Handler {
	return func(ctx context.Context, id *auth.Identity, vars json.RawMessage) (any, error) {
		if err := requireIdentity(id); err != nil {
			return nil, err
		}
		in, err := decode[In](vars)
		if err != nil {
			return nil, err
		}
		return fn(ctx, id, in)
	}
}

func decode[T any](vars json.RawMessage) (T, error) {
	var in T
	trimmed := bytes.TrimSpace(vars)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return in, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, apperr.Wrap(apperr.InvalidInput, err, "malformed variables")
	}
	return in, nil
}
