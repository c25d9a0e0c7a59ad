package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/domain"
)

func TestRegistry_Operations(t *testing.T) {
	r := NewRegistry(newFixture(t).m)

	var queries, mutations, subs []string
	for name := range r.Queries {
		queries = append(queries, name)
	}
	for name := range r.Mutations {
		mutations = append(mutations, name)
	}
	for name := range r.Subscriptions {
		subs = append(subs, name)
	}
	require.ElementsMatch(t, []string{"conversations", "searchUsers", "messages"}, queries)
	require.ElementsMatch(t, []string{"createUsername", "createConversation", "deleteConversation", "sendMessage", "markConversationSeen"}, mutations)
	require.ElementsMatch(t, []string{"conversationCreated", "conversationUpdated", "conversationDeleted", "messageSent"}, subs)
}

func TestRegistry_Dispatch(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry(f.m)
	ctx := context.Background()

	out, err := r.Mutations["createConversation"](ctx, u1, json.RawMessage(`{"participantIds":["u2"]}`))
	require.NoError(t, err)
	id := out.(*CreateConversationResult).ConversationID

	vars, err := json.Marshal(SendMessageInput{ConversationID: id, Body: "hello"})
	require.NoError(t, err)
	out, err = r.Mutations["sendMessage"](ctx, u2, vars)
	require.NoError(t, err)
	require.Equal(t, "hello", out.(*domain.MessageView).Body)

	out, err = r.Queries["conversations"](ctx, u2, nil)
	require.NoError(t, err)
	require.Len(t, out.([]*domain.ConversationView), 1)

	stream, err := r.Subscriptions["messageSent"](ctx, u1, json.RawMessage(`{"conversationId":"`+id+`"}`))
	require.NoError(t, err)
	stream.Close()
}

func TestRegistry_VariableErrors(t *testing.T) {
	r := NewRegistry(newFixture(t).m)
	ctx := context.Background()

	_, err := r.Mutations["sendMessage"](ctx, u1, json.RawMessage(`{"conversationId":`))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = r.Mutations["sendMessage"](ctx, u1, json.RawMessage(`{"conversation":"c1"}`))
	require.ErrorIs(t, err, apperr.ErrInvalidInput, "unknown fields are rejected")

	// identity is checked before variables are decoded
	_, err = r.Mutations["sendMessage"](ctx, nil, json.RawMessage(`garbage`))
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = r.Subscriptions["messageSent"](ctx, u1, json.RawMessage(`null`))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}
