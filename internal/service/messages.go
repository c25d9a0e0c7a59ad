package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/events"
	"github.com/fathima-sithara/messenger-service/internal/utils"
)

// SendMessageInput's body is checked after membership, against the
// configured length limit.
type SendMessageInput struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Body           string `json:"body"`
}

// SendMessage stores a message and publishes MESSAGE_SENT followed by
// CONVERSATION_UPDATED. The conversation stays locked until both are out so
// listeners see events in write order.
func (m *Messenger) SendMessage(ctx context.Context, id *auth.Identity, in SendMessageInput) (*domain.MessageView, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(in.ConversationID)
	defer unlock()

	conv, err := m.participantConversation(ctx, "sendMessage", id, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := checkField("body", in.Body, fmt.Sprintf("notblank,max=%d", m.opts.MaxBodyLength)); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       id.UserID,
		Body:           in.Body,
		CreatedAt:      utils.NowUTC(),
	}
	updated, err := m.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, m.classify("sendMessage", err, "conversation not found")
	}

	users, err := m.userSummaries(ctx, []string{id.UserID})
	if err != nil {
		m.log.Warn("resolve sender", zap.String("user_id", id.UserID), zap.Error(err))
		users = map[string]domain.UserSummary{}
	}
	view := messageView(msg, users)
	m.publish(ctx, events.MessageSent, events.MessageSentEvent{
		Message:        view,
		ParticipantIDs: updated.ParticipantIDs(),
	})

	convView, err := m.populateOne(ctx, updated)
	if err != nil {
		m.log.Error("populate updated conversation", zap.String("conversation_id", updated.ID), zap.Error(err))
	} else {
		m.publish(ctx, events.ConversationUpdated, events.ConversationEvent{Conversation: convView})
	}
	return view, nil
}

// Messages returns a conversation's messages, newest first.
func (m *Messenger) Messages(ctx context.Context, id *auth.Identity, in ConversationInput) ([]*domain.MessageView, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	conv, err := m.participantConversation(ctx, "messages", id, in.ConversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, m.classify("messages", err, "conversation not found")
	}
	seen := map[string]struct{}{}
	var senders []string
	for _, msg := range msgs {
		if _, ok := seen[msg.SenderID]; !ok {
			seen[msg.SenderID] = struct{}{}
			senders = append(senders, msg.SenderID)
		}
	}
	users, err := m.userSummaries(ctx, senders)
	if err != nil {
		return nil, m.classify("messages", err, "conversation not found")
	}
	out := make([]*domain.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageView(msg, users))
	}
	return out, nil
}
