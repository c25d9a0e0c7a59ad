package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/events"
	"github.com/fathima-sithara/messenger-service/internal/utils"
)

type CreateConversationInput struct {
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,notblank"`
}

type CreateConversationResult struct {
	ConversationID string `json:"conversationId"`
}

type ConversationInput struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// Conversations lists the caller's conversations, most recently active first.
func (m *Messenger) Conversations(ctx context.Context, id *auth.Identity) ([]*domain.ConversationView, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	convs, err := m.store.ListConversations(ctx, id.UserID)
	if err != nil {
		return nil, m.classify("conversations", err, "conversation not found")
	}
	views, err := m.populate(ctx, convs)
	if err != nil {
		return nil, m.classify("conversations", err, "conversation not found")
	}
	sortByActivity(views)
	return views, nil
}

// normalizeParticipants puts the caller first and drops duplicates.
func normalizeParticipants(callerID string, ids []string) []string {
	out := []string{callerID}
	seen := map[string]struct{}{callerID: {}}
	for _, raw := range ids {
		uid := strings.TrimSpace(raw)
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}

func (m *Messenger) CreateConversation(ctx context.Context, id *auth.Identity, in CreateConversationInput) (*CreateConversationResult, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	userIDs := normalizeParticipants(id.UserID, in.ParticipantIDs)
	users, err := m.store.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, m.classify("createConversation", err, "user not found")
	}
	known := make(map[string]struct{}, len(users))
	for _, u := range users {
		known[u.ID] = struct{}{}
	}
	// the caller comes from a verified session and may not be provisioned
	for _, uid := range userIDs[1:] {
		if _, ok := known[uid]; !ok {
			return nil, apperr.Newf(apperr.NotFound, "user %s not found", uid)
		}
	}

	now := utils.NowUTC()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, uid := range userIDs {
		conv.Participants = append(conv.Participants, domain.Participant{
			ID:     uuid.NewString(),
			UserID: uid,
		})
	}

	unlock := m.locks.Lock(conv.ID)
	defer unlock()
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, m.classify("createConversation", err, "conversation not found")
	}
	m.log.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", id.UserID),
		zap.Int("participants", len(conv.Participants)))

	view, err := m.populateOne(ctx, conv)
	if err != nil {
		m.log.Error("populate created conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else {
		m.publish(ctx, events.ConversationCreated, events.ConversationEvent{Conversation: view})
	}
	return &CreateConversationResult{ConversationID: conv.ID}, nil
}

func (m *Messenger) DeleteConversation(ctx context.Context, id *auth.Identity, in ConversationInput) (*SuccessResult, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(in.ConversationID)
	defer unlock()

	conv, err := m.participantConversation(ctx, "deleteConversation", id, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := m.store.DeleteConversation(ctx, conv.ID); err != nil {
		return nil, m.classify("deleteConversation", err, "conversation not found")
	}
	m.log.Info("conversation deleted", zap.String("conversation_id", conv.ID), zap.String("user_id", id.UserID))

	m.publish(ctx, events.ConversationDeleted, events.ConversationDeletedEvent{
		ConversationID: conv.ID,
		ParticipantIDs: conv.ParticipantIDs(),
	})
	return &SuccessResult{Success: true}, nil
}

// MarkConversationSeen sets the caller's seen flag. Nothing is published.
func (m *Messenger) MarkConversationSeen(ctx context.Context, id *auth.Identity, in ConversationInput) (*SuccessResult, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(in.ConversationID)
	defer unlock()

	conv, err := m.participantConversation(ctx, "markConversationSeen", id, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := m.store.MarkSeen(ctx, conv.ID, id.UserID); err != nil {
		return nil, m.classify("markConversationSeen", err, "conversation not found")
	}
	return &SuccessResult{Success: true}, nil
}
