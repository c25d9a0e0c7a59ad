package service

import (
	"context"
	"errors"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/events"
)

type MessageSentInput struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type ConversationDeletedResult struct {
	ID string `json:"id"`
}

// filterFunc maps an event to what the subscriber receives, or reports that
// the subscriber must not see it.
type filterFunc func(events.Event) (any, bool)

// Stream is one subscriber's filtered view of a bus channel.
type Stream struct {
	sub    *events.Subscription
	filter filterFunc
}

// Next blocks until an event passes the filter, the context is done or the
// underlying subscription ends.
func (s *Stream) Next(ctx context.Context) (any, error) {
	for {
		ev, err := s.sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if out, ok := s.filter(ev); ok {
			return out, nil
		}
	}
}

func (s *Stream) Close() { s.sub.Close() }

// StreamEnded reports whether err from Next is an orderly end of the stream
// rather than a fault the subscriber should be told about.
func StreamEnded(err error) bool {
	return errors.Is(err, events.ErrBusClosed) ||
		errors.Is(err, events.ErrSubscriptionClosed) ||
		errors.Is(err, context.Canceled)
}

func (m *Messenger) stream(ch events.Channel, id *auth.Identity, filter filterFunc) (*Stream, error) {
	sub, err := m.bus.Subscribe(ch)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "subscription unavailable")
	}
	if id == nil || id.UserID == "" {
		// anonymous subscribers are accepted but never see anything
		filter = func(events.Event) (any, bool) { return nil, false }
	}
	return &Stream{sub: sub, filter: filter}, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (m *Messenger) SubscribeConversationCreated(ctx context.Context, id *auth.Identity) (*Stream, error) {
	return m.stream(events.ConversationCreated, id, func(ev events.Event) (any, bool) {
		p, ok := ev.Payload.(events.ConversationEvent)
		if !ok || p.Conversation == nil || !p.Conversation.HasParticipant(id.UserID) {
			return nil, false
		}
		return p.Conversation, true
	})
}

func (m *Messenger) SubscribeConversationUpdated(ctx context.Context, id *auth.Identity) (*Stream, error) {
	return m.stream(events.ConversationUpdated, id, func(ev events.Event) (any, bool) {
		p, ok := ev.Payload.(events.ConversationEvent)
		if !ok || p.Conversation == nil || !p.Conversation.HasParticipant(id.UserID) {
			return nil, false
		}
		return p, true
	})
}

func (m *Messenger) SubscribeConversationDeleted(ctx context.Context, id *auth.Identity) (*Stream, error) {
	return m.stream(events.ConversationDeleted, id, func(ev events.Event) (any, bool) {
		p, ok := ev.Payload.(events.ConversationDeletedEvent)
		if !ok || !contains(p.ParticipantIDs, id.UserID) {
			return nil, false
		}
		return ConversationDeletedResult{ID: p.ConversationID}, true
	})
}

func (m *Messenger) SubscribeMessageSent(ctx context.Context, id *auth.Identity, in MessageSentInput) (*Stream, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	return m.stream(events.MessageSent, id, func(ev events.Event) (any, bool) {
		p, ok := ev.Payload.(events.MessageSentEvent)
		if !ok || p.Message == nil || p.Message.ConversationID != in.ConversationID {
			return nil, false
		}
		if !contains(p.ParticipantIDs, id.UserID) {
			return nil, false
		}
		return p.Message, true
	})
}
