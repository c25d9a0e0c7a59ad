package service

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
	"github.com/fathima-sithara/messenger-service/internal/auth"
	"github.com/fathima-sithara/messenger-service/internal/domain"
	"github.com/fathima-sithara/messenger-service/internal/events"
	"github.com/fathima-sithara/messenger-service/internal/repository"
)

type Options struct {
	SearchMatch   repository.MatchMode
	SearchLimit   int
	MaxBodyLength int
}

func (o *Options) defaults() {
	if o.SearchMatch == "" {
		o.SearchMatch = repository.MatchSubstring
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 20
	}
	if o.MaxBodyLength <= 0 {
		o.MaxBodyLength = 4096
	}
}

// Messenger implements every query, mutation and subscription. Each call
// receives the caller's identity explicitly.
type Messenger struct {
	store repository.Store
	bus   *events.Bus
	locks *keyedMutex
	opts  Options
	log   *zap.Logger
}

func NewMessenger(store repository.Store, bus *events.Bus, opts Options, log *zap.Logger) *Messenger {
	opts.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Messenger{
		store: store,
		bus:   bus,
		locks: newKeyedMutex(),
		opts:  opts,
		log:   log.Named("messenger"),
	}
}

type SuccessResult struct {
	Success bool `json:"success"`
}

func requireIdentity(id *auth.Identity) error {
	if id == nil || id.UserID == "" {
		return apperr.New(apperr.Unauthorized, "not authenticated")
	}
	return nil
}

// classify turns a store error into an apperr. Unexpected errors are logged
// and reported as a bare Internal so driver details never reach a client.
func (m *Messenger) classify(op string, err error, notFound string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, err, notFound)
	case errors.Is(err, repository.ErrConflict):
		return apperr.Wrap(apperr.Conflict, err, "conflicting concurrent update")
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	m.log.Error("store failure", zap.String("operation", op), zap.Error(err))
	return apperr.Wrap(apperr.Internal, err, "internal error")
}

// publish fans an event out after a committed write. Failures are logged and
// never undo the write; the context is detached so a caller going away
// cannot cancel the publication.
func (m *Messenger) publish(ctx context.Context, ch events.Channel, payload any) {
	if err := m.bus.Publish(context.WithoutCancel(ctx), ch, payload); err != nil {
		m.log.Error("publish failed",
			zap.String("channel", string(ch)),
			zap.String("conversation_id", events.ConversationKey(payload)),
			zap.Error(err))
	}
}

// participantConversation loads a conversation the caller must belong to.
func (m *Messenger) participantConversation(ctx context.Context, op string, id *auth.Identity, conversationID string) (*domain.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, m.classify(op, err, "conversation not found")
	}
	if !conv.HasParticipant(id.UserID) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this conversation")
	}
	return conv, nil
}

func (m *Messenger) userSummaries(ctx context.Context, ids []string) (map[string]domain.UserSummary, error) {
	users, err := m.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.UserSummary, len(ids))
	for _, id := range ids {
		out[id] = domain.UserSummary{ID: id}
	}
	for _, u := range users {
		out[u.ID] = u.Summary()
	}
	return out, nil
}

func messageView(msg *domain.Message, users map[string]domain.UserSummary) *domain.MessageView {
	sender, ok := users[msg.SenderID]
	if !ok {
		sender = domain.UserSummary{ID: msg.SenderID}
	}
	return &domain.MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         sender,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
	}
}

// populate resolves participants' users and latest messages for convs,
// keeping their order.
func (m *Messenger) populate(ctx context.Context, convs []*domain.Conversation) ([]*domain.ConversationView, error) {
	var msgIDs []string
	for _, c := range convs {
		if c.LatestMessageID != "" {
			msgIDs = append(msgIDs, c.LatestMessageID)
		}
	}
	latest := map[string]*domain.Message{}
	if len(msgIDs) > 0 {
		msgs, err := m.store.GetMessages(ctx, msgIDs)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			latest[msg.ID] = msg
		}
	}

	seen := map[string]struct{}{}
	var userIDs []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			userIDs = append(userIDs, id)
		}
	}
	for _, c := range convs {
		for _, p := range c.Participants {
			add(p.UserID)
		}
	}
	for _, msg := range latest {
		add(msg.SenderID)
	}
	users, err := m.userSummaries(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.ConversationView, 0, len(convs))
	for _, c := range convs {
		v := &domain.ConversationView{
			ID:           c.ID,
			Participants: make([]domain.ParticipantView, 0, len(c.Participants)),
			UpdatedAt:    c.UpdatedAt,
		}
		for _, p := range c.Participants {
			v.Participants = append(v.Participants, domain.ParticipantView{
				ID:                   p.ID,
				User:                 users[p.UserID],
				HasSeenLatestMessage: p.HasSeenLatestMessage,
			})
		}
		if msg, ok := latest[c.LatestMessageID]; ok {
			v.LatestMessage = messageView(msg, users)
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *Messenger) populateOne(ctx context.Context, c *domain.Conversation) (*domain.ConversationView, error) {
	views, err := m.populate(ctx, []*domain.Conversation{c})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func sortByActivity(views []*domain.ConversationView) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].UpdatedAt.Equal(views[j].UpdatedAt) {
			return views[i].UpdatedAt.After(views[j].UpdatedAt)
		}
		return views[i].ID < views[j].ID
	})
}
