package events

import (
	"encoding/json"
	"fmt"

	"github.com/fathima-sithara/messenger-service/internal/domain"
)

// ConversationEvent is published on CONVERSATION_CREATED and CONVERSATION_UPDATED.
type ConversationEvent struct {
	Conversation *domain.ConversationView `json:"conversation"`
}

// ConversationDeletedEvent keeps the participant ids so listeners can tell
// whether they were members of a conversation that no longer exists.
type ConversationDeletedEvent struct {
	ConversationID string   `json:"conversationId"`
	ParticipantIDs []string `json:"participantIds"`
}

type MessageSentEvent struct {
	Message        *domain.MessageView `json:"message"`
	ParticipantIDs []string            `json:"participantIds"`
}

// ConversationKey is the partitioning key of a payload: the id of the
// conversation it concerns.
func ConversationKey(payload any) string {
	switch p := payload.(type) {
	case ConversationEvent:
		if p.Conversation != nil {
			return p.Conversation.ID
		}
	case ConversationDeletedEvent:
		return p.ConversationID
	case MessageSentEvent:
		if p.Message != nil {
			return p.Message.ConversationID
		}
	}
	return ""
}

// DecodePayload rebuilds the typed payload for ch from its JSON form.
func DecodePayload(ch Channel, raw json.RawMessage) (any, error) {
	switch ch {
	case ConversationCreated, ConversationUpdated:
		var p ConversationEvent
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case ConversationDeleted:
		var p ConversationDeletedEvent
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case MessageSent:
		var p MessageSentEvent
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown channel %q", ch)
}
