package domain

import "time"

type Participant struct {
	ID                   string `bson:"id" json:"id"`
	UserID               string `bson:"user_id" json:"userId"`
	HasSeenLatestMessage bool   `bson:"has_seen_latest_message" json:"hasSeenLatestMessage"`
}

type Conversation struct {
	ID              string        `bson:"_id" json:"id"`
	Participants    []Participant `bson:"participants" json:"participants"`
	LatestMessageID string        `bson:"latest_message_id,omitempty" json:"latestMessageId,omitempty"`
	CreatedAt       time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updatedAt"`
}

func (c *Conversation) Participant(userID string) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Clone returns a deep copy; stores hand these out so callers can't alias
// stored state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	return &out
}

type ParticipantView struct {
	ID                   string      `json:"id"`
	User                 UserSummary `json:"user"`
	HasSeenLatestMessage bool        `json:"hasSeenLatestMessage"`
}

// ConversationView is a Conversation with its participants' users and its
// latest message resolved.
type ConversationView struct {
	ID            string            `json:"id"`
	Participants  []ParticipantView `json:"participants"`
	LatestMessage *MessageView      `json:"latestMessage"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func (v *ConversationView) HasParticipant(userID string) bool {
	for _, p := range v.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}
