package domain

import "time"

type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	Body           string    `bson:"body" json:"body"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}

type MessageView struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         UserSummary `json:"sender"`
	Body           string      `json:"body"`
	CreatedAt      time.Time   `json:"createdAt"`
}
