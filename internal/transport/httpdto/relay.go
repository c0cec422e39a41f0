package httpdto

import (
	"time"

	"hr-realtime/internal/domain/message"
)

// RelayRequest is posted by the CRUD service after a message is persisted.
type RelayRequest struct {
	ID             string    `json:"id" binding:"required"`
	ConversationID string    `json:"conversation_id" binding:"required"`
	SenderID       string    `json:"sender_id" binding:"required"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}

// RelayResponse reports how many connections received the message.
type RelayResponse struct {
	MessageID  string `json:"message_id"`
	Deliveries int    `json:"deliveries"`
}

func (r RelayRequest) ToMessage() message.Message {
	return message.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		Content:        r.Content,
		Kind:           message.Kind(r.Kind),
		CreatedAt:      r.CreatedAt,
	}
}
