package conversation

import "time"

// Kind is the conversation type as stored by the CRUD collaborator.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindGroup     Kind = "group"
	KindAssistant Kind = "assistant"
)

// Conversation is the read-only view of the conversations table the core needs
// to authorize room joins and pick relay targets.
type Conversation struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Name           string    `json:"name,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// HasParticipant reports whether userID is a member of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DisplayName is the title used for notifications. Only group conversations
// carry a name; direct and assistant chats are titled by the sender.
func (c Conversation) DisplayName(fallback string) string {
	if c.Kind == KindGroup && c.Name != "" {
		return c.Name
	}
	return fallback
}
