package message

import (
	"encoding/json"
	"time"

	rt_errors "hr-realtime/pkg/errors"
)

// Kind is the content type of a message.
type Kind string

const (
	KindText       Kind = "text"
	KindAttachment Kind = "attachment"
	KindPoll       Kind = "poll"
	KindContact    Kind = "contact"
	KindSticker    Kind = "sticker"
	KindAudio      Kind = "audio"
)

// Message is an already-persisted message as returned by the collaborator's
// create call. The core relays it verbatim and never mutates it.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindAttachment, KindPoll, KindContact, KindSticker, KindAudio:
		return true
	}
	return false
}

// EffectiveKind is the message kind with an unset kind read as text.
func (m Message) EffectiveKind() Kind {
	if m.Kind == "" {
		return KindText
	}
	return m.Kind
}

// Validate checks the fields the relay path depends on. An empty kind is
// accepted and encoded as text.
func (m Message) Validate() error {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return rt_errors.ErrInvalidInput
	}
	if !m.EffectiveKind().Valid() {
		return rt_errors.ErrInvalidInput
	}
	return nil
}

// MarshalJSON encodes the message with its effective kind.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	w := wire(m)
	w.Kind = m.EffectiveKind()
	return json.Marshal(w)
}
