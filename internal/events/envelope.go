package events

import (
	"encoding/json"
	"fmt"
)

// Envelope is the frame exchanged in both directions over a client connection.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with payload marshalled to JSON.
func New(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(event string, payload any) Envelope {
	env, err := New(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty %s payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Bytes encodes the envelope for the wire.
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}
