package message

import (
	"encoding/json"
	"errors"
	"testing"

	rt_errors "hr-realtime/pkg/errors"
)

func TestValidate(t *testing.T) {
	base := Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hi"}

	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr bool
	}{
		{"unset kind", func(*Message) {}, false},
		{"poll", func(m *Message) { m.Kind = KindPoll }, false},
		{"unknown kind", func(m *Message) { m.Kind = "video" }, true},
		{"missing id", func(m *Message) { m.ID = "" }, true},
		{"missing conversation", func(m *Message) { m.ConversationID = "" }, true},
		{"missing sender", func(m *Message) { m.SenderID = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, rt_errors.ErrInvalidInput) {
				t.Errorf("Validate() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestUnsetKindEncodesAsText(t *testing.T) {
	m := Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hi"}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if m.Kind != "" {
		t.Fatalf("Validate changed Kind to %q", m.Kind)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["kind"] != "text" {
		t.Errorf("encoded kind = %v, want text", fields["kind"])
	}
	if m.Kind != "" {
		t.Errorf("Marshal changed Kind to %q", m.Kind)
	}

	m.Kind = KindSticker
	raw, _ = json.Marshal(m)
	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind != KindSticker || back.ID != "m1" {
		t.Errorf("round trip = %+v", back)
	}
}
