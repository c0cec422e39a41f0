package feed

import (
	"context"
	"errors"
	"testing"

	"hr-realtime/internal/domain/conversation"
	"hr-realtime/internal/domain/message"
	"hr-realtime/internal/events"
	"hr-realtime/pkg/logger"
)

type replaySubscriber struct {
	channels []string
	payloads [][]byte
}

func (s *replaySubscriber) Subscribe(_ context.Context, channels []string, handler func(channel string, payload []byte)) error {
	s.channels = channels
	for _, p := range s.payloads {
		handler(channels[0], p)
	}
	return nil
}

type recordingRelayer struct {
	relayed []message.Message
	err     error
}

func (r *recordingRelayer) Relay(_ context.Context, msg message.Message) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.relayed = append(r.relayed, msg)
	return 1, nil
}

type recordingInvalidator struct {
	convs []*conversation.Conversation
}

func (r *recordingInvalidator) InvalidateConversation(_ context.Context, conv *conversation.Conversation) error {
	r.convs = append(r.convs, conv)
	return nil
}

func TestRunRelaysEnvelopeAndBareMessages(t *testing.T) {
	env := events.MustNew(events.EventNewMessage, message.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hi"})
	envBytes, _ := env.Bytes()

	sub := &replaySubscriber{payloads: [][]byte{
		envBytes,
		[]byte(`{"id":"m2","conversation_id":"c1","sender_id":"u2","content":"yo"}`),
	}}
	relayer := &recordingRelayer{}

	f := NewMessageFeed(sub, relayer, logger.NewNop())
	if err := f.Run(context.Background(), events.ChannelSystemMessages); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sub.channels) != 1 || sub.channels[0] != events.ChannelSystemMessages {
		t.Fatalf("subscribed to %v", sub.channels)
	}
	if len(relayer.relayed) != 2 {
		t.Fatalf("expected 2 relays, got %d", len(relayer.relayed))
	}
	if relayer.relayed[0].ID != "m1" || relayer.relayed[1].ID != "m2" {
		t.Errorf("unexpected relay order %+v", relayer.relayed)
	}
}

func TestRunSkipsUndecodablePayloads(t *testing.T) {
	other, _ := events.MustNew(events.EventStatusUpdate, events.StatusUpdatePayload{UserID: "u1"}).Bytes()
	sub := &replaySubscriber{payloads: [][]byte{
		[]byte("not json"),
		other,
	}}
	relayer := &recordingRelayer{}

	f := NewMessageFeed(sub, relayer, logger.NewNop())
	if err := f.Run(context.Background(), "feed"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(relayer.relayed) != 0 {
		t.Fatalf("expected no relays, got %d", len(relayer.relayed))
	}
}

func TestRunContinuesAfterRelayError(t *testing.T) {
	sub := &replaySubscriber{payloads: [][]byte{
		[]byte(`{"id":"m1","conversation_id":"c1","sender_id":"u1"}`),
		[]byte(`{"id":"m2","conversation_id":"c1","sender_id":"u1"}`),
	}}
	relayer := &recordingRelayer{err: errors.New("boom")}

	f := NewMessageFeed(sub, relayer, logger.NewNop())
	if err := f.Run(context.Background(), "feed"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestConversationUpdateInvalidatesCache(t *testing.T) {
	update, _ := events.MustNew(events.EventConversationUpdated, events.ConversationUpdatedPayload{
		ConversationID: "c1",
		ParticipantIDs: []string{"u1", "u2", "u3"},
	}).Bytes()
	sub := &replaySubscriber{payloads: [][]byte{update}}
	relayer := &recordingRelayer{}
	inv := &recordingInvalidator{}

	f := NewMessageFeed(sub, relayer, logger.NewNop()).WithInvalidator(inv)
	if err := f.Run(context.Background(), "feed"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(inv.convs) != 1 {
		t.Fatalf("expected 1 invalidation, got %d", len(inv.convs))
	}
	got := inv.convs[0]
	if got.ID != "c1" || len(got.ParticipantIDs) != 3 {
		t.Errorf("invalidated %+v", got)
	}
	if len(relayer.relayed) != 0 {
		t.Errorf("conversation update was relayed as a message")
	}
}

func TestConversationUpdateWithoutInvalidator(t *testing.T) {
	update, _ := events.MustNew(events.EventConversationUpdated, events.ConversationUpdatedPayload{ConversationID: "c1"}).Bytes()
	sub := &replaySubscriber{payloads: [][]byte{update}}

	f := NewMessageFeed(sub, &recordingRelayer{}, logger.NewNop())
	if err := f.Run(context.Background(), "feed"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
