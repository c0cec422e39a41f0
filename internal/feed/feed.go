package feed

import (
	"context"
	"encoding/json"

	"hr-realtime/internal/domain/conversation"
	"hr-realtime/internal/domain/message"
	"hr-realtime/internal/events"
	"hr-realtime/pkg/logger"

	"go.uber.org/zap"
)

// Relayer delivers a persisted message to the conversation's subscribers.
type Relayer interface {
	Relay(ctx context.Context, msg message.Message) (int, error)
}

// Invalidator drops cached conversation and peer data.
type Invalidator interface {
	InvalidateConversation(ctx context.Context, conv *conversation.Conversation) error
}

// MessageFeed bridges messages persisted elsewhere onto the local messaging
// channel. Publishers send either a new_message envelope or a bare message.
// Duplicate ids are dropped by the channel, so a message relayed over
// websocket and again through the feed reaches each connection once.
// conversation_updated envelopes drop the cached membership.
type MessageFeed struct {
	subscriber  events.Subscriber
	relayer     Relayer
	invalidator Invalidator
	logger      *logger.Logger
}

func NewMessageFeed(subscriber events.Subscriber, relayer Relayer, l *logger.Logger) *MessageFeed {
	return &MessageFeed{
		subscriber: subscriber,
		relayer:    relayer,
		logger:     l.Named("message_feed"),
	}
}

// WithInvalidator enables handling of conversation_updated.
func (f *MessageFeed) WithInvalidator(inv Invalidator) *MessageFeed {
	f.invalidator = inv
	return f
}

// Run consumes channel until ctx ends.
func (f *MessageFeed) Run(ctx context.Context, channel string) error {
	f.logger.Info("message feed subscribed", zap.String("channel", channel))
	return f.subscriber.Subscribe(ctx, []string{channel}, func(ch string, payload []byte) {
		f.handle(ctx, ch, payload)
	})
}

func (f *MessageFeed) handle(ctx context.Context, channel string, payload []byte) {
	var env events.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		// Bare message JSON.
		var msg message.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			f.logger.Warn("undecodable feed payload", zap.String("channel", channel), zap.Error(err))
			return
		}
		f.relay(ctx, msg)
		return
	}

	switch env.Event {
	case events.EventNewMessage:
		var msg message.Message
		if err := env.Decode(&msg); err != nil {
			f.logger.Warn("undecodable feed payload", zap.String("channel", channel), zap.Error(err))
			return
		}
		f.relay(ctx, msg)

	case events.EventConversationUpdated:
		var p events.ConversationUpdatedPayload
		if err := env.Decode(&p); err != nil || p.ConversationID == "" {
			f.logger.Warn("undecodable conversation update", zap.String("channel", channel), zap.Error(err))
			return
		}
		f.invalidate(ctx, p)

	default:
		f.logger.Warn("unexpected feed event", zap.String("channel", channel), zap.String("event", env.Event))
	}
}

func (f *MessageFeed) relay(ctx context.Context, msg message.Message) {
	delivered, err := f.relayer.Relay(ctx, msg)
	if err != nil {
		f.logger.Warn("feed relay failed",
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
		return
	}
	f.logger.Debug("feed message relayed", zap.String("message_id", msg.ID), zap.Int("delivered", delivered))
}

func (f *MessageFeed) invalidate(ctx context.Context, p events.ConversationUpdatedPayload) {
	if f.invalidator == nil {
		return
	}
	conv := &conversation.Conversation{ID: p.ConversationID, ParticipantIDs: p.ParticipantIDs}
	if err := f.invalidator.InvalidateConversation(ctx, conv); err != nil {
		f.logger.Warn("conversation cache invalidation failed",
			zap.String("conversation_id", p.ConversationID),
			zap.Error(err))
		return
	}
	f.logger.Debug("conversation cache invalidated",
		zap.String("conversation_id", p.ConversationID),
		zap.Int("participants", len(p.ParticipantIDs)))
}
