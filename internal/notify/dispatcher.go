package notify

import (
	"context"
	"strings"
	"unicode/utf8"

	"hr-realtime/internal/domain/message"
	"hr-realtime/internal/events"
	"hr-realtime/internal/messaging"
	"hr-realtime/internal/metrics"
	"hr-realtime/pkg/logger"

	"go.uber.org/zap"
)

const previewLimit = 120

// ViewState is what a client last reported about its visibility.
type ViewState struct {
	Foreground           bool   `json:"foreground"`
	ActiveConversationID string `json:"active_conversation_id,omitempty"`
}

// ViewReporter is implemented by connections that track their ViewState.
// Connections that do not are treated as backgrounded.
type ViewReporter interface {
	ViewState() ViewState
}

// ShouldNotify reports whether a relayed message in conversationID warrants
// a notification for a client in view state v. Only a foreground client that
// is looking at that very conversation is spared.
func ShouldNotify(v ViewState, conversationID string) bool {
	return !(v.Foreground && v.ActiveConversationID == conversationID)
}

// Decision is the outcome for one recipient.
type Decision struct {
	Notify bool
	Title  string
	Body   string
}

// Dispatcher raises notification frames for relayed messages.
type Dispatcher struct {
	directory messaging.Directory
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewDispatcher builds a dispatcher. directory may be nil, in which case
// titles fall back to the sender name.
func NewDispatcher(directory messaging.Directory, l *logger.Logger) *Dispatcher {
	return &Dispatcher{directory: directory, logger: l.Named("notify")}
}

// WithMetrics attaches notification collectors.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// OnRelay raises a notification on each connection that accepted msg and
// is not looking at its conversation. The title is resolved once per relay.
func (d *Dispatcher) OnRelay(ctx context.Context, msg message.Message, to []messaging.Subscriber) {
	var h *heading
	for _, sub := range to {
		var view ViewState
		if r, ok := sub.(ViewReporter); ok {
			view = r.ViewState()
		}
		if !ShouldNotify(view, msg.ConversationID) {
			continue
		}
		if h == nil {
			resolved := d.resolve(ctx, msg)
			h = &resolved
		}

		dec := h.decide(msg, view)
		env := events.MustNew(events.EventNotification, events.NotificationPayload{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			SenderID:       msg.SenderID,
			Title:          dec.Title,
			Body:           dec.Body,
		})
		if !sub.Send(env) {
			d.logger.Debug("notification dropped", zap.String("connection_id", sub.ID()))
			continue
		}
		d.metrics.RecordNotification()
	}
}

// Decide computes the notification for one recipient without sending it.
func (d *Dispatcher) Decide(ctx context.Context, msg message.Message, view ViewState) Decision {
	if !ShouldNotify(view, msg.ConversationID) {
		return Decision{}
	}
	return d.resolve(ctx, msg).decide(msg, view)
}

// heading is the per-message part of a notification.
type heading struct {
	title string
	group bool
}

func (d *Dispatcher) resolve(ctx context.Context, msg message.Message) heading {
	sender := msg.SenderName
	if sender == "" {
		sender = "New message"
	}
	h := heading{title: sender}
	if d.directory == nil {
		return h
	}
	conv, err := d.directory.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		d.logger.Debug("notification title lookup failed",
			zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		return h
	}
	h.title = conv.DisplayName(sender)
	h.group = h.title != sender
	return h
}

func (h heading) decide(msg message.Message, view ViewState) Decision {
	if !ShouldNotify(view, msg.ConversationID) {
		return Decision{}
	}
	body := Preview(msg)
	if h.group && msg.SenderName != "" {
		body = msg.SenderName + ": " + body
	}
	return Decision{Notify: true, Title: h.title, Body: body}
}

// Preview renders the notification body for a message.
func Preview(msg message.Message) string {
	switch msg.EffectiveKind() {
	case message.KindAttachment:
		return "Sent an attachment"
	case message.KindPoll:
		return "Created a poll"
	case message.KindContact:
		return "Shared a contact"
	case message.KindSticker:
		return "Sent a sticker"
	case message.KindAudio:
		return "Sent a voice message"
	}
	return truncate(strings.TrimSpace(msg.Content), previewLimit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
