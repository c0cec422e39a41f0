package server

import (
	"context"
	"encoding/json"
	"errors"

	"hr-realtime/internal/domain/call"
	"hr-realtime/internal/domain/message"
	"hr-realtime/internal/events"
	"hr-realtime/internal/messaging"
	"hr-realtime/internal/metrics"
	"hr-realtime/internal/notify"
	"hr-realtime/internal/presence"
	"hr-realtime/internal/redis"
	"hr-realtime/internal/signaling"
	rt_errors "hr-realtime/pkg/errors"

	"go.uber.org/zap"
)

// CallLimiter caps call initiations per user across processes.
type CallLimiter interface {
	AllowCall(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// Router binds client connections to the four realtime components and
// dispatches inbound frames.
type Router struct {
	hub      *Hub
	presence *presence.Registry
	channel  *messaging.Channel
	calls    *signaling.Manager
	limiter  CallLimiter
	metrics  *metrics.Metrics
	logger   *WebSocketLogger
}

func NewRouter(hub *Hub, registry *presence.Registry, channel *messaging.Channel, calls *signaling.Manager, l *WebSocketLogger) *Router {
	return &Router{
		hub:      hub,
		presence: registry,
		channel:  channel,
		calls:    calls,
		logger:   l,
	}
}

// WithCallLimiter enables the shared call initiation limit.
func (r *Router) WithCallLimiter(limiter CallLimiter) *Router {
	r.limiter = limiter
	return r
}

// WithMetrics attaches collectors handed to new clients.
func (r *Router) WithMetrics(m *metrics.Metrics) *Router {
	r.metrics = m
	return r
}

// Connect registers a freshly upgraded client, announces the user online and
// rings the new connection for calls still waiting on the user.
func (r *Router) Connect(ctx context.Context, c *Client) {
	if evicted := r.hub.Register(c); evicted != nil {
		evicted.Close()
	}
	r.presence.Register(ctx, c.userID, c.id)
	offered := r.calls.RingPending(ctx, c.userID, c.id)
	r.logger.Info("client connected", c.userID, c.id, zap.Int("pending_calls", offered))
}

// Disconnect releases everything held by the connection. Conversation
// subscriptions go first so no relay targets a dead client, then presence,
// then any call bound to the connection ends with reason disconnected.
func (r *Router) Disconnect(ctx context.Context, c *Client) {
	c.cleanupOnce.Do(func() {
		r.channel.Drop(c.id)
		r.hub.Unregister(c)
		r.presence.Unregister(ctx, c.id)
		ended := r.calls.HandleDisconnect(ctx, c.id)
		r.logger.Info("client disconnected", c.userID, c.id, zap.Int("calls_ended", ended))
	})
}

// Heartbeat keeps the user's mirrored presence from going stale.
func (r *Router) Heartbeat(ctx context.Context, c *Client) {
	r.presence.Touch(ctx, c.id)
}

// HandleFrame decodes and dispatches one inbound frame.
func (r *Router) HandleFrame(ctx context.Context, c *Client, frame []byte) {
	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		r.reply(c, "", rt_errors.ErrInvalidInput, "malformed frame")
		return
	}

	if !c.rateLimiter.Allow(env.Event) {
		r.logger.Warn("rate limit exceeded", c.userID, c.id, zap.String("frame", env.Event))
		r.reply(c, env.Event, rt_errors.ErrRateLimited, "")
		return
	}

	if err := r.dispatch(ctx, c, env); err != nil {
		r.fail(c, env.Event, err)
	}
}

func (r *Router) dispatch(ctx context.Context, c *Client, env events.Envelope) error {
	switch env.Event {
	case events.EventJoinConversation:
		var req events.JoinConversationRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		if err := r.channel.Join(ctx, c, req.ConversationID); err != nil {
			return err
		}
		c.Send(events.MustNew(events.EventJoined, events.JoinedPayload{ConversationID: req.ConversationID}))
		return nil

	case events.EventLeaveConversation:
		var req events.JoinConversationRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		r.channel.Leave(c.id, req.ConversationID)
		return nil

	case events.EventSendMessage:
		var msg message.Message
		if err := env.Decode(&msg); err != nil {
			return rt_errors.ErrInvalidInput
		}
		_, err := r.channel.RelayFrom(ctx, c.userID, msg)
		return err

	case events.EventTyping:
		var req events.TypingRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		return r.channel.Typing(ctx, req.ConversationID, c.userID, req.UserName)

	case events.EventCallUser:
		return r.callUser(ctx, c, env)

	case events.EventAnswerCall:
		var req events.AnswerCallRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		callID, err := r.calls.Resolve(req.CallID, c.userID, req.TargetID)
		if err != nil {
			return err
		}
		return r.calls.Answer(ctx, callID, c.userID, c.id, req.Answer)

	case events.EventICECandidate:
		var req events.ICECandidateRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		callID, err := r.calls.Resolve(req.CallID, c.userID, req.TargetID)
		if err != nil {
			return err
		}
		return r.calls.RelayCandidate(ctx, callID, c.userID, req.Candidate)

	case events.EventEndCall:
		var req events.EndCallRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		callID, err := r.calls.Resolve(req.CallID, c.userID, req.TargetID)
		if err != nil {
			return err
		}
		if req.Reason == string(call.ReasonMediaFailure) {
			return r.calls.MediaFailure(ctx, callID, c.userID)
		}
		return r.calls.End(ctx, callID, c.userID)

	case events.EventUpdateStatus:
		var req events.UpdateStatusRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		return r.presence.SetSessionStatus(ctx, c.id, req.Status)

	case events.EventClientState:
		var req events.ClientStateRequest
		if err := env.Decode(&req); err != nil {
			return rt_errors.ErrInvalidInput
		}
		c.setViewState(notify.ViewState{
			Foreground:           req.Foreground,
			ActiveConversationID: req.ActiveConversationID,
		})
		return nil

	case events.EventPing:
		r.Heartbeat(ctx, c)
		c.Send(events.MustNew(events.EventPong, nil))
		return nil

	default:
		r.logger.Warn("unknown message type", c.userID, c.id, zap.String("frame", env.Event))
		return rt_errors.ErrInvalidInput
	}
}

func (r *Router) callUser(ctx context.Context, c *Client, env events.Envelope) error {
	var req events.CallUserRequest
	if err := env.Decode(&req); err != nil {
		return rt_errors.ErrInvalidInput
	}

	if r.limiter != nil {
		result, err := r.limiter.AllowCall(ctx, c.userID)
		if err != nil {
			r.logger.Error("call rate limit check failed", c.userID, c.id, err)
		} else if !result.Allowed {
			return rt_errors.ErrRateLimited
		}
	}

	_, err := r.calls.Initiate(ctx, signaling.InitiateRequest{
		CallerID:     c.userID,
		CallerConnID: c.id,
		CallerName:   req.CallerName,
		CalleeID:     req.TargetID,
		MediaKind:    call.MediaKind(req.Type),
		Offer:        req.Offer,
	})
	return err
}

// fail reports err to the originating connection. Stale references are
// dropped; the component that detected them already logged at debug.
func (r *Router) fail(c *Client, event string, err error) {
	if errors.Is(err, rt_errors.ErrStaleReference) {
		return
	}
	if rt_errors.Code(err) == "INTERNAL_ERROR" {
		r.logger.Error("frame handling failed", c.userID, c.id, err, zap.String("frame", event))
		r.reply(c, event, err, "internal error")
		return
	}
	r.reply(c, event, err, "")
}

func (r *Router) reply(c *Client, event string, err error, msg string) {
	if msg == "" {
		msg = err.Error()
	}
	c.Send(events.MustNew(events.EventError, events.ErrorPayload{
		Code:    rt_errors.Code(err),
		Message: msg,
		Event:   event,
	}))
}
