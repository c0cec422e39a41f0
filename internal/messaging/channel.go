package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"hr-realtime/internal/domain/conversation"
	"hr-realtime/internal/domain/message"
	"hr-realtime/internal/events"
	"hr-realtime/internal/metrics"
	rt_errors "hr-realtime/pkg/errors"
	"hr-realtime/pkg/logger"

	"go.uber.org/zap"
)

// recentWindow is how many relayed message ids each room remembers.
const recentWindow = 256

// Subscriber is one connection that can join conversation rooms.
type Subscriber interface {
	ID() string
	UserID() string
	Send(env events.Envelope) bool
}

// Directory resolves conversations and their participants.
type Directory interface {
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
}

// RelayObserver is told once per relayed message about every connection
// that accepted it.
type RelayObserver interface {
	OnRelay(ctx context.Context, msg message.Message, to []Subscriber)
}

type room struct {
	mu      sync.Mutex
	id      string
	members map[string]Subscriber
	recent  []string
	seen    map[string]struct{}
	closed  bool
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: make(map[string]Subscriber),
		seen:    make(map[string]struct{}),
	}
}

// remember records a message id and reports whether it was new.
func (r *room) remember(id string) bool {
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	r.recent = append(r.recent, id)
	if len(r.recent) > recentWindow {
		delete(r.seen, r.recent[0])
		r.recent = r.recent[1:]
	}
	return true
}

func (r *room) hasUser(userID string) bool {
	for _, s := range r.members {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

// Channel fans persisted messages and typing indicators out to the
// connections subscribed to each conversation. Relays within one
// conversation are serialized; unrelated conversations never contend.
type Channel struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	joined map[string]map[string]struct{} // connection id -> conversation ids

	directory Directory
	observer  RelayObserver
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewChannel(directory Directory, observer RelayObserver, l *logger.Logger) *Channel {
	return &Channel{
		rooms:     make(map[string]*room),
		joined:    make(map[string]map[string]struct{}),
		directory: directory,
		observer:  observer,
		logger:    l.Named("messaging"),
	}
}

// WithMetrics attaches relay collectors.
func (c *Channel) WithMetrics(m *metrics.Metrics) *Channel {
	c.metrics = m
	return c
}

// Join subscribes sub to a conversation after checking membership.
func (c *Channel) Join(ctx context.Context, sub Subscriber, conversationID string) error {
	if conversationID == "" {
		return rt_errors.ErrInvalidInput
	}
	if _, err := c.authorize(ctx, conversationID, sub.UserID()); err != nil {
		c.logger.Warn("join rejected",
			zap.String("user_id", sub.UserID()),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return err
	}

	for {
		r := c.room(conversationID)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		r.members[sub.ID()] = sub
		r.mu.Unlock()
		break
	}

	c.mu.Lock()
	set, ok := c.joined[sub.ID()]
	if !ok {
		set = make(map[string]struct{})
		c.joined[sub.ID()] = set
	}
	set[conversationID] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("joined conversation",
		zap.String("user_id", sub.UserID()),
		zap.String("connection_id", sub.ID()),
		zap.String("conversation_id", conversationID))
	return nil
}

// Leave unsubscribes a connection from one conversation.
func (c *Channel) Leave(connID, conversationID string) {
	c.mu.Lock()
	if set, ok := c.joined[connID]; ok {
		delete(set, conversationID)
		if len(set) == 0 {
			delete(c.joined, connID)
		}
	}
	c.mu.Unlock()
	c.removeMember(conversationID, connID)
}

// Drop unsubscribes a closed connection from every conversation.
func (c *Channel) Drop(connID string) {
	c.mu.Lock()
	set := c.joined[connID]
	delete(c.joined, connID)
	c.mu.Unlock()

	for id := range set {
		c.removeMember(id, connID)
	}
}

// Relay delivers msg to every subscribed connection except the sender's own.
// A message id already relayed in the conversation is not delivered again.
// It returns the number of connections that accepted the frame.
func (c *Channel) Relay(ctx context.Context, msg message.Message) (int, error) {
	if err := msg.Validate(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	r, ok := c.rooms[msg.ConversationID]
	c.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	env, err := events.New(events.EventNewMessage, msg)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.remember(msg.ID) {
		c.logger.Debug("duplicate relay skipped",
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID))
		return 0, nil
	}

	var accepted []Subscriber
	for _, sub := range r.members {
		if sub.UserID() == msg.SenderID {
			continue
		}
		if sub.Send(env) {
			accepted = append(accepted, sub)
		}
	}
	delivered := len(accepted)
	if c.observer != nil && delivered > 0 {
		c.observer.OnRelay(ctx, msg, accepted)
	}
	c.metrics.RecordRelay(delivered)

	c.logger.Debug("message relayed",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.Int("delivered", delivered))
	return delivered, nil
}

// RelayFrom relays a message announced by a client after it persisted it.
// The announcing user must be the sender and a participant.
func (c *Channel) RelayFrom(ctx context.Context, userID string, msg message.Message) (int, error) {
	if msg.SenderID == "" {
		msg.SenderID = userID
	}
	if msg.SenderID != userID {
		return 0, rt_errors.ErrUnauthorized
	}
	if msg.ConversationID == "" {
		return 0, rt_errors.ErrInvalidInput
	}
	if _, err := c.authorize(ctx, msg.ConversationID, userID); err != nil {
		return 0, err
	}
	return c.Relay(ctx, msg)
}

// Typing tells the other subscribers of a conversation that userID is typing.
// The user must have joined the conversation on at least one connection.
func (c *Channel) Typing(ctx context.Context, conversationID, userID, displayName string) error {
	c.mu.RLock()
	r, ok := c.rooms[conversationID]
	c.mu.RUnlock()
	if !ok {
		return rt_errors.ErrUnauthorized
	}

	env := events.MustNew(events.EventUserTyping, events.UserTypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       displayName,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasUser(userID) {
		return rt_errors.ErrUnauthorized
	}
	for _, sub := range r.members {
		if sub.UserID() == userID {
			continue
		}
		sub.Send(env)
	}
	return nil
}

// Subscribers returns the number of connections in a conversation room.
func (c *Channel) Subscribers(conversationID string) int {
	c.mu.RLock()
	r, ok := c.rooms[conversationID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (c *Channel) authorize(ctx context.Context, conversationID, userID string) (*conversation.Conversation, error) {
	conv, err := c.directory.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, rt_errors.ErrNotFound) {
			return nil, rt_errors.ErrStaleReference
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, rt_errors.ErrUnauthorized
	}
	return conv, nil
}

func (c *Channel) room(id string) *room {
	c.mu.RLock()
	r, ok := c.rooms[id]
	c.mu.RUnlock()
	if ok {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rooms[id]; ok {
		return r
	}
	r = newRoom(id)
	c.rooms[id] = r
	return r
}

func (c *Channel) removeMember(conversationID, connID string) {
	c.mu.RLock()
	r, ok := c.rooms[conversationID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.members, connID)
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		c.mu.Lock()
		if c.rooms[conversationID] == r {
			delete(c.rooms, conversationID)
		}
		c.mu.Unlock()
	}
}
