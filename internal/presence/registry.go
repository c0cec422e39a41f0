package presence

import (
	"context"
	"sync"
	"time"

	"hr-realtime/internal/events"
	"hr-realtime/internal/metrics"
	rt_errors "hr-realtime/pkg/errors"
	"hr-realtime/pkg/logger"

	"go.uber.org/zap"
)

// Sender delivers an envelope to every live connection of a user and
// returns how many connections accepted it.
type Sender interface {
	SendToUser(userID string, env events.Envelope) int
}

// PeerResolver lists the users who share at least one conversation with userID.
type PeerResolver interface {
	Peers(ctx context.Context, userID string) ([]string, error)
}

// Mirror persists published snapshots outside the process (Redis).
type Mirror interface {
	Store(ctx context.Context, snap Snapshot) error
	Heartbeat(ctx context.Context, userID string) error
}

type userEntry struct {
	mu        sync.Mutex
	userID    string
	sessions  map[string]*Session
	calls     map[string]struct{}
	lastSeen  time.Time
	published Snapshot
}

// Registry is the process-wide table of connected sessions per user.
// Mutations are serialized per user; the table lock only guards map access.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userEntry
	conns map[string]string // connection id -> user id

	sender  Sender
	peers   PeerResolver
	mirror  Mirror
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

func NewRegistry(sender Sender, peers PeerResolver, mirror Mirror, l *logger.Logger) *Registry {
	return &Registry{
		users:  make(map[string]*userEntry),
		conns:  make(map[string]string),
		sender: sender,
		peers:  peers,
		mirror: mirror,
		logger: l.Named("presence"),
		now:    time.Now,
	}
}

// WithMetrics attaches collectors for broadcast counts.
func (r *Registry) WithMetrics(m *metrics.Metrics) *Registry {
	r.metrics = m
	return r
}

// Register adds a session for the connection and marks it online. It always
// broadcasts so peers receive a fresh last_seen.
func (r *Registry) Register(ctx context.Context, userID, connID string) Snapshot {
	r.mu.Lock()
	r.conns[connID] = userID
	r.mu.Unlock()

	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	e.sessions[connID] = &Session{
		UserID:       userID,
		ConnectionID: connID,
		Status:       StatusOnline,
		ConnectedAt:  now,
		LastSeen:     now,
	}
	e.lastSeen = now

	r.logger.Debug("session registered", zap.String("user_id", userID), zap.String("connection_id", connID))
	return r.publishLocked(ctx, e, true)
}

// Unregister removes the connection's session. Unknown connection ids are a
// no-op and return false.
func (r *Registry) Unregister(ctx context.Context, connID string) (Snapshot, bool) {
	r.mu.Lock()
	userID, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[connID]; !ok {
		return r.snapshotLocked(e), false
	}
	delete(e.sessions, connID)
	e.lastSeen = r.now()

	r.logger.Debug("session unregistered",
		zap.String("user_id", userID),
		zap.String("connection_id", connID),
		zap.Int("remaining", len(e.sessions)))
	return r.publishLocked(ctx, e, false), true
}

// SetStatus overrides the status of every live session of the user.
// Users without sessions are left offline.
func (r *Registry) SetStatus(ctx context.Context, userID string, status string) error {
	st, ok := ParseStatus(status)
	if !ok {
		return rt_errors.ErrInvalidInput
	}

	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sessions) == 0 {
		return nil
	}
	for _, s := range e.sessions {
		s.Status = st
	}
	r.publishLocked(ctx, e, false)
	return nil
}

// SetSessionStatus overrides the status of a single connection.
func (r *Registry) SetSessionStatus(ctx context.Context, connID string, status string) error {
	st, ok := ParseStatus(status)
	if !ok {
		return rt_errors.ErrInvalidInput
	}
	userID, ok := r.userOf(connID)
	if !ok {
		return rt_errors.ErrStaleReference
	}

	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[connID]
	if !ok {
		return rt_errors.ErrStaleReference
	}
	s.Status = st
	s.LastSeen = r.now()
	r.publishLocked(ctx, e, false)
	return nil
}

// JoinCall records that the user takes part in callID. While any call marker
// exists the derived status is in-call.
func (r *Registry) JoinCall(ctx context.Context, userID, callID string) {
	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls[callID] = struct{}{}
	r.publishLocked(ctx, e, false)
}

// LeaveCall withdraws the call marker. The status falls back to whatever the
// remaining sessions and calls imply.
func (r *Registry) LeaveCall(ctx context.Context, userID, callID string) {
	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.calls[callID]; !ok {
		return
	}
	delete(e.calls, callID)
	r.publishLocked(ctx, e, false)
}

// Touch refreshes last_seen for a connection on heartbeat without broadcasting.
func (r *Registry) Touch(ctx context.Context, connID string) {
	userID, ok := r.userOf(connID)
	if !ok {
		return
	}
	e := r.entry(userID)
	e.mu.Lock()
	now := r.now()
	if s, ok := e.sessions[connID]; ok {
		s.LastSeen = now
		e.lastSeen = now
	}
	e.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Heartbeat(ctx, userID); err != nil {
			r.logger.Warn("presence heartbeat mirror failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// Get returns the current derived presence of a user.
func (r *Registry) Get(userID string) Snapshot {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{UserID: userID, Status: StatusOffline}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.snapshotLocked(e)
}

// Sessions returns a copy of the user's live sessions.
func (r *Registry) Sessions(userID string) []Session {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sessionsOf(e)
}

// UserOf returns the user owning a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	return r.userOf(connID)
}

func (r *Registry) userOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.conns[connID]
	return userID, ok
}

func (r *Registry) entry(userID string) *userEntry {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.users[userID]; ok {
		return e
	}
	e = &userEntry{
		userID:    userID,
		sessions:  make(map[string]*Session),
		calls:     make(map[string]struct{}),
		published: Snapshot{UserID: userID, Status: StatusOffline},
	}
	r.users[userID] = e
	return e
}

func (r *Registry) snapshotLocked(e *userEntry) Snapshot {
	status := Derive(sessionsOf(e), len(e.calls))
	return Snapshot{
		UserID:   e.userID,
		IsOnline: status != StatusOffline,
		Status:   status,
		LastSeen: e.lastSeen,
	}
}

// publishLocked recomputes the derived snapshot and, if it changed (or force
// is set), mirrors and broadcasts it. Called with e.mu held so broadcasts for
// one user leave in mutation order.
func (r *Registry) publishLocked(ctx context.Context, e *userEntry, force bool) Snapshot {
	snap := r.snapshotLocked(e)
	prev := e.published
	if !force && prev.Status == snap.Status && prev.IsOnline == snap.IsOnline {
		return snap
	}
	e.published = snap

	if r.mirror != nil {
		if err := r.mirror.Store(ctx, snap); err != nil {
			r.logger.Warn("presence mirror failed", zap.String("user_id", snap.UserID), zap.Error(err))
		}
	}
	r.broadcast(ctx, snap)
	return snap
}

func (r *Registry) broadcast(ctx context.Context, snap Snapshot) {
	if r.sender == nil || r.peers == nil {
		return
	}
	peers, err := r.peers.Peers(ctx, snap.UserID)
	if err != nil {
		r.logger.Warn("presence peer lookup failed", zap.String("user_id", snap.UserID), zap.Error(err))
		return
	}

	env := events.MustNew(events.EventStatusUpdate, events.StatusUpdatePayload{
		UserID:        snap.UserID,
		IsOnline:      snap.IsOnline,
		CurrentStatus: string(snap.Status),
		LastSeen:      snap.LastSeen,
	})
	delivered := 0
	for _, peer := range peers {
		if peer == snap.UserID {
			continue
		}
		delivered += r.sender.SendToUser(peer, env)
	}
	r.metrics.RecordPresenceBroadcast()
	r.logger.Debug("status update broadcast",
		zap.String("user_id", snap.UserID),
		zap.String("status", string(snap.Status)),
		zap.Int("delivered", delivered))
}

func sessionsOf(e *userEntry) []Session {
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, *s)
	}
	return out
}
