package signaling

import (
	"context"
	"strings"
	"sync"
	"time"

	"hr-realtime/internal/domain/call"
	"hr-realtime/internal/events"
	"hr-realtime/internal/metrics"
	rt_errors "hr-realtime/pkg/errors"
	"hr-realtime/pkg/logger"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Sender delivers envelopes to connected clients.
type Sender interface {
	SendToUser(userID string, env events.Envelope) int
	SendToUserExcept(userID, exceptConnID string, env events.Envelope) int
	SendToConnection(connID string, env events.Envelope) bool
	Connected(connID string) bool
}

// Presence receives in-call markers for the participants of a call.
type Presence interface {
	JoinCall(ctx context.Context, userID, callID string)
	LeaveCall(ctx context.Context, userID, callID string)
}

// Journal mirrors call records outside the process.
type Journal interface {
	Save(ctx context.Context, session call.Session) error
}

// InitiateRequest carries a call_user request after authentication.
type InitiateRequest struct {
	CallerID     string
	CallerConnID string
	CallerName   string
	CalleeID     string
	MediaKind    call.MediaKind
	Offer        webrtc.SessionDescription
}

const endedRetention = time.Minute

type entry struct {
	mu       sync.Mutex
	session  call.Session
	queue    CandidateQueue
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

type pairKey struct {
	caller string
	callee string
}

// Manager owns every live call. The table lock guards the indexes only;
// each call is serialized by its own entry lock. Lock order is entry, then
// table.
type Manager struct {
	mu    sync.RWMutex
	calls map[string]*entry
	pairs map[pairKey]string
	conns map[string]map[string]struct{} // connection id -> call ids bound to it

	sender      Sender
	presence    Presence
	journal     Journal
	metrics     *metrics.Metrics
	logger      *logger.Logger
	ringTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

func NewManager(sender Sender, presence Presence, ringTimeout time.Duration, l *logger.Logger) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	return &Manager{
		calls:       make(map[string]*entry),
		pairs:       make(map[pairKey]string),
		conns:       make(map[string]map[string]struct{}),
		sender:      sender,
		presence:    presence,
		logger:      l.Named("signaling"),
		ringTimeout: ringTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithMetrics attaches call collectors.
func (m *Manager) WithMetrics(mt *metrics.Metrics) *Manager {
	m.metrics = mt
	return m
}

// WithJournal mirrors every state change into j.
func (m *Manager) WithJournal(j Journal) *Manager {
	m.journal = j
	return m
}

// Initiate starts a call from req.CallerID to req.CalleeID. Only one call may
// be live between two users at a time.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (call.Session, error) {
	if req.CallerID == "" || req.CalleeID == "" || req.CallerID == req.CalleeID {
		return call.Session{}, rt_errors.ErrInvalidInput
	}
	kind, err := inspectOffer(req.Offer, req.MediaKind)
	if err != nil {
		return call.Session{}, err
	}

	t := MustNext(call.StateIdle, EventInitiate)
	now := m.now()
	e := &entry{
		session: call.Session{
			ID:           m.newID(),
			CallerID:     req.CallerID,
			CalleeID:     req.CalleeID,
			CallerName:   req.CallerName,
			CallerConnID: req.CallerConnID,
			MediaKind:    kind,
			State:        t.Next,
			Offer:        req.Offer,
			StartedAt:    now,
		},
	}
	callID := e.session.ID

	// The entry is not reachable until inserted, so taking its lock under the
	// table lock cannot deadlock.
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	if m.livePairLocked(req.CallerID, req.CalleeID) {
		m.mu.Unlock()
		m.logger.Debug("call rejected, pair busy",
			zap.String("caller_id", req.CallerID), zap.String("callee_id", req.CalleeID))
		return call.Session{}, rt_errors.ErrCallInFlight
	}
	m.calls[callID] = e
	m.pairs[pairKey{req.CallerID, req.CalleeID}] = callID
	m.bindLocked(req.CallerConnID, callID)
	m.mu.Unlock()

	m.metrics.CallStarted()
	m.applyEffects(ctx, e, t, req.CallerID)

	reached := m.emit(e, t, req.CallerID, events.CallIncomingPayload{
		CallID:     callID,
		From:       req.CallerID,
		CallerName: req.CallerName,
		Type:       string(kind),
		Offer:      req.Offer,
	})
	if reached > 0 {
		e.session.State = MustNext(e.session.State, EventOfferDelivered).Next
	}

	m.logger.Info("call initiated",
		zap.String("call_id", callID),
		zap.String("caller_id", req.CallerID),
		zap.String("callee_id", req.CalleeID),
		zap.String("media", string(kind)),
		zap.Int("callee_connections", reached))
	m.record(ctx, e)
	return m.snapshot(e), nil
}

// RingPending offers every unanswered call addressed to userID to a
// connection that came up after the call started. A call still in calling
// moves to ringing once the offer reaches the new connection. It returns the
// number of calls offered.
func (m *Manager) RingPending(ctx context.Context, userID, connID string) int {
	m.mu.RLock()
	var pending []*entry
	for key, id := range m.pairs {
		if key.callee == userID {
			if e := m.calls[id]; e != nil {
				pending = append(pending, e)
			}
		}
	}
	m.mu.RUnlock()

	offered := 0
	for _, e := range pending {
		e.mu.Lock()
		s := &e.session
		if !s.State.Pending() {
			e.mu.Unlock()
			continue
		}
		env := events.MustNew(events.EventCallIncoming, events.CallIncomingPayload{
			CallID:     s.ID,
			From:       s.CallerID,
			CallerName: s.CallerName,
			Type:       string(s.MediaKind),
			Offer:      s.Offer,
		})
		if !m.sender.SendToConnection(connID, env) {
			e.mu.Unlock()
			continue
		}
		offered++
		if t, ok := Next(s.State, EventOfferDelivered); ok {
			s.State = t.Next
			m.record(ctx, e)
		}
		m.logger.Debug("pending call offered to new connection",
			zap.String("call_id", s.ID),
			zap.String("callee_id", userID),
			zap.String("conn_id", connID))
		e.mu.Unlock()
	}
	return offered
}

// Answer accepts a pending call on behalf of the callee connection connID.
// The caller receives call_answered followed by every candidate buffered so
// far, in arrival order.
func (m *Manager) Answer(ctx context.Context, callID, byUserID, connID string, answer webrtc.SessionDescription) error {
	e := m.lookup(callID)
	if e == nil {
		return m.stale(callID, EventAnswer)
	}
	if strings.TrimSpace(answer.SDP) == "" {
		return rt_errors.ErrInvalidInput
	}
	if _, err := answer.Unmarshal(); err != nil {
		return rt_errors.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if byUserID != s.CalleeID {
		return rt_errors.ErrUnauthorized
	}
	t, ok := Next(s.State, EventAnswer)
	if !ok {
		return m.stale(callID, EventAnswer)
	}

	now := m.now()
	s.State = t.Next
	s.AnsweredAt = &now
	s.CalleeConnID = connID

	m.mu.Lock()
	m.bindLocked(connID, callID)
	m.mu.Unlock()

	m.applyEffects(ctx, e, t, byUserID)
	m.emit(e, t, byUserID, events.CallAnsweredPayload{CallID: callID, Answer: answer})

	// Other callee devices stop ringing.
	elsewhere := events.MustNew(events.EventCallEnded, events.CallEndedPayload{
		CallID: callID,
		Reason: string(call.ReasonAnsweredElsewhere),
		By:     byUserID,
	})
	m.sender.SendToUserExcept(s.CalleeID, connID, elsewhere)

	if t.Has(EffectFlushCandidates) {
		flushed := e.queue.SetRemoteDescription()
		s.PendingCandidates = nil
		for _, c := range flushed {
			m.forwardCandidate(e, c)
		}
		m.metrics.CandidatesReleased(len(flushed))
	}
	m.metrics.CallAnswered()
	m.record(ctx, e)

	m.logger.Info("call answered",
		zap.String("call_id", callID),
		zap.String("callee_id", byUserID),
		zap.Int("flushed_candidates", len(e.queue.Applied())))
	return nil
}

// RelayCandidate buffers a candidate while the call is unanswered and forwards
// it to the peer once the call is active.
func (m *Manager) RelayCandidate(ctx context.Context, callID, fromUserID string, candidate webrtc.ICECandidateInit) error {
	e := m.lookup(callID)
	if e == nil {
		return m.stale(callID, EventCandidate)
	}
	if candidate.Candidate == "" {
		return rt_errors.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if !s.Involves(fromUserID) {
		return rt_errors.ErrUnauthorized
	}
	t, ok := Next(s.State, EventCandidate)
	if !ok {
		return m.stale(callID, EventCandidate)
	}
	s.State = t.Next

	c := call.Candidate{FromUserID: fromUserID, Init: candidate, ReceivedAt: m.now()}
	forward := e.queue.Add(c)
	if t.Has(EffectBufferCandidate) || forward == nil {
		s.PendingCandidates = e.queue.Pending()
		m.metrics.CandidateBuffered()
		m.logger.Debug("candidate buffered",
			zap.String("call_id", callID),
			zap.String("from", fromUserID),
			zap.Int("pending", len(s.PendingCandidates)))
		return nil
	}
	for _, c := range forward {
		m.forwardCandidate(e, c)
	}
	return nil
}

// End terminates the call on behalf of byUserID. Ending an already ended call
// is a no-op.
func (m *Manager) End(ctx context.Context, callID, byUserID string) error {
	e := m.lookup(callID)
	if e == nil {
		return m.stale(callID, EventHangup)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if !s.Involves(byUserID) {
		return rt_errors.ErrUnauthorized
	}
	if s.State == call.StateEnded {
		return nil
	}
	ev := EndEvent(s, byUserID)
	t, ok := Next(s.State, ev)
	if !ok {
		return m.stale(callID, ev)
	}
	m.finish(ctx, e, t, byUserID)
	return nil
}

// MediaFailure ends the call after a client reports that media could not be
// established.
func (m *Manager) MediaFailure(ctx context.Context, callID, byUserID string) error {
	e := m.lookup(callID)
	if e == nil {
		return m.stale(callID, EventMediaFailure)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Involves(byUserID) {
		return rt_errors.ErrUnauthorized
	}
	if e.session.State == call.StateEnded {
		return nil
	}
	t, ok := Next(e.session.State, EventMediaFailure)
	if !ok {
		return m.stale(callID, EventMediaFailure)
	}
	m.finish(ctx, e, t, byUserID)
	return nil
}

// HandleDisconnect ends every call bound to a closed connection.
func (m *Manager) HandleDisconnect(ctx context.Context, connID string) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns[connID]))
	for id := range m.conns[connID] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	ended := 0
	for _, id := range ids {
		e := m.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		s := &e.session
		if t, ok := Next(s.State, EventDisconnect); ok {
			actor := s.CallerID
			if connID == s.CalleeConnID {
				actor = s.CalleeID
			}
			m.finish(ctx, e, t, actor)
			ended++
		}
		e.mu.Unlock()
	}

	m.mu.Lock()
	delete(m.conns, connID)
	m.mu.Unlock()
	return ended
}

// Between returns the live call between a and b in either direction.
func (m *Manager) Between(a, b string) (call.Session, bool) {
	m.mu.RLock()
	id, ok := m.pairs[pairKey{a, b}]
	if !ok {
		id, ok = m.pairs[pairKey{b, a}]
	}
	e := m.calls[id]
	m.mu.RUnlock()
	if !ok || e == nil {
		return call.Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.State.Live() {
		return call.Session{}, false
	}
	return m.snapshot(e), true
}

// Resolve returns callID when set, otherwise the live call between userID and
// targetID. Clients address calls by target_id.
func (m *Manager) Resolve(callID, userID, targetID string) (string, error) {
	if callID != "" {
		return callID, nil
	}
	s, ok := m.Between(userID, targetID)
	if !ok {
		return "", m.stale("", "resolve")
	}
	return s.ID, nil
}

// Get returns a copy of the call record.
func (m *Manager) Get(callID string) (call.Session, bool) {
	e := m.lookup(callID)
	if e == nil {
		return call.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.snapshot(e), true
}

// Sweep is the periodic safety net behind the ring timers. It times out
// pending calls past their deadline, ends active calls whose connections are
// gone and forgets calls that ended long enough ago.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.calls))
	for _, e := range m.calls {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	ended := 0
	var expired []string
	for _, e := range entries {
		e.mu.Lock()
		s := &e.session
		switch {
		case s.State.Pending() && !e.deadline.IsZero() && now.After(e.deadline):
			m.finish(ctx, e, MustNext(s.State, EventTimeout), "")
			ended++
		case s.State == call.StateActive && !m.bothConnected(s):
			m.finish(ctx, e, MustNext(s.State, EventDisconnect), "")
			ended++
		case s.State == call.StateEnded && s.EndedAt != nil && now.Sub(*s.EndedAt) > endedRetention:
			expired = append(expired, s.ID)
		}
		e.mu.Unlock()
	}

	if len(expired) > 0 {
		m.mu.Lock()
		for _, id := range expired {
			delete(m.calls, id)
		}
		m.mu.Unlock()
	}
	if ended > 0 || len(expired) > 0 {
		m.logger.Info("call sweep", zap.Int("ended", ended), zap.Int("forgotten", len(expired)))
	}
	return ended
}

// Live returns the number of calls not yet ended.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs)
}

func (m *Manager) onRingTimeout(callID string, gen uint64) {
	e := m.lookup(callID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != gen || !e.session.State.Pending() {
		return
	}
	m.logger.Info("call timed out", zap.String("call_id", callID))
	m.finish(context.Background(), e, MustNext(e.session.State, EventTimeout), "")
}

// finish applies a terminating transition. Called with e.mu held.
func (m *Manager) finish(ctx context.Context, e *entry, t Transition, actor string) {
	s := &e.session
	now := m.now()
	s.State = t.Next
	s.EndReason = t.Reason
	s.EndedAt = &now

	m.applyEffects(ctx, e, t, actor)
	m.emit(e, t, actor, events.CallEndedPayload{
		CallID: s.ID,
		Reason: string(t.Reason),
		By:     actor,
	})
	m.metrics.CallEnded(string(t.Reason))
	m.record(ctx, e)

	m.logger.Info("call ended",
		zap.String("call_id", s.ID),
		zap.String("reason", string(t.Reason)),
		zap.String("by", actor))
}

func (m *Manager) applyEffects(ctx context.Context, e *entry, t Transition, actor string) {
	s := &e.session
	for _, eff := range t.Effects {
		switch eff {
		case EffectStartRingTimer:
			e.gen++
			gen, id := e.gen, s.ID
			e.deadline = m.now().Add(m.ringTimeout)
			e.timer = time.AfterFunc(m.ringTimeout, func() { m.onRingTimeout(id, gen) })
		case EffectStopRingTimer:
			e.gen++
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			e.deadline = time.Time{}
		case EffectMarkCallerInCall:
			m.joinCall(ctx, s.CallerID, s.ID)
		case EffectMarkCalleeInCall:
			m.joinCall(ctx, s.CalleeID, s.ID)
		case EffectClearInCall:
			m.leaveCall(ctx, s.CallerID, s.ID)
			m.leaveCall(ctx, s.CalleeID, s.ID)
		case EffectClearCandidates:
			e.queue.Reset()
			s.PendingCandidates = nil
		case EffectReleasePair:
			m.mu.Lock()
			key := pairKey{s.CallerID, s.CalleeID}
			if m.pairs[key] == s.ID {
				delete(m.pairs, key)
			}
			m.unbindLocked(s.CallerConnID, s.ID)
			m.unbindLocked(s.CalleeConnID, s.ID)
			m.mu.Unlock()
		}
	}
}

// emit sends the transition's envelopes. It returns how many connections
// were reached.
func (m *Manager) emit(e *entry, t Transition, actor string, payload any) int {
	s := &e.session
	reached := 0
	for _, em := range t.Emits {
		env, err := events.New(em.Event, payload)
		if err != nil {
			m.logger.Error("failed to build signaling envelope", zap.String("event", em.Event), zap.Error(err))
			continue
		}
		switch em.To {
		case AudienceCaller:
			reached += m.sendTo(s.CallerID, s.CallerConnID, env)
		case AudienceCallee:
			reached += m.sendTo(s.CalleeID, s.CalleeConnID, env)
		case AudiencePeer:
			if actor == "" {
				reached += m.sendTo(s.CallerID, s.CallerConnID, env)
				reached += m.sendTo(s.CalleeID, s.CalleeConnID, env)
				continue
			}
			peer := s.Peer(actor)
			conn := s.CallerConnID
			if peer == s.CalleeID {
				conn = s.CalleeConnID
			}
			reached += m.sendTo(peer, conn, env)
		case AudienceBoth:
			reached += m.sender.SendToUser(s.CallerID, env)
			reached += m.sender.SendToUser(s.CalleeID, env)
		}
	}
	return reached
}

// sendTo prefers the connection bound to the call and falls back to every
// connection of the user while none is bound (an unanswered callee).
func (m *Manager) sendTo(userID, connID string, env events.Envelope) int {
	if connID != "" {
		if m.sender.SendToConnection(connID, env) {
			return 1
		}
		return 0
	}
	return m.sender.SendToUser(userID, env)
}

func (m *Manager) forwardCandidate(e *entry, c call.Candidate) {
	s := &e.session
	peer := s.Peer(c.FromUserID)
	conn := s.CallerConnID
	if peer == s.CalleeID {
		conn = s.CalleeConnID
	}
	env := events.MustNew(events.EventICECandidate, events.ICECandidatePayload{
		CallID:    s.ID,
		From:      c.FromUserID,
		Candidate: c.Init,
	})
	if m.sendTo(peer, conn, env) == 0 {
		m.logger.Debug("candidate not delivered", zap.String("call_id", s.ID), zap.String("to", peer))
	}
}

func (m *Manager) record(ctx context.Context, e *entry) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Save(ctx, m.snapshot(e)); err != nil {
		m.logger.Warn("call journal write failed", zap.String("call_id", e.session.ID), zap.Error(err))
	}
}

func (m *Manager) joinCall(ctx context.Context, userID, callID string) {
	if m.presence != nil {
		m.presence.JoinCall(ctx, userID, callID)
	}
}

func (m *Manager) leaveCall(ctx context.Context, userID, callID string) {
	if m.presence != nil {
		m.presence.LeaveCall(ctx, userID, callID)
	}
}

func (m *Manager) bothConnected(s *call.Session) bool {
	if s.CallerConnID != "" && !m.sender.Connected(s.CallerConnID) {
		return false
	}
	if s.CalleeConnID != "" && !m.sender.Connected(s.CalleeConnID) {
		return false
	}
	return true
}

func (m *Manager) lookup(callID string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[callID]
}

// livePairLocked checks both directions so a target_id always resolves to
// at most one call; crossing calls between the same two users are refused.
func (m *Manager) livePairLocked(a, b string) bool {
	if _, ok := m.pairs[pairKey{a, b}]; ok {
		return true
	}
	_, ok := m.pairs[pairKey{b, a}]
	return ok
}

func (m *Manager) bindLocked(connID, callID string) {
	if connID == "" {
		return
	}
	set, ok := m.conns[connID]
	if !ok {
		set = make(map[string]struct{})
		m.conns[connID] = set
	}
	set[callID] = struct{}{}
}

func (m *Manager) unbindLocked(connID, callID string) {
	set, ok := m.conns[connID]
	if !ok {
		return
	}
	delete(set, callID)
	if len(set) == 0 {
		delete(m.conns, connID)
	}
}

func (m *Manager) stale(callID string, ev Event) error {
	m.logger.Debug("ignoring signal for stale call", zap.String("call_id", callID), zap.String("event", string(ev)))
	return rt_errors.ErrStaleReference
}

func (m *Manager) snapshot(e *entry) call.Session {
	s := e.session
	s.PendingCandidates = e.queue.Pending()
	return s
}

// inspectOffer validates the caller's SDP and infers the media kind from its
// m-lines when the client did not name one.
func inspectOffer(offer webrtc.SessionDescription, requested call.MediaKind) (call.MediaKind, error) {
	if strings.TrimSpace(offer.SDP) == "" {
		return "", rt_errors.ErrInvalidInput
	}
	if offer.Type != webrtc.SDPTypeOffer && offer.Type != webrtc.SDPType(0) {
		return "", rt_errors.ErrInvalidInput
	}
	parsed, err := offer.Unmarshal()
	if err != nil {
		return "", rt_errors.ErrInvalidInput
	}

	switch requested {
	case call.MediaAudio, call.MediaVideo:
		return requested, nil
	case "":
	default:
		return "", rt_errors.ErrInvalidInput
	}
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media == "video" {
			return call.MediaVideo, nil
		}
	}
	return call.MediaAudio, nil
}
