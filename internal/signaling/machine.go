package signaling

import (
	"fmt"

	"hr-realtime/internal/domain/call"
	"hr-realtime/internal/events"
)

// Event is an input to the call state machine.
type Event string

const (
	EventInitiate       Event = "initiate"
	EventOfferDelivered Event = "offer_delivered"
	EventAnswer         Event = "answer"
	EventCandidate      Event = "candidate"
	EventReject         Event = "reject"
	EventCancel         Event = "cancel"
	EventHangup         Event = "hangup"
	EventTimeout        Event = "timeout"
	EventDisconnect     Event = "disconnect"
	EventMediaFailure   Event = "media_failure"
)

// Audience selects who receives an emitted envelope, relative to the party
// that triggered the event.
type Audience string

const (
	AudienceCaller Audience = "caller"
	AudienceCallee Audience = "callee"
	AudiencePeer   Audience = "peer"
	AudienceBoth   Audience = "both"
)

// Emit names one outbound envelope and its audience.
type Emit struct {
	Event string
	To    Audience
}

// Effect is a side effect the manager performs after a transition.
type Effect string

const (
	EffectStartRingTimer   Effect = "start_ring_timer"
	EffectStopRingTimer    Effect = "stop_ring_timer"
	EffectMarkCallerInCall Effect = "mark_caller_in_call"
	EffectMarkCalleeInCall Effect = "mark_callee_in_call"
	EffectClearInCall      Effect = "clear_in_call"
	EffectBufferCandidate  Effect = "buffer_candidate"
	EffectFlushCandidates  Effect = "flush_candidates"
	EffectForwardCandidate Effect = "forward_candidate"
	EffectClearCandidates  Effect = "clear_candidates"
	EffectReleasePair      Effect = "release_pair"
)

// Transition is the outcome of applying an Event in a State.
type Transition struct {
	Next    call.State
	Reason  call.EndReason
	Emits   []Emit
	Effects []Effect
}

// Ends reports whether the transition terminates the call.
func (t Transition) Ends() bool {
	return t.Next == call.StateEnded
}

// Has reports whether the transition carries effect e.
func (t Transition) Has(e Effect) bool {
	for _, eff := range t.Effects {
		if eff == e {
			return true
		}
	}
	return false
}

type transitionKey struct {
	state call.State
	event Event
}

var endEffects = []Effect{
	EffectStopRingTimer,
	EffectClearCandidates,
	EffectClearInCall,
	EffectReleasePair,
}

func ending(reason call.EndReason, to Audience) Transition {
	return Transition{
		Next:    call.StateEnded,
		Reason:  reason,
		Emits:   []Emit{{Event: events.EventCallEnded, To: to}},
		Effects: endEffects,
	}
}

func buffering(state call.State) Transition {
	return Transition{Next: state, Effects: []Effect{EffectBufferCandidate}}
}

var transitions = map[transitionKey]Transition{
	{call.StateIdle, EventInitiate}: {
		Next:    call.StateCalling,
		Emits:   []Emit{{Event: events.EventCallIncoming, To: AudienceCallee}},
		Effects: []Effect{EffectMarkCallerInCall, EffectStartRingTimer},
	},

	{call.StateCalling, EventOfferDelivered}: {Next: call.StateRinging},
	{call.StateCalling, EventCandidate}:      buffering(call.StateCalling),
	{call.StateRinging, EventCandidate}:      buffering(call.StateRinging),

	{call.StateCalling, EventAnswer}: answered,
	{call.StateRinging, EventAnswer}: answered,

	{call.StateCalling, EventReject}:       ending(call.ReasonRejected, AudiencePeer),
	{call.StateRinging, EventReject}:       ending(call.ReasonRejected, AudiencePeer),
	{call.StateCalling, EventCancel}:       ending(call.ReasonCancelled, AudiencePeer),
	{call.StateRinging, EventCancel}:       ending(call.ReasonCancelled, AudiencePeer),
	{call.StateCalling, EventTimeout}:      ending(call.ReasonTimeout, AudienceBoth),
	{call.StateRinging, EventTimeout}:      ending(call.ReasonTimeout, AudienceBoth),
	{call.StateCalling, EventDisconnect}:   ending(call.ReasonDisconnected, AudienceBoth),
	{call.StateRinging, EventDisconnect}:   ending(call.ReasonDisconnected, AudienceBoth),
	{call.StateCalling, EventMediaFailure}: ending(call.ReasonMediaFailure, AudienceBoth),
	{call.StateRinging, EventMediaFailure}: ending(call.ReasonMediaFailure, AudienceBoth),

	{call.StateActive, EventCandidate}: {
		Next:    call.StateActive,
		Emits:   []Emit{{Event: events.EventICECandidate, To: AudiencePeer}},
		Effects: []Effect{EffectForwardCandidate},
	},
	{call.StateActive, EventHangup}:       ending(call.ReasonHangup, AudiencePeer),
	{call.StateActive, EventDisconnect}:   ending(call.ReasonDisconnected, AudienceBoth),
	{call.StateActive, EventMediaFailure}: ending(call.ReasonMediaFailure, AudienceBoth),
}

var answered = Transition{
	Next:  call.StateActive,
	Emits: []Emit{{Event: events.EventCallAnswered, To: AudienceCaller}},
	Effects: []Effect{
		EffectStopRingTimer,
		EffectMarkCalleeInCall,
		EffectFlushCandidates,
	},
}

// Next looks up the transition for event in state. ok is false when the
// event is not valid in that state; callers treat that as a stale reference.
func Next(state call.State, event Event) (Transition, bool) {
	t, ok := transitions[transitionKey{state, event}]
	return t, ok
}

// MustNext is Next for transitions known to exist.
func MustNext(state call.State, event Event) Transition {
	t, ok := Next(state, event)
	if !ok {
		panic(fmt.Sprintf("signaling: no transition for %s in %s", event, state))
	}
	return t
}

// EndEvent picks the terminating event for an explicit end_call from byUserID.
// Before answer the caller cancels and the callee rejects; afterwards either
// side hangs up.
func EndEvent(s *call.Session, byUserID string) Event {
	if s.State == call.StateActive {
		return EventHangup
	}
	if byUserID == s.CalleeID {
		return EventReject
	}
	return EventCancel
}
