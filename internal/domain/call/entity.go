package call

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// State is the signaling-level lifecycle of a call attempt.
type State string

const (
	StateIdle    State = "idle"
	StateCalling State = "calling"
	StateRinging State = "ringing"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// Live reports whether the call still occupies its (caller, callee) pair.
func (s State) Live() bool {
	return s == StateCalling || s == StateRinging || s == StateActive
}

// Pending reports whether the call has not been answered yet.
func (s State) Pending() bool {
	return s == StateCalling || s == StateRinging
}

// MediaKind is the kind of call requested by the caller.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// EndReason is carried by call_ended.
type EndReason string

const (
	ReasonHangup            EndReason = "hangup"
	ReasonRejected          EndReason = "rejected"
	ReasonCancelled         EndReason = "cancelled"
	ReasonTimeout           EndReason = "timeout"
	ReasonDisconnected      EndReason = "disconnected"
	ReasonMediaFailure      EndReason = "media_failure"
	ReasonAnsweredElsewhere EndReason = "answered_elsewhere"
)

// Candidate is one trickled ICE candidate together with its sender.
type Candidate struct {
	FromUserID string                  `json:"from"`
	Init       webrtc.ICECandidateInit `json:"candidate"`
	ReceivedAt time.Time               `json:"received_at"`
}

// Session is the record of one call attempt between two users.
type Session struct {
	ID                string                    `json:"call_id"`
	CallerID          string                    `json:"caller_id"`
	CalleeID          string                    `json:"callee_id"`
	CallerName        string                    `json:"caller_name,omitempty"`
	CallerConnID      string                    `json:"-"`
	CalleeConnID      string                    `json:"-"`
	MediaKind         MediaKind                 `json:"media_kind"`
	State             State                     `json:"state"`
	Offer             webrtc.SessionDescription `json:"offer"`
	PendingCandidates []Candidate               `json:"-"`
	StartedAt         time.Time                 `json:"started_at"`
	AnsweredAt        *time.Time                `json:"answered_at,omitempty"`
	EndedAt           *time.Time                `json:"ended_at,omitempty"`
	EndReason         EndReason                 `json:"end_reason,omitempty"`
}

// Peer returns the other participant of the call.
func (s *Session) Peer(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// Involves reports whether userID is the caller or the callee.
func (s *Session) Involves(userID string) bool {
	return userID == s.CallerID || userID == s.CalleeID
}
