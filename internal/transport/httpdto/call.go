package httpdto

import (
	"time"

	"hr-realtime/internal/domain/call"

	"github.com/pion/webrtc/v4"
)

// CallResponse is returned by GET /v1/calls/:call_id
type CallResponse struct {
	ID         string `json:"id"`
	CallerID   string `json:"caller_id"`
	CalleeID   string `json:"callee_id"`
	CallerName string `json:"caller_name,omitempty"`
	Type       string `json:"type"`
	State      string `json:"state"`
	StartedAt  string `json:"started_at"`
	AnsweredAt string `json:"answered_at,omitempty"`
	EndedAt    string `json:"ended_at,omitempty"`
	EndReason  string `json:"end_reason,omitempty"`

	// Offer is set while the call is unanswered so a late device can answer.
	Offer *webrtc.SessionDescription `json:"offer,omitempty"`
}

// ActiveCallsResponse is returned by GET /v1/calls
type ActiveCallsResponse struct {
	Calls []CallResponse `json:"calls"`
}

func FromCallSession(s call.Session) CallResponse {
	resp := CallResponse{
		ID:         s.ID,
		CallerID:   s.CallerID,
		CalleeID:   s.CalleeID,
		CallerName: s.CallerName,
		Type:       string(s.MediaKind),
		State:      string(s.State),
		StartedAt:  s.StartedAt.Format(time.RFC3339),
		EndReason:  string(s.EndReason),
	}
	if s.AnsweredAt != nil {
		resp.AnsweredAt = s.AnsweredAt.Format(time.RFC3339)
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	if s.State.Pending() {
		offer := s.Offer
		resp.Offer = &offer
	}
	return resp
}
