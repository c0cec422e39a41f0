package httpdto

import (
	"time"

	"hr-realtime/internal/presence"
)

// PresenceResponse is returned by GET /v1/presence/:user_id
type PresenceResponse struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	Status   string `json:"current_status"`
	LastSeen string `json:"last_seen,omitempty"`
	Sessions int    `json:"sessions"`
}

// OnlineCountResponse is returned by GET /v1/presence
type OnlineCountResponse struct {
	Online int64 `json:"online"`
}

func FromPresenceSnapshot(s presence.Snapshot, sessions int) PresenceResponse {
	resp := PresenceResponse{
		UserID:   s.UserID,
		IsOnline: s.IsOnline,
		Status:   string(s.Status),
		Sessions: sessions,
	}
	if !s.LastSeen.IsZero() {
		resp.LastSeen = s.LastSeen.Format(time.RFC3339)
	}
	return resp
}
