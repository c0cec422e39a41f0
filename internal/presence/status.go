package presence

import "time"

// Status is the presence state of a single session or the derived state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusInCall  Status = "in-call"
	StatusOffline Status = "offline"
)

// ParseStatus validates a status requested by a client or by call signaling.
// offline cannot be requested; it is only ever derived.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusIdle, StatusInCall:
		return Status(s), true
	}
	return "", false
}

// Session is one live connection of a user.
type Session struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	Status       Status    `json:"status"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Snapshot is the externally visible presence of a user.
type Snapshot struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Derive reduces a user's sessions and active call markers to one status.
// Any in-call contribution wins, then online, then idle; no sessions is offline
// regardless of call markers.
func Derive(sessions []Session, activeCalls int) Status {
	if len(sessions) == 0 {
		return StatusOffline
	}
	if activeCalls > 0 {
		return StatusInCall
	}
	status := StatusIdle
	for _, s := range sessions {
		switch s.Status {
		case StatusInCall:
			return StatusInCall
		case StatusOnline:
			status = StatusOnline
		}
	}
	return status
}
