package events

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Client -> server events
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventCallUser          = "call_user"
	EventAnswerCall        = "answer_call"
	EventICECandidate      = "ice_candidate"
	EventEndCall           = "end_call"
	EventUpdateStatus      = "update_status"
	EventClientState       = "client_state"
	EventPing              = "ping"
)

// Server -> client events
const (
	EventStatusUpdate = "status_update"
	EventNewMessage   = "new_message"
	EventUserTyping   = "user_typing"
	EventCallIncoming = "call_incoming"
	EventCallAnswered = "call_answered"
	EventCallEnded    = "call_ended"
	EventNotification = "notification"
	EventJoined       = "joined"
	EventError        = "error"
	EventPong         = "pong"
)

// Collaborator -> core events carried on the message feed
const (
	EventConversationUpdated = "conversation_updated"
)

// Redis channel prefixes
const (
	ChannelPrefixPresence = "channel:presence:"
	ChannelSystemMessages = "channel:system:messages"
)

// ConversationUpdatedPayload announces a membership or name change.
// ParticipantIDs lists members before and after the change.
type ConversationUpdatedPayload struct {
	ConversationID string   `json:"conversation_id"`
	ParticipantIDs []string `json:"participant_ids"`
}

type JoinConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type TypingRequest struct {
	ConversationID string `json:"conversation_id"`
	UserName       string `json:"user_name"`
}

type CallUserRequest struct {
	TargetID   string                    `json:"target_id"`
	Offer      webrtc.SessionDescription `json:"offer"`
	Type       string                    `json:"type,omitempty"`
	CallerName string                    `json:"caller_name,omitempty"`
}

type AnswerCallRequest struct {
	TargetID string                    `json:"target_id"`
	CallID   string                    `json:"call_id,omitempty"`
	Answer   webrtc.SessionDescription `json:"answer"`
}

type ICECandidateRequest struct {
	TargetID  string                  `json:"target_id"`
	CallID    string                  `json:"call_id,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type EndCallRequest struct {
	TargetID string `json:"target_id"`
	CallID   string `json:"call_id,omitempty"`
	// Reason is optional; "media_failure" ends the call with that reason.
	Reason string `json:"reason,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ClientStateRequest struct {
	Foreground           bool   `json:"foreground"`
	ActiveConversationID string `json:"active_conversation_id,omitempty"`
}

type StatusUpdatePayload struct {
	UserID        string    `json:"user_id"`
	IsOnline      bool      `json:"is_online"`
	CurrentStatus string    `json:"current_status"`
	LastSeen      time.Time `json:"last_seen"`
}

type UserTypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
}

type CallIncomingPayload struct {
	CallID     string                    `json:"call_id"`
	From       string                    `json:"from"`
	CallerName string                    `json:"caller_name,omitempty"`
	Type       string                    `json:"type"`
	Offer      webrtc.SessionDescription `json:"offer"`
}

type CallAnsweredPayload struct {
	CallID string                    `json:"call_id"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidatePayload struct {
	CallID    string                  `json:"call_id"`
	From      string                  `json:"from"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type CallEndedPayload struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
	By     string `json:"by,omitempty"`
}

type NotificationPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

type JoinedPayload struct {
	ConversationID string `json:"conversation_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
