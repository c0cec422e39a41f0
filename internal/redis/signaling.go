package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hr-realtime/internal/domain/call"

	goredis "github.com/redis/go-redis/v9"
)

// CallStore mirrors call records into Redis so the HTTP API and other
// processes can inspect live calls. The signaling manager remains the
// authority; this is a read model.
type CallStore struct {
	client *goredis.Client
}

// Redis key prefixes for signaling
const (
	signalingCallStateKey = "call:state:" // JSON call record
	signalingUserCallsKey = "call:user:"  // Set of live call ids per user
	liveCallTTL           = time.Hour
	endedCallTTL          = 5 * time.Minute
)

// NewCallStore creates a new call store
func NewCallStore(client *goredis.Client) *CallStore {
	return &CallStore{client: client}
}

// Save writes the call record and keeps the per-user live call sets current.
func (s *CallStore) Save(ctx context.Context, session call.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	key := signalingCallStateKey + session.ID
	users := []string{session.CallerID, session.CalleeID}
	if session.State.Live() {
		pipe.Set(ctx, key, data, liveCallTTL)
		for _, u := range users {
			pipe.SAdd(ctx, signalingUserCallsKey+u, session.ID)
			pipe.Expire(ctx, signalingUserCallsKey+u, liveCallTTL)
		}
	} else {
		pipe.Set(ctx, key, data, endedCallTTL)
		for _, u := range users {
			pipe.SRem(ctx, signalingUserCallsKey+u, session.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save call %s: %w", session.ID, err)
	}
	return nil
}

// Get retrieves a call record. A miss returns nil, nil.
func (s *CallStore) Get(ctx context.Context, callID string) (*call.Session, error) {
	data, err := s.client.Get(ctx, signalingCallStateKey+callID).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session call.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveForUser returns the ids of the user's live calls.
func (s *CallStore) ActiveForUser(ctx context.Context, userID string) ([]string, error) {
	return s.client.SMembers(ctx, signalingUserCallsKey+userID).Result()
}
