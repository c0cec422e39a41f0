package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"hr-realtime/internal/events"
	"hr-realtime/internal/presence"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceStore mirrors the in-process presence registry into Redis so the
// HTTP presence endpoint and other processes can read it.
type PresenceStore struct {
	client    *goredis.Client
	publisher *Publisher
	ttl       time.Duration
	now       func() time.Time
}

// Redis key prefixes for presence
const (
	presenceKeyPrefix    = "presence:"           // JSON snapshot per user
	presenceOnlineSet    = "presence:online"     // Set of online user IDs
	presenceHeartbeatKey = "presence:heartbeat:" // Sorted set for heartbeat timestamps
	offlineRetention     = 24 * time.Hour
)

// NewPresenceStore creates a new presence store
func NewPresenceStore(client *goredis.Client, publisher *Publisher, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{
		client:    client,
		publisher: publisher,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Store writes a published snapshot and announces it on channel:presence:<user>.
func (p *PresenceStore) Store(ctx context.Context, snap presence.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	key := presenceKeyPrefix + snap.UserID
	pipe := p.client.Pipeline()
	if snap.IsOnline {
		pipe.Set(ctx, key, data, p.ttl)
		pipe.SAdd(ctx, presenceOnlineSet, snap.UserID)
		pipe.ZAdd(ctx, presenceHeartbeatKey+"all", goredis.Z{
			Score:  float64(p.now().Unix()),
			Member: snap.UserID,
		})
	} else {
		// Keep offline status longer for last_seen queries
		pipe.Set(ctx, key, data, offlineRetention)
		pipe.SRem(ctx, presenceOnlineSet, snap.UserID)
		pipe.ZRem(ctx, presenceHeartbeatKey+"all", snap.UserID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store presence for %s: %w", snap.UserID, err)
	}

	return p.publish(ctx, snap)
}

// Heartbeat refreshes the user's TTL so live users do not expire.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID string) error {
	pipe := p.client.Pipeline()
	pipe.Expire(ctx, presenceKeyPrefix+userID, p.ttl)
	pipe.ZAdd(ctx, presenceHeartbeatKey+"all", goredis.Z{
		Score:  float64(p.now().Unix()),
		Member: userID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// Get reads the mirrored presence of a user. Missing keys read as offline.
func (p *PresenceStore) Get(ctx context.Context, userID string) (presence.Snapshot, error) {
	data, err := p.client.Get(ctx, presenceKeyPrefix+userID).Result()
	if err == goredis.Nil {
		return presence.Snapshot{UserID: userID, Status: presence.StatusOffline}, nil
	}
	if err != nil {
		return presence.Snapshot{}, err
	}

	var snap presence.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return presence.Snapshot{}, err
	}
	return snap, nil
}

// IsOnline checks if a user is online
func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID).Result()
}

// GetOnlineCount returns the count of online users
func (p *PresenceStore) GetOnlineCount(ctx context.Context) (int64, error) {
	return p.client.SCard(ctx, presenceOnlineSet).Result()
}

// CleanupStalePresence marks users offline whose heartbeat is older than
// maxAge. It covers processes that died without unregistering their sessions.
func (p *PresenceStore) CleanupStalePresence(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := p.now().Add(-maxAge).Unix()

	staleUsers, err := p.client.ZRangeByScore(ctx, presenceHeartbeatKey+"all", &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(threshold, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	var cleaned int64
	for _, userID := range staleUsers {
		snap, err := p.Get(ctx, userID)
		if err != nil {
			continue
		}
		snap.IsOnline = false
		snap.Status = presence.StatusOffline
		if err := p.Store(ctx, snap); err != nil {
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}

func (p *PresenceStore) publish(ctx context.Context, snap presence.Snapshot) error {
	if p.publisher == nil {
		return nil
	}

	env, err := events.New(events.EventStatusUpdate, events.StatusUpdatePayload{
		UserID:        snap.UserID,
		IsOnline:      snap.IsOnline,
		CurrentStatus: string(snap.Status),
		LastSeen:      snap.LastSeen,
	})
	if err != nil {
		return err
	}
	return p.publisher.PublishEnvelope(ctx, events.ChannelPrefixPresence+snap.UserID, env)
}
