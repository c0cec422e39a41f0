package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hr-realtime/internal/domain/conversation"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - conversation:{conv_id} - conversation with its participant ids
// - user:{user_id}:peers - users sharing at least one conversation

// CacheConfig contains configuration for caching
type CacheConfig struct {
	ConversationTTL time.Duration // TTL for conversation cache (default 5m)
	PeersTTL        time.Duration // TTL for peer lists (default 1m)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ConversationTTL: 5 * time.Minute,
		PeersTTL:        time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	if config.ConversationTTL == 0 {
		config.ConversationTTL = DefaultCacheConfig().ConversationTTL
	}
	if config.PeersTTL == 0 {
		config.PeersTTL = DefaultCacheConfig().PeersTTL
	}
	return &CacheStore{
		client: client,
		config: config,
	}
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

func peersKey(userID string) string {
	return fmt.Sprintf("user:%s:peers", userID)
}

// GetConversation retrieves a conversation from cache. A miss returns nil, nil.
func (c *CacheStore) GetConversation(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	data, err := c.client.Get(ctx, conversationKey(conversationID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var conv conversation.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// SetConversation stores a conversation in cache
func (c *CacheStore) SetConversation(ctx context.Context, conv *conversation.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, conversationKey(conv.ID), data, c.config.ConversationTTL).Err()
}

// InvalidateConversation drops a conversation and the peer lists of its
// participants, which may have changed with it.
func (c *CacheStore) InvalidateConversation(ctx context.Context, conv *conversation.Conversation) error {
	keys := []string{conversationKey(conv.ID)}
	for _, id := range conv.ParticipantIDs {
		keys = append(keys, peersKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

// GetPeers retrieves a user's peer list. A miss returns nil, false.
func (c *CacheStore) GetPeers(ctx context.Context, userID string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, peersKey(userID)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var peers []string
	if err := json.Unmarshal([]byte(data), &peers); err != nil {
		return nil, false, err
	}
	return peers, true, nil
}

// SetPeers stores a user's peer list.
func (c *CacheStore) SetPeers(ctx context.Context, userID string, peers []string) error {
	if peers == nil {
		peers = []string{}
	}
	data, err := json.Marshal(peers)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, peersKey(userID), data, c.config.PeersTTL).Err()
}

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
