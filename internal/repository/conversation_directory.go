package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hr-realtime/internal/domain/conversation"
	rt_errors "hr-realtime/pkg/errors"
	"hr-realtime/pkg/logger"

	"go.uber.org/zap"
)

// ConversationCache is the read-through cache in front of the directory.
// redis.CacheStore satisfies it.
type ConversationCache interface {
	GetConversation(ctx context.Context, conversationID string) (*conversation.Conversation, error)
	SetConversation(ctx context.Context, conv *conversation.Conversation) error
	GetPeers(ctx context.Context, userID string) ([]string, bool, error)
	SetPeers(ctx context.Context, userID string, peers []string) error
}

// ConversationDirectory reads conversation membership owned by the CRUD
// service. It never writes.
type ConversationDirectory struct {
	db     DBTX
	cache  ConversationCache
	logger *logger.Logger
}

const (
	selectConversation = `SELECT id, kind, COALESCE(name, ''), created_at
		FROM conversations WHERE id = $1`
	selectParticipants = `SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1 ORDER BY user_id`
	selectPeers = `SELECT DISTINCT other.user_id
		FROM conversation_participants self
		JOIN conversation_participants other ON other.conversation_id = self.conversation_id
		WHERE self.user_id = $1 AND other.user_id <> $1
		ORDER BY other.user_id`
)

// NewConversationDirectory builds a directory over db. cache may be nil.
func NewConversationDirectory(db DBTX, cache ConversationCache, l *logger.Logger) *ConversationDirectory {
	return &ConversationDirectory{
		db:     db,
		cache:  cache,
		logger: l.Named("directory"),
	}
}

// GetConversation returns the conversation with its participant ids, or
// ErrNotFound.
func (d *ConversationDirectory) GetConversation(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	if d.cache != nil {
		cached, err := d.cache.GetConversation(ctx, conversationID)
		if err != nil {
			d.logger.Warn("conversation cache read failed", zap.String("conversation_id", conversationID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	var (
		conv conversation.Conversation
		kind string
	)
	err := d.db.QueryRowContext(ctx, selectConversation, conversationID).
		Scan(&conv.ID, &kind, &conv.Name, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rt_errors.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %s: %w", conversationID, err)
	}
	conv.Kind = conversation.Kind(kind)

	conv.ParticipantIDs, err = queryStrings(ctx, d.db, selectParticipants, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get participants of %s: %w", conversationID, err)
	}

	if d.cache != nil {
		if err := d.cache.SetConversation(ctx, &conv); err != nil {
			d.logger.Warn("conversation cache write failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return &conv, nil
}

// Peers returns every user sharing at least one conversation with userID.
func (d *ConversationDirectory) Peers(ctx context.Context, userID string) ([]string, error) {
	if d.cache != nil {
		peers, ok, err := d.cache.GetPeers(ctx, userID)
		if err != nil {
			d.logger.Warn("peer cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return peers, nil
		}
	}

	peers, err := queryStrings(ctx, d.db, selectPeers, userID)
	if err != nil {
		return nil, fmt.Errorf("get peers of %s: %w", userID, err)
	}

	if d.cache != nil {
		if err := d.cache.SetPeers(ctx, userID, peers); err != nil {
			d.logger.Warn("peer cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return peers, nil
}

// Ping checks the database connection.
func (d *ConversationDirectory) Ping(ctx context.Context) error {
	if p, ok := d.db.(interface{ PingContext(context.Context) error }); ok {
		return p.PingContext(ctx)
	}
	return nil
}
