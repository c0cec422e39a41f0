package handler

import (
	"context"
	"net/http"

	"hr-realtime/internal/presence"
	"hr-realtime/internal/transport/httpdto"
	rt_errors "hr-realtime/pkg/errors"

	"github.com/gin-gonic/gin"
)

// PresenceReader is the in-process registry.
type PresenceReader interface {
	Get(userID string) presence.Snapshot
	Sessions(userID string) []presence.Session
}

// PresenceMirror is the cross-process view kept in Redis.
type PresenceMirror interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, userID string) (presence.Snapshot, error)
	GetOnlineCount(ctx context.Context) (int64, error)
}

type PresenceHandler struct {
	registry PresenceReader
	mirror   PresenceMirror
}

// NewPresenceHandler builds the handler. mirror may be nil on a single node.
func NewPresenceHandler(registry PresenceReader, mirror PresenceMirror) *PresenceHandler {
	return &PresenceHandler{registry: registry, mirror: mirror}
}

// Get returns the user's presence. A user offline here is read from the
// mirror when another node has them online or this node never saw them.
func (h *PresenceHandler) Get(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respondError(c, rt_errors.ErrInvalidInput)
		return
	}

	snap := h.registry.Get(userID)
	sessions := len(h.registry.Sessions(userID))
	if !snap.IsOnline && h.mirror != nil {
		ctx := c.Request.Context()
		online, err := h.mirror.IsOnline(ctx, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if online || snap.LastSeen.IsZero() {
			mirrored, err := h.mirror.Get(ctx, userID)
			if err != nil {
				respondError(c, err)
				return
			}
			if mirrored.IsOnline || snap.LastSeen.IsZero() {
				snap = mirrored
			}
		}
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromPresenceSnapshot(snap, sessions)))
}

// OnlineCount returns how many users are online across all nodes.
func (h *PresenceHandler) OnlineCount(c *gin.Context) {
	if h.mirror == nil {
		respondError(c, rt_errors.ErrNotFound)
		return
	}
	n, err := h.mirror.GetOnlineCount(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.OnlineCountResponse{Online: n}))
}
