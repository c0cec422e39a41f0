package handler

import (
	"context"
	"net/http"

	"hr-realtime/internal/domain/call"
	"hr-realtime/internal/services"
	"hr-realtime/internal/transport/httpdto"
	rt_errors "hr-realtime/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CallReader is the in-process signaling manager.
type CallReader interface {
	Get(callID string) (call.Session, bool)
}

// CallJournal is the Redis read model of calls from every node.
type CallJournal interface {
	Get(ctx context.Context, callID string) (*call.Session, error)
	ActiveForUser(ctx context.Context, userID string) ([]string, error)
}

type CallHandler struct {
	calls   CallReader
	journal CallJournal
}

// NewCallHandler builds the handler. journal may be nil on a single node.
func NewCallHandler(calls CallReader, journal CallJournal) *CallHandler {
	return &CallHandler{calls: calls, journal: journal}
}

// GetByID returns a call the authenticated user takes part in.
func (h *CallHandler) GetByID(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		respondError(c, rt_errors.ErrUnauthorized)
		return
	}

	s, err := h.lookup(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.Involves(userID) {
		respondError(c, rt_errors.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromCallSession(s)))
}

// ListActive returns the authenticated user's live calls.
func (h *CallHandler) ListActive(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		respondError(c, rt_errors.ErrUnauthorized)
		return
	}

	resp := httpdto.ActiveCallsResponse{Calls: []httpdto.CallResponse{}}
	if h.journal == nil {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(resp))
		return
	}

	ids, err := h.journal.ActiveForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	for _, id := range ids {
		s, err := h.lookup(c.Request.Context(), id)
		if err != nil || !s.State.Live() {
			continue
		}
		resp.Calls = append(resp.Calls, httpdto.FromCallSession(s))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(resp))
}

func (h *CallHandler) lookup(ctx context.Context, callID string) (call.Session, error) {
	if callID == "" {
		return call.Session{}, rt_errors.ErrInvalidInput
	}
	if s, ok := h.calls.Get(callID); ok {
		return s, nil
	}
	if h.journal == nil {
		return call.Session{}, rt_errors.ErrNotFound
	}
	s, err := h.journal.Get(ctx, callID)
	if err != nil {
		return call.Session{}, err
	}
	if s == nil {
		return call.Session{}, rt_errors.ErrNotFound
	}
	return *s, nil
}
