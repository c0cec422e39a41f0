package handler

import (
	"context"
	"net/http"

	"hr-realtime/internal/domain/message"
	"hr-realtime/internal/services"
	"hr-realtime/internal/transport/httpdto"
	rt_errors "hr-realtime/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Relayer fans a persisted message out to subscribed connections.
type Relayer interface {
	RelayFrom(ctx context.Context, userID string, msg message.Message) (int, error)
}

type RelayHandler struct {
	relayer Relayer
}

func NewRelayHandler(relayer Relayer) *RelayHandler {
	return &RelayHandler{relayer: relayer}
}

// Relay is called after the message has been persisted. The authenticated
// user must be the sender.
func (h *RelayHandler) Relay(c *gin.Context) {
	var req httpdto.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		respondError(c, rt_errors.ErrUnauthorized)
		return
	}

	delivered, err := h.relayer.RelayFrom(c.Request.Context(), userID, req.ToMessage())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.RelayResponse{
		MessageID:  req.ID,
		Deliveries: delivered,
	}))
}
