package server

import (
	"context"
	"net/http"
	"strings"

	"hr-realtime/internal/services"
	"hr-realtime/internal/transport/httpdto"
	"hr-realtime/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	router      *Router
	authService *services.AuthService
	upgrader    websocket.Upgrader
	timings     Timings
	baseCtx     context.Context
	logger      *WebSocketLogger
}

// NewWebSocketHandler creates a new WebSocket handler. baseCtx outlives the
// upgrade request and scopes every frame handled on the connection.
func NewWebSocketHandler(baseCtx context.Context, router *Router, authService *services.AuthService, timings Timings, allowedOrigins []string, l *WebSocketLogger) *WebSocketHandler {
	return &WebSocketHandler{
		router:      router,
		authService: authService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		timings: timings,
		baseCtx: baseCtx,
		logger:  l,
	}
}

// Handle upgrades HTTP to WebSocket
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := h.extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing token", "UNAUTHORIZED"))
		return
	}

	claims, err := h.authService.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid token", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", claims.UserID, "", err)
		return
	}

	clientID := uuid.NewString()
	client := NewClient(h.router, conn, claims.UserID, clientID, h.timings, h.logger)

	ctx := logger.WithUserID(h.baseCtx, claims.UserID)
	h.router.Connect(ctx, client)

	go client.writePump()
	go client.readPump(ctx)
}

func (h *WebSocketHandler) extractToken(c *gin.Context) string {
	// Check query parameter
	token := c.Query("token")
	if token != "" {
		return token
	}

	// Check Authorization header
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// originChecker allows requests without an Origin header (native clients) and
// browsers from the configured origins. A "*" entry allows every origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
