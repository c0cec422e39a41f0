package middleware

import (
	"context"
	"net/http"
	"strconv"

	"hr-realtime/internal/redis"
	"hr-realtime/internal/services"
	"hr-realtime/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type limitFunc func(ctx context.Context, userID string) (*redis.RateLimitResult, error)

// RelayRateLimitMiddleware limits relay announcements per sender.
// Should be applied to the relay endpoint after auth middleware
func RelayRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return userRateLimit(limiter.AllowMessage, "relay rate limit exceeded")
}

// CallRateLimitMiddleware creates a middleware for call rate limiting
// Should be applied to call endpoints after auth middleware
func CallRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return userRateLimit(limiter.AllowCall, "call rate limit exceeded")
}

// WebSocketRateLimitMiddleware limits websocket upgrades per user. The
// websocket route authenticates inside its handler, so the user is taken from
// the verified token when the request context carries none.
func WebSocketRateLimitMiddleware(limiter *redis.RateLimiter, auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			claims, err := auth.ParseAccessToken(extractToken(c))
			if err != nil {
				// The handler rejects the upgrade.
				c.Next()
				return
			}
			userID = claims.UserID
		}
		if !enforce(c, limiter.AllowWebSocket, userID, "connection rate limit exceeded") {
			return
		}
		c.Next()
	}
}

func userRateLimit(allow limitFunc, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			// No user context, skip rate limiting (auth middleware will handle)
			c.Next()
			return
		}
		if !enforce(c, allow, userID, message) {
			return
		}
		c.Next()
	}
}

func enforce(c *gin.Context, allow limitFunc, userID, message string) bool {
	result, err := allow(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
		c.Abort()
		return false
	}

	setRateLimitHeaders(c, result)

	if !result.Allowed {
		c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(message, "RATE_LIMITED"))
		c.Abort()
		return false
	}
	return true
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}

// extractToken reads the access token from the query string or the
// Authorization header. Browsers cannot set headers on websocket upgrades.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return extractBearer(c)
}
