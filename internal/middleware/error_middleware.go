package middleware

import (
	"net/http"

	"hr-realtime/internal/transport/httpdto"
	rt_errors "hr-realtime/pkg/errors"
	"hr-realtime/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached by a handler with the status
// and code mapped from its sentinel.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := rt_errors.HTTPStatus(err)
		if status >= http.StatusInternalServerError && l != nil {
			l.WithContext(c.Request.Context()).Error("request error", zap.Error(err))
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), rt_errors.Code(err)))
	}
}
