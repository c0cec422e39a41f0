package handler

import (
	"hr-realtime/internal/transport/httpdto"
	rt_errors "hr-realtime/pkg/errors"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	status := rt_errors.HTTPStatus(err)
	msg := err.Error()
	if status >= 500 {
		// Surface the detail through the error middleware log only.
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, httpdto.NewErrorResponse(msg, rt_errors.Code(err)))
}
