package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
)

// Recovery middleware turns a handler panic into a 500 carrying the correlation ID.
// A panic caused by the client hanging up is logged without a stack and gets no
// response, since nobody is left to read it.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			correlationID := GetCorrelationID(c)
			attrs := []any{
				"error", r,
				"path", c.Request.URL.Path,
				"route", c.FullPath(),
				"method", c.Request.Method,
				"correlation_id", correlationID,
			}

			if clientGone(r) {
				logger.Warn("Client connection lost", attrs...)
				c.Abort()
				return
			}

			logger.Error("Panic recovered", append(attrs, "stack", string(debug.Stack()))...)

			body := gin.H{
				"error": gin.H{
					"code":    "INTERNAL_SERVER_ERROR",
					"message": "An internal server error occurred",
				},
			}
			if correlationID != "" {
				body["correlation_id"] = correlationID
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()
	}
}

func clientGone(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
