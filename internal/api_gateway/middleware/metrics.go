package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestRecorder records served HTTP requests
type RequestRecorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics middleware records every request under its route template, so record
// keys in the URL do not explode label cardinality. Unmatched routes are recorded
// as "unmatched".
func Metrics(recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
