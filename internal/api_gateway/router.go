package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vcs-invoice-reconciler/internal/api_gateway/handler"
	"github.com/vcs-invoice-reconciler/internal/api_gateway/middleware"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
)

// setupRouter configures API routes and middleware for the application. metrics
// may be nil, in which case neither the middleware nor /metrics is installed.
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	recordHandler *handler.RecordHandler,
	metrics HTTPMetrics,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger, healthPath, metricsPath))
	if metrics != nil {
		r.Use(middleware.Metrics(metrics))
		r.GET(metricsPath, gin.WrapH(metrics.Handler()))
	}

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		records := v1.Group("/records")
		{
			records.GET("", recordHandler.List)
			records.GET("/:orderId/:type", recordHandler.GetByKey)
			records.POST("/:orderId/:type/requeue", recordHandler.Requeue)
		}

		v1.GET("/orders/:orderId/history", recordHandler.History)
		v1.GET("/stats/records", recordHandler.Counts)
	}

	// Health check endpoint for monitoring
	r.GET(healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
