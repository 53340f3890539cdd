package api_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vcs-invoice-reconciler/internal/api_gateway/handler"
	"github.com/vcs-invoice-reconciler/internal/api_gateway/middleware"
	"github.com/vcs-invoice-reconciler/internal/api_gateway/service"
	"github.com/vcs-invoice-reconciler/internal/config"
)

// readHeaderTimeout bounds slow clients independently of the body read timeout
const readHeaderTimeout = 5 * time.Second

// HTTPMetrics records requests and serves the scrape endpoint
type HTTPMetrics interface {
	middleware.RequestRecorder
	Handler() http.Handler
}

// Server is the operator API over the Local Store and the audit journal
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	router     *gin.Engine
	addr       string
}

// NewServer wires the record and requeue services behind the gin router.
// metrics may be nil.
func NewServer(log *slog.Logger, cfg *config.Config, recordService service.RecordService, requeueService service.RequeueService, metrics HTTPMetrics) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	setupRouter(log, router, handler.NewRecordHandler(log, recordService, requeueService), metrics)

	return &Server{
		logger: log,
		router: router,
		addr:   fmt.Sprintf(":%d", cfg.Server.Port),
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server stopped: %w", err)
	}
	return nil
}

// Stop drains in-flight requests. ctx bounds the drain.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
