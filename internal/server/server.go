package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/bodyparser/internal/config"
	"github.com/guided-traffic/bodyparser/internal/monitoring"
	"github.com/guided-traffic/bodyparser/internal/server/handlers/echo"
	"github.com/guided-traffic/bodyparser/internal/server/handlers/health"
	"github.com/guided-traffic/bodyparser/internal/server/middleware"
	"github.com/guided-traffic/bodyparser/internal/server/response"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

// Server represents the body parsing server
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	config      *config.Config
	metrics     *monitoring.Metrics
	build       health.BuildInfo
	logger      *logrus.Entry
	errorWriter *response.ErrorWriter

	ingestTracker *middleware.IngestTracker
	httpLogger    *middleware.Logger
	corsHandler   *middleware.CORS

	shutdownMu        sync.RWMutex
	shutdownInitiated bool
	shutdownTime      time.Time
}

// NewServer creates a new server instance. metrics may be nil when
// monitoring is disabled.
func NewServer(cfg *config.Config, metrics *monitoring.Metrics, build health.BuildInfo) (*Server, error) {
	logger := logrus.WithField("component", "server")

	server := &Server{
		router:      mux.NewRouter(),
		config:      cfg,
		metrics:     metrics,
		build:       build,
		logger:      logger,
		errorWriter: response.NewErrorWriter(logger),
	}

	server.setupMiddleware()

	if err := server.setupRoutes(server.router); err != nil {
		return nil, fmt.Errorf("failed to set up routes: %w", err)
	}

	server.httpServer = &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return server, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware sets up the middleware for the server
func (s *Server) setupMiddleware() {
	var gauge middleware.Gauge
	if s.metrics != nil {
		gauge = s.metrics.BodiesInFlight
	}
	s.ingestTracker = middleware.NewIngestTracker(s.logger, gauge)
	s.httpLogger = middleware.NewLogger(s.logger, s.config.LogHealthRequests)
	s.corsHandler = middleware.NewCORS(s.logger, middleware.CORSOptions{
		Methods:       append([]string{http.MethodGet}, bodyMethods...),
		Headers:       s.config.Verify.RequestHeaders(),
		Encodings:     bodyparser.SupportedEncodings(),
		ExposeHeaders: []string{middleware.RequestIDHeader, echo.ParserHeader},
	})
}

// ActiveRequests returns the number of requests currently in flight
func (s *Server) ActiveRequests() int64 {
	return s.ingestTracker.Requests()
}

// ActiveBodies returns the number of in-flight requests carrying a body
func (s *Server) ActiveBodies() int64 {
	return s.ingestTracker.Bodies()
}

func (s *Server) shutdownStateHandler() (bool, time.Time) {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shutdownInitiated, s.shutdownTime
}

func (s *Server) markShutdown() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	s.shutdownInitiated = true
	s.shutdownTime = time.Now()
}

// Start starts the server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	serverErrChan := make(chan error, 1)
	go func() {
		if s.config.TLS.Enabled {
			s.logger.WithFields(logrus.Fields{
				"address":   s.config.BindAddress,
				"cert_file": s.config.TLS.CertFile,
				"key_file":  s.config.TLS.KeyFile,
			}).Info("Starting HTTPS server")

			if err := s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("HTTPS server failed: %w", err)
			}
		} else {
			s.logger.WithField("address", s.config.BindAddress).Info("Starting HTTP server")
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("HTTP server failed: %w", err)
			}
		}
	}()

	select {
	case err := <-serverErrChan:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown marks the server as shutting down and waits for in-flight
// requests up to the configured timeout.
func (s *Server) Shutdown() error {
	s.markShutdown()

	timeout := time.Duration(s.config.ShutdownTimeout) * time.Second
	s.logger.WithFields(logrus.Fields{
		"active_requests": s.ActiveRequests(),
		"active_bodies":   s.ActiveBodies(),
		"timeout":         timeout,
	}).Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"active_requests": s.ActiveRequests(),
			"active_bodies":   s.ActiveBodies(),
		}).Error("Failed to gracefully shutdown server")
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}
