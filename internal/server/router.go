package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/bodyparser/internal/config"
	"github.com/guided-traffic/bodyparser/internal/server/handlers/echo"
	"github.com/guided-traffic/bodyparser/internal/server/handlers/health"
	"github.com/guided-traffic/bodyparser/internal/server/middleware"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser/verify"
)

var bodyMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(router *mux.Router) error {
	// Add monitoring middleware if monitoring is enabled
	if s.metrics != nil {
		router.Use(s.metrics.HTTPMiddleware)
	}

	healthHandler := health.NewHandler(s.logger, s.config.LogHealthRequests, s.build)
	healthHandler.SetShutdownStateHandler(s.shutdownStateHandler)
	healthHandler.SetRequestTracker(func() { s.ingestTracker.Begin(false) }, func() { s.ingestTracker.End(false) })

	healthRouter := router.NewRoute().Subrouter()
	healthRouter.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	healthRouter.HandleFunc("/version", healthHandler.Version).Methods(http.MethodGet)

	// Order matters: request ID first so the logger can report it
	api := router.NewRoute().Subrouter()
	api.Use(middleware.RequestID)
	api.Use(s.ingestTracker.Middleware)
	api.Use(s.httpLogger.Middleware)
	api.Use(s.corsHandler.Middleware)

	echoHandler := echo.NewHandler(s.logger.WithField("handler", "echo"))
	var body http.Handler = http.HandlerFunc(echoHandler.Body)
	var query http.Handler = http.HandlerFunc(echoHandler.Query)
	if s.config.Nested {
		nested := bodyparser.Nested(bodyparser.NestedOptions{})
		body = nested(body)
		query = nested(query)
	}

	hooks, err := s.config.Verify.Hooks(s.logger)
	if err != nil {
		return err
	}
	verifyHook := verify.Chain(hooks...)

	for _, name := range s.config.ParserNames() {
		section := s.config.Parsers[name]
		parser, err := s.buildParser(name, section, verifyHook)
		if err != nil {
			return fmt.Errorf("parser %q: %w", name, err)
		}
		api.Handle(section.Path, bodyparser.Middleware(s.errorWriter.WriteError, parser)(body)).Methods(bodyMethods...)
		s.logger.WithFields(logrus.Fields{
			"parser": name,
			"format": section.Format,
			"path":   section.Path,
			"limit":  parser.Limit(),
		}).Debug("Registered body parser route")
	}

	if s.config.Combined {
		parsers, err := bodyparser.Combined(bodyparser.Options{
			Name:     "combined",
			Logger:   s.logger,
			Observer: s.observer(),
		})
		if err != nil {
			return fmt.Errorf("combined parser: %w", err)
		}
		api.Handle("/", bodyparser.Middleware(s.errorWriter.WriteError, parsers...)(body)).Methods(bodyMethods...)
	}

	api.Handle("/query", query).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorWriter.WriteGenericError(w, http.StatusNotFound, "route.not.found", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorWriter.WriteGenericError(w, http.StatusMethodNotAllowed, "method.not.allowed", fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path))
	})

	return nil
}

func (s *Server) buildParser(name string, section config.ParserConfig, verifyHook bodyparser.VerifyFunc) (*bodyparser.Parser, error) {
	opts := section.ToOptions(name)
	opts.Logger = s.logger
	opts.Observer = s.observer()
	if section.Verify {
		opts.Verify = verifyHook
	}
	return section.Build(opts)
}

// observer avoids handing the parsers a typed nil
func (s *Server) observer() bodyparser.Observer {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}
