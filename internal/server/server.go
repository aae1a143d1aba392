package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/jobcontroller"
	"github.com/allabolag/scraper/internal/migrator"
	"github.com/allabolag/scraper/internal/scraper"
	"github.com/allabolag/scraper/internal/validator"
	"github.com/ternarybob/arbor"
)

// Server exposes this engine's control surface (spec.md §6) over HTTP: the
// previewSegmentation/startJob/getJob/pause/resume/stop/listCompanies/
// listErrors/validateJob/migrateJob verbs, plus a websocket job-status
// stream. It holds no business logic of its own — every verb is a thin
// decode/dispatch/encode wrapper around jobController/previewer/validator/
// migrator/storage.
type Server struct {
	cfg          common.ServerConfig
	logger       arbor.ILogger
	router       *http.ServeMux
	server       *http.Server
	shutdownChan chan struct{}

	jobController *jobcontroller.Controller
	previewer     *scraper.Previewer
	validator     *validator.Validator
	migrator      *migrator.Migrator
	storage       interfaces.StorageManager
}

// New wires a Server from its collaborators, the same constructor-injection
// style the teacher uses for every service (logger + every dependency
// passed in, never resolved from a global).
func New(
	logger arbor.ILogger,
	cfg common.ServerConfig,
	jobController *jobcontroller.Controller,
	previewer *scraper.Previewer,
	val *validator.Validator,
	mig *migrator.Migrator,
	storage interfaces.StorageManager,
) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		jobController: jobController,
		previewer:     previewer,
		validator:     val,
		migrator:      mig,
		storage:       storage,
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info().Str("address", addr).Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, letting in-flight requests drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler returns the underlying http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ShutdownHandler triggers a graceful shutdown via the shutdown channel.
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.logger.Info().Msg("shutdown requested via HTTP endpoint")
	writeStarted(w, "shutting down gracefully")

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
