// Package server provides the HTTP and websocket surface of mediamap.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/capture"
	"github.com/ayusman/mediamap/internal/server/api"
	"github.com/ayusman/mediamap/internal/transform"
)

// App is what the API needs from the running application.
type App interface {
	api.Calibrations
	api.Viewports
	api.Grids
	api.Controls
	Stack() *transform.Stack
	Latest() *capture.Latest
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       App
	Hub       *Hub
	Logger    logrus.FieldLogger
}

// Server represents the HTTP server for the mediamap application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    logrus.FieldLogger

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    log.WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		calibrations := api.NewCalibrationHandler(a)
		s.mux.Handle("/api/calibration", calibrations)
		s.mux.Handle("/api/calibration/", calibrations)
		s.mux.Handle("/api/transforms", api.NewTransformHandler(a.Stack()))
		s.mux.Handle("/api/viewport", api.NewViewportHandler(a))
		grid := api.NewGridHandler(a)
		s.mux.Handle("/api/grid", grid)
		s.mux.Handle("/api/grid/", grid)
		s.mux.Handle("/api/control", api.NewControlHandler(a))
		s.mux.Handle("/api/stream", NewStreamHandler(a.Latest()))
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/ws", s.config.Hub)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Hub != nil {
		response["clients"] = s.config.Hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.WithField("addr", addr).Info("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
