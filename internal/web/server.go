// Package web serves the practice engine over a JSON HTTP API.
package web

import (
	"log/slog"
	"net/http"

	"github.com/conorfennell/mathdrill/internal/practice"
	"github.com/conorfennell/mathdrill/internal/storage"
	"github.com/conorfennell/mathdrill/internal/sync"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	practice *practice.Service
	syncOpts sync.Options
	log      *slog.Logger
	router   *http.ServeMux
	handler  http.Handler
}

// NewServer creates and configures a new server.
func NewServer(log *slog.Logger, db *storage.DB, svc *practice.Service, syncOpts sync.Options) *Server {
	s := &Server{
		db:       db,
		practice: svc,
		syncOpts: syncOpts,
		log:      log.With("component", "web"),
		router:   http.NewServeMux(),
	}
	s.routes()
	s.handler = recovery(s.log)(requestLogger(s.log)(s.router))
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)

	// Learner routes
	s.router.HandleFunc("POST /users/{user}/attempts", s.handlePostAttempt)
	s.router.HandleFunc("POST /users/{user}/sessions", s.handlePostSession)
	s.router.HandleFunc("POST /users/{user}/rescore", s.handleRescore)
	s.router.HandleFunc("POST /users/{user}/rebuild", s.handleRebuild)
	s.router.HandleFunc("GET /users/{user}/progress", s.handleGetProgress)
	s.router.HandleFunc("GET /users/{user}/queue", s.handleGetQueue)
	s.router.HandleFunc("GET /users/{user}/forecast", s.handleGetForecast)
	s.router.HandleFunc("GET /users/{user}/recommendation", s.handleGetRecommendation)
	s.router.HandleFunc("GET /users/{user}/cards/{item}", s.handleGetCard)
	s.router.HandleFunc("GET /users/{user}/targets", s.handleGetTargets)

	// Source management routes
	s.router.HandleFunc("GET /sources", s.handleGetSources)
	s.router.HandleFunc("POST /sources", s.handlePostSource)
	s.router.HandleFunc("DELETE /sources/{id}", s.handleDeleteSource)
	s.router.HandleFunc("POST /sync", s.handlePostSync)
}
