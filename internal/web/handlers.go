package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/storage"
	"github.com/conorfennell/mathdrill/internal/sync"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePostAttempt(w http.ResponseWriter, r *http.Request) {
	var event domain.AttemptEvent
	if !s.decode(w, r, &event) {
		return
	}
	res, err := s.practice.RecordAttempt(r.Context(), r.PathValue("user"), event)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePostSession(w http.ResponseWriter, r *http.Request) {
	var session domain.PracticeSession
	if !s.decode(w, r, &session) {
		return
	}
	res, err := s.practice.RecordSession(r.Context(), r.PathValue("user"), session)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	res, err := s.practice.Rescore(r.Context(), r.PathValue("user"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	cards, err := s.practice.Rebuild(r.Context(), r.PathValue("user"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.practice.Progress(r.Context(), r.PathValue("user"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleGetQueue returns today's plan; ?balance=tools applies the
// calculator mix.
func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	opts := queue.PlanOptions{BalanceTools: r.URL.Query().Get("balance") == "tools"}
	plan, err := s.practice.PlanDay(r.Context(), r.PathValue("user"), opts)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}
	forecast, err := s.practice.Forecast(r.Context(), r.PathValue("user"), days)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := difficulty.Filters{Unit: q.Get("unit"), Topic: q.Get("topic")}
	if v := q.Get("max"); v != "" {
		tier, err := domain.ParseTier(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filters.MaxTier = tier
	}
	item, err := s.practice.Recommend(r.Context(), r.PathValue("user"), filters)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	view, err := s.practice.CardStats(r.Context(), r.PathValue("user"), r.PathValue("item"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.practice.Targets(r.Context(), r.PathValue("user"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetAllSources(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if sources == nil {
		sources = []storage.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

type addSourceRequest struct {
	Path string `json:"path"`
}

func (s *Server) handlePostSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	src, err := sync.AddSource(r.Context(), s.db, req.Path)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	if err := s.db.DeleteSource(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePostSync runs a sync in the foreground and reports per-source
// results.
func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request) {
	results, err := sync.RunSync(r.Context(), s.db, s.syncOpts)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if results == nil {
		results = []sync.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": results})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "fields": ve.Errors})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrCardNotFound),
		errors.Is(err, domain.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.ErrorContext(r.Context(), "internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
