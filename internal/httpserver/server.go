// Package httpserver exposes the read-only operational surface: health,
// metrics, scheduler status, and per-candidate eligibility and history.
// Report ingestion and reviewer UI live in external collaborators.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hraudit/promotiond/internal/models"
	"github.com/hraudit/promotiond/internal/promotion"
	"github.com/hraudit/promotiond/internal/store"
)

// StatusReporter is the scheduler's status snapshot, decoupled so tests can
// serve the router without a running scheduler.
type StatusReporter interface {
	Status() models.SchedulerStatus
}

type Server struct {
	service *promotion.Service
	sched   StatusReporter
	store   store.Store
}

func New(svc *promotion.Service, sched StatusReporter, st store.Store) *Server {
	return &Server{service: svc, sched: sched, store: st}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/promotiond", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/candidates/{candidateID}/eligibility", s.handleEligibility)
		r.Get("/candidates/{candidateID}/history", s.handleHistory)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	candidateID := chi.URLParam(r, "candidateID")
	eligible, err := s.service.CanPromoteToday(r.Context(), candidateID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidateId": candidateID,
		"eligible":    eligible,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	candidateID := chi.URLParam(r, "candidateID")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.service.History(r.Context(), candidateID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.PromotionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
