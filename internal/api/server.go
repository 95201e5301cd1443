// Package api is the service's admin HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/metrics"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
	"github.com/sawdustofmind/livescore-fanout/internal/reconcile"
	"github.com/sawdustofmind/livescore-fanout/internal/session"
	"github.com/sawdustofmind/livescore-fanout/internal/snapshot"
	"github.com/sawdustofmind/livescore-fanout/internal/stream"
)

const maxBodyBytes = 8 << 20

// Updates is the canonical-state owner. Its methods are only called on the
// Executor.
type Updates interface {
	ProcessUpdate(ctx context.Context, u models.RawUpdate) (reconcile.Transition, error)
	Resync(ctx context.Context, updates []models.RawUpdate) error
	Fixtures() []models.FixtureSnapshot
}

type Stream interface {
	Start()
	Stop()
	Status() stream.Status
}

type Executor interface {
	Do(ctx context.Context, fn func()) error
}

type Deps struct {
	Exec     Executor
	Updates  Updates
	Stream   Stream
	Store    *snapshot.Store
	Registry *session.Registry
	Metrics  *metrics.Metrics
	// RefreshRate and RefreshBurst bound manual resyncs.
	RefreshRate  float64
	RefreshBurst int
}

type Server struct {
	deps    Deps
	refresh *rate.Limiter
	router  *mux.Router
}

type HealthResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Stream    stream.Status `json:"stream"`
	Fixtures  int           `json:"fixtures"`
	Sessions  int           `json:"sessions"`
	Snapshots int           `json:"snapshots"`
}

func NewServer(deps Deps) *Server {
	if deps.RefreshRate <= 0 {
		deps.RefreshRate = 1
	}
	if deps.RefreshBurst <= 0 {
		deps.RefreshBurst = 1
	}
	s := &Server{
		deps:    deps,
		refresh: rate.NewLimiter(rate.Limit(deps.RefreshRate), deps.RefreshBurst),
	}

	r := mux.NewRouter()
	r.Use(s.observe)
	r.HandleFunc("/heartbeat", s.heartbeatHandler).Methods(http.MethodPost)
	r.HandleFunc("/process-msg", s.processUpdateHandler).Methods(http.MethodPost)
	r.HandleFunc("/refresh", s.refreshHandler).Methods(http.MethodPost)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/fixtures", s.fixturesHandler).Methods(http.MethodGet)
	r.HandleFunc("/snapshots", s.snapshotsHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.sessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/end-all", s.endAllHandler).Methods(http.MethodPost)
	r.HandleFunc("/stream/start", s.streamHandler(true)).Methods(http.MethodPost)
	r.HandleFunc("/stream/stop", s.streamHandler(false)).Methods(http.MethodPost)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	log.Debug("Heartbeat received")
}

func (s *Server) processUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var u models.RawUpdate
	if err := readJSON(r, &u); err != nil {
		log.Error("Failed to parse update", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to parse JSON: %v", err), http.StatusBadRequest)
		return
	}

	var (
		tr      reconcile.Transition
		procErr error
	)
	if err := s.deps.Exec.Do(r.Context(), func() {
		tr, procErr = s.deps.Updates.ProcessUpdate(r.Context(), u)
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if procErr != nil {
		http.Error(w, fmt.Sprintf("Failed to process update: %v", procErr), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transition": tr.String()})
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if !s.refresh.Allow() {
		s.deps.Metrics.IncRateLimited()
		w.Header().Set("Retry-After", "1")
		http.Error(w, "refresh rate limited", http.StatusTooManyRequests)
		return
	}

	var updates []models.RawUpdate
	if err := readJSON(r, &updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse JSON: %v", err), http.StatusBadRequest)
		return
	}

	var resyncErr error
	if err := s.deps.Exec.Do(r.Context(), func() {
		resyncErr = s.deps.Updates.Resync(r.Context(), updates)
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if resyncErr != nil {
		log.Warn("Manual resync finished with errors", zap.Error(resyncErr))
		http.Error(w, resyncErr.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fixtures": len(updates)})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var fixtures int
	if err := s.deps.Exec.Do(r.Context(), func() {
		fixtures = len(s.deps.Updates.Fixtures())
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Stream:    s.deps.Stream.Status(),
		Fixtures:  fixtures,
		Sessions:  len(s.deps.Registry.Active()),
		Snapshots: len(s.deps.Store.Snapshots()),
	})
}

func (s *Server) fixturesHandler(w http.ResponseWriter, r *http.Request) {
	var fixtures []models.FixtureSnapshot
	if err := s.deps.Exec.Do(r.Context(), func() {
		fixtures = s.deps.Updates.Fixtures()
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, fixtures)
}

func (s *Server) snapshotsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Snapshots())
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Active())
}

func (s *Server) endAllHandler(w http.ResponseWriter, r *http.Request) {
	var ended int
	if err := s.deps.Exec.Do(r.Context(), func() {
		ended = s.deps.Registry.EndAll(r.Context())
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ended": ended})
}

func (s *Server) streamHandler(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Exec.Do(r.Context(), func() {
			if start {
				s.deps.Stream.Start()
			} else {
				s.deps.Stream.Stop()
			}
		}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Stream.Status())
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.deps.Metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func readJSON(r *http.Request, v interface{}) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Error("Failed to close request body", zap.Error(err))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to write response", zap.Error(err))
	}
}
