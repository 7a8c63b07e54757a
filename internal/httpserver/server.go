// Package httpserver implements the agent's admin HTTP surface: health
// checks, Prometheus metrics, and a debug endpoint exposing per-offering
// lane status. Narrowed from the teacher's pkg/httpserver.Server (which
// additionally authenticates and tenant-scopes a human-facing API this
// agent has no use for).
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/pkg/supervisor"
)

// StatusProvider is the slice of AgentSupervisor the debug endpoint needs.
type StatusProvider interface {
	Status() map[uuid.UUID]map[supervisor.Lane]supervisor.LaneStatus
}

// Server is the agent's admin HTTP server.
type Server struct {
	Router    chi.Router
	logger    *slog.Logger
	metrics   *prometheus.Registry
	status    StatusProvider
	startedAt time.Time
}

// NewServer builds the admin HTTP server with health, metrics, and debug
// routes mounted. allowedOrigins configures the debug endpoint's CORS
// policy (a dashboard polling /debug/offerings typically runs on a
// different origin); an empty list disables cross-origin access.
func NewServer(logger *slog.Logger, metricsReg *prometheus.Registry, status StatusProvider, allowedOrigins []string) *Server {
	s := &Server{
		logger:    logger,
		metrics:   metricsReg,
		status:    status,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"Accept", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	r.Get("/debug/offerings", s.handleDebugOfferings)

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleDebugOfferings reports the last-run outcome of every
// (offering, lane) pair the supervisor is driving.
func (s *Server) handleDebugOfferings(w http.ResponseWriter, _ *http.Request) {
	status := s.status.Status()
	out := make(map[string]map[string]laneStatusView, len(status))
	for offeringUUID, lanes := range status {
		inner := make(map[string]laneStatusView, len(lanes))
		for lane, st := range lanes {
			inner[string(lane)] = laneStatusView{
				LastRun: st.LastRun,
				LastErr: st.LastErr,
			}
		}
		out[offeringUUID.String()] = inner
	}
	respond(w, http.StatusOK, out)
}

type laneStatusView struct {
	LastRun time.Time `json:"last_run"`
	LastErr string    `json:"last_error,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
