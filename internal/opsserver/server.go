// Package opsserver exposes the unauthenticated operational surface:
// liveness, readiness (DB + Redis ping), and Prometheus metrics. There is no
// domain API here — AssetEvent ingestion is out of scope, so this router
// never grows a tenant- or auth-aware branch.
package opsserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server is the ops HTTP surface.
type Server struct {
	Router    *chi.Mux
	logger    *slog.Logger
	db        *pgxpool.Pool
	redis     *redis.Client
	startedAt time.Time
}

// New builds a Server with /healthz, /readyz, and metricsPath mounted.
func New(logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, metricsPath string) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		logger:    logger,
		db:        db,
		redis:     rdb,
		startedAt: time.Now(),
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle(metricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	var checks []checkResult
	allOK := true

	if err := s.db.Ping(ctx); err != nil {
		s.logger.ErrorContext(ctx, "readiness check: database ping failed", slog.Any("error", err))
		checks = append(checks, checkResult{Name: "database", Status: "fail", Error: err.Error()})
		allOK = false
	} else {
		checks = append(checks, checkResult{Name: "database", Status: "ok"})
	}

	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.logger.ErrorContext(ctx, "readiness check: redis ping failed", slog.Any("error", err))
		checks = append(checks, checkResult{Name: "redis", Status: "fail", Error: err.Error()})
		allOK = false
	} else {
		checks = append(checks, checkResult{Name: "redis", Status: "ok"})
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	}

	respond(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// Uptime reports how long this Server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
