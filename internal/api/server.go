// Package api serves the HTTP surface: launching a Walker scene on
// request, reading run history, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/hpoprun/internal/history"
	"github.com/psantana5/hpoprun/internal/report"
	"github.com/psantana5/hpoprun/pkg/auth"
	"github.com/psantana5/hpoprun/pkg/logging"
	"github.com/psantana5/hpoprun/pkg/middleware"
	"github.com/psantana5/hpoprun/pkg/ratelimit"
	"github.com/psantana5/hpoprun/pkg/tracing"
)

// Config describes the child every request launches
type Config struct {
	Executable     string
	Dir            string
	Env            []string
	Timeout        time.Duration
	SampleInterval time.Duration
}

// Server holds handler state. Only one child runs at a time.
type Server struct {
	cfg     Config
	store   history.Store
	metrics *report.Metrics
	logger  *logging.Logger

	sem    chan struct{}
	active atomic.Int32
}

// NewServer creates the API server
func NewServer(cfg Config, store history.Store, metrics *report.Metrics, logger *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		logger:  logger.Named("api"),
		sem:     make(chan struct{}, 1),
	}
}

// RouterOptions are the optional middleware layers
type RouterOptions struct {
	Auth    *auth.KeyChecker
	Limiter *ratelimit.Limiter
	Tracing *tracing.Provider
}

// Router builds the route table
func (s *Server) Router(opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	if opts.Tracing != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracing))
	}
	r.Use(middleware.AccessLog(s.logger))
	if opts.Auth != nil && opts.Auth.Enabled() {
		r.Use(opts.Auth.Middleware("/healthz", "/metrics"))
	}

	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if opts.Limiter != nil && opts.Limiter.Enabled() {
		keyFunc := ratelimit.IPKeyFunc
		if opts.Auth != nil && opts.Auth.Enabled() {
			keyFunc = ratelimit.APIKeyFunc
		}
		api.Use(opts.Limiter.Middleware(keyFunc))
	}
	api.HandleFunc("/model/custom", s.HandleCustomModel).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.HandleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.HandleGetRun).Methods(http.MethodGet)

	return r
}

// Busy reports whether a child is running
func (s *Server) Busy() bool {
	return s.active.Load() > 0
}

// HandleHealth reports liveness and whether the store answers
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]interface{}{
		"status": "ok",
		"busy":   s.Busy(),
	}
	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := map[string]string{"message": message}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, status, resp)
}
