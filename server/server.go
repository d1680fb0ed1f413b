// Package server implements the agency HTTP server: REST API, auth, rate limiting,
// SSE events and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/agency/config"
	"github.com/GoCodeAlone/agency/internal/metrics"
	"github.com/GoCodeAlone/agency/server/api"
	"github.com/GoCodeAlone/agency/server/ws"
)

// Server is the agency HTTP server.
type Server struct {
	cfg      config.Config
	mux      *http.ServeMux
	httpSrv  *http.Server
	logger   *slog.Logger
	handlers *api.Handlers
	hub      *ws.Hub
	metrics  *metrics.Metrics
	limiters *limiters

	routesOnce sync.Once

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string
}

// New creates a Server around h. hub and m may be nil; a nil hub disables /events
// and nil metrics disables /metrics.
func New(cfg config.Config, h *api.Handlers, hub *ws.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if h.Logger == nil {
		h.Logger = logger
	}
	if h.StartAt.IsZero() {
		h.StartAt = time.Now()
	}
	if h.Events == nil && hub != nil {
		h.Events = hub
	}
	rl := cfg.Server.RateLimit
	return &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		logger:   logger,
		handlers: h,
		hub:      hub,
		metrics:  m,
		limiters: newLimiters(rl.RequestsPerMinute, rl.Burst),
	}
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// Public routes (no auth required)
	s.handle(s.mux, "POST /api/auth/login", s.handleLogin)
	s.handle(s.mux, "GET /api/status", s.handlers.StatusHandler())
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		// EventSource can't set headers, so the token may also come as a query param.
		s.handle(s.mux, "GET /events", s.handleSSE)
	}

	// Protected API
	apiMux := http.NewServeMux()
	s.handlers.RegisterRoutes(func(pattern string, fn http.HandlerFunc) {
		s.handle(apiMux, pattern, fn)
	})
	s.handle(apiMux, "GET /api/auth/me", s.handleMe)
	s.handle(apiMux, "POST /api/auth/agents/{id}/token", s.handleAgentToken)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// handle registers fn on mux behind request counting and the per-endpoint limiter.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	limiter := s.limiters.get(pattern)
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.APIRequest(pattern)
		}
		if limiter != nil && !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		fn(w, r)
	}))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if _, err := s.verifyToken(token); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
		return
	}
	s.hub.ServeSSE(w, r)
}
