// Package httpapi assembles the chi router and HTTP server for the
// dispatch service: the legacy /jobs, /engines, /assign_job/ surface the
// specification requires, plus an /api/v1 mirror for the JSON-only
// clients this module's domain stack adds. Grounded on the reference
// APIServer/ServerConfig wrapper, generalized from a single authenticated
// /api mount to two equivalent route trees sharing one handler group.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/segin/distconv/internal/httpapi/handler"
	"github.com/segin/distconv/internal/httpapi/middleware"
)

// Default configuration values for the HTTP server.
const (
	DefaultPort              = "8080"
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultMaxBodyBytes      = 1 << 20
	DefaultRateLimitPerSec   = 200
	DefaultRateLimitBurst    = 400
)

// ServerConfig holds configuration for the HTTP server and router.
type ServerConfig struct {
	Host              string
	Port              string
	APIKey            string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	RateLimitPerSec   float64
	RateLimitBurst    int
}

func (cfg *ServerConfig) applyDefaults() {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = DefaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}
}

// rateLimit is a process-wide token bucket shared across every request,
// guarding the reaper and repository from a runaway polling client.
func rateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(perSec), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"too many requests"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter builds the full chi.Mux: global middleware, health check, the
// legacy job/engine/assignment routes, and an authenticated /api/v1
// mirror exposing the same handlers plus the admin stats endpoint.
func NewRouter(jobs *handler.Jobs, engines *handler.Engines, admin *handler.Admin, cfg ServerConfig) *chi.Mux {
	cfg.applyDefaults()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(rateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.ErrorContext(r.Context(), "failed to write health response", "error", err)
		}
	})

	auth := middleware.NewAuth(cfg.APIKey)

	mountRoutes := func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobs.Submit)
			r.Get("/", jobs.List)
			r.Get("/{id}", jobs.Get)
			r.Patch("/{id}", jobs.Patch)
			r.Delete("/{id}", jobs.Cancel)
			r.Post("/{id}/complete", jobs.Complete)
			r.Post("/{id}/fail", jobs.Fail)
			r.Post("/{id}/retry", jobs.Retry)
			r.Post("/{id}/progress", jobs.Progress)
		})

		r.Route("/engines", func(r chi.Router) {
			r.Get("/", engines.List)
			r.Post("/heartbeat", engines.Heartbeat)
			r.Post("/benchmark_result", engines.BenchmarkResult)
			r.Delete("/{id}", engines.Deregister)
		})

		r.Post("/assign_job/", jobs.Assign)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Validate)
		mountRoutes(r)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Validate)
		mountRoutes(r)
		r.Get("/stats", admin.Stats)
	})

	return r
}

// APIServer wraps the HTTP server with the router and all HTTP-level
// concerns, mirroring the reference server.go wrapper.
type APIServer struct {
	server *http.Server
}

// NewAPIServer builds an APIServer from an already-assembled handler and config.
func NewAPIServer(router http.Handler, cfg ServerConfig) *APIServer {
	cfg.applyDefaults()
	return &APIServer{
		server: &http.Server{
			Addr:              cfg.Host + ":" + cfg.Port,
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

// Start runs the server until it errors out (including on Shutdown,
// which surfaces http.ErrServerClosed).
func (s *APIServer) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains outstanding requests within ctx's deadline.
func (s *APIServer) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests driving it directly
// with httptest without binding a real port.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}
