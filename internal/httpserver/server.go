// Package httpserver is the thin chi-based HTTP shell exposing the x402
// verify/settle/supported/health contract plus an optionally API-key
// protected Prometheus /metrics endpoint.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/apikey"
	"github.com/x402fac/facilitator/internal/auditlog"
	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/ratelimit"
	"github.com/x402fac/facilitator/internal/versioning"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies into an http.Server.
type Server struct {
	handlers
	httpServer *http.Server
	inFlight   sync.WaitGroup
}

type handlers struct {
	cfg      *config.Config
	core     *facilitator.Facilitator
	audit    auditlog.Log
	breaker  *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	inFlight *sync.WaitGroup
}

// New builds the HTTP server with a configured router.
func New(cfg *config.Config, core *facilitator.Facilitator, audit auditlog.Log, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	s := &Server{}
	s.handlers = handlers{
		cfg:      cfg,
		core:     core,
		audit:    audit,
		breaker:  breaker,
		metrics:  metricsCollector,
		logger:   appLogger,
		inFlight: &s.inFlight,
	}

	router := chi.NewRouter()
	ConfigureRouter(router, s.handlers)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		Handler:      router,
	}
	return s
}

// ConfigureRouter attaches the facilitator's routes to an existing router.
func ConfigureRouter(router chi.Router, h handlers) {
	if router == nil {
		return
	}

	if len(h.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   h.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(versioning.Negotiation)

	apiKeyCfg := apikey.Config{
		Enabled: h.cfg.APIKey.Enabled,
		APIKeys: make(map[string]apikey.Tier),
	}
	for key, tierStr := range h.cfg.APIKey.Keys {
		apiKeyCfg.APIKeys[key] = apikey.Tier(tierStr)
	}
	router.Use(apikey.Middleware(apiKeyCfg))

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:   h.cfg.RateLimit.GlobalEnabled,
		GlobalLimit:     h.cfg.RateLimit.GlobalLimit,
		GlobalWindow:    h.cfg.RateLimit.GlobalWindow.Duration,
		PerPayerEnabled: h.cfg.RateLimit.PerPayerEnabled,
		PerPayerLimit:   h.cfg.RateLimit.PerPayerLimit,
		PerPayerWindow:  h.cfg.RateLimit.PerPayerWindow.Duration,
		PerIPEnabled:    h.cfg.RateLimit.PerIPEnabled,
		PerIPLimit:      h.cfg.RateLimit.PerIPLimit,
		PerIPWindow:     h.cfg.RateLimit.PerIPWindow.Duration,
		Metrics:         h.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.PayerLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := h.cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		r.Get(prefix+"/supported", h.supported)
		r.With(adminMetricsAuth(h.cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/verify", h.verify)
		r.Post(prefix+"/settle", h.settle)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight settlements
// to drain before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
