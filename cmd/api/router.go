package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/viralgo/credits/internal/config"
	"github.com/viralgo/credits/internal/handler"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/middleware"
)

// routerDeps collects what setupRouter mounts. billing and webhook are nil
// when no billing provider is configured, usage without Postgres, and
// limiter without Redis.
type routerDeps struct {
	cfg      *config.Config
	logger   *slog.Logger
	root     *handler.Handler
	health   *handler.HealthHandler
	credits  *handler.CreditsHandler
	usage    *handler.UsageHandler
	billing  *handler.BillingHandler
	webhook  *handler.WebhookHandler
	metrics  http.Handler
	verifier middleware.TokenVerifier
	limiter  middleware.RateLimiter
	recorder metrics.Recorder
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	cfg := d.cfg
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	corsCfg.AllowCredentials = true

	// Health endpoints (no auth required)
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Method(http.MethodGet, "/metrics", d.metrics)

	// Root info endpoint
	r.Get("/", d.root.Hello)

	// Rate limit middleware configuration
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        d.logger,
		Limiter:       d.limiter,
		Metrics:       d.recorder,
		UserEnabled:   cfg.RateLimitEnabled,
		UserPerMinute: cfg.RateLimitUserPerMin,
		UserBurst:     cfg.RateLimitUserBurst,
		IPEnabled:     cfg.RateLimitEnabled,
		IPRPS:         cfg.RateLimitWebhookRPS,
		IPBurst:       cfg.RateLimitWebhookBurst,
	}

	// API v1 routes (require authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(corsCfg))
		r.Use(middleware.Auth(middleware.AuthConfig{Logger: d.logger, Verifier: d.verifier}))
		r.Use(middleware.RateLimitUser(rateLimitCfg))

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", d.credits.Get)
			r.Post("/", d.credits.Initialize)
			r.Put("/", d.credits.Debit)
			if d.usage != nil {
				r.Get("/usage", d.usage.History)
			}
			if cfg.IsDevelopment() {
				r.Patch("/", d.credits.Grant)
			}
		})

		if d.billing != nil {
			r.Route("/billing", func(r chi.Router) {
				r.Post("/checkout", d.billing.Checkout)
				r.Post("/portal", d.billing.Portal)
				r.Get("/events", d.billing.Events)
			})
		}
	})

	// Provider webhooks with IP-based rate limiting (signature-authenticated)
	if d.webhook != nil {
		r.With(middleware.RateLimitIP(rateLimitCfg)).Post("/webhooks/billing", d.webhook.Receive)
	}

	// 404 and 405 handlers
	r.NotFound(d.root.NotFound)
	r.MethodNotAllowed(d.root.MethodNotAllowed)

	return r
}
