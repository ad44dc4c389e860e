package http

import (
	"net/http"

	"github.com/atl5d/pwyc-booking/internal/idempotency"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/atl5d/pwyc-booking/internal/rateLimit"
	"github.com/atl5d/pwyc-booking/internal/x402"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Logger             observability.Logger
	Limiter            rateLimit.Limiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
	Gate               *x402.Gate
	// ServiceToken lets the server's own payment confirmation call bypass the gate.
	ServiceToken string
	CORSOrigins  []string
}

func SetupRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", x402.HeaderPayment, idempotencyHeader},
		ExposedHeaders: []string{x402.HeaderPaymentResponse},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimitPerMinute, cfg.Logger))

		r.Post("/api/get-available-time-blocks", h.GetAvailableTimeBlocks)

		r.With(
			cfg.Gate.Require("Pay-what-you-can booking deposit"),
			IdempotencyMiddleware(cfg.Idempotency, cfg.Logger),
		).Post("/api/book-service-pwyc", h.BookServicePWYC)

		r.With(
			cfg.Gate.RequireOrServiceToken(cfg.ServiceToken, "Record a pay-what-you-can payment"),
		).Post("/api/process-pwyc-payment", h.ProcessPWYCPayment)

		r.Post("/api/verify-proof", h.VerifyProof)
		r.Post("/verify-tiktok", h.VerifyProof)
	})

	return r
}
