package http

import (
	"bytes"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/atl5d/pwyc-booking/internal/idempotency"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/atl5d/pwyc-booking/internal/rateLimit"
	"github.com/atl5d/pwyc-booking/internal/x402"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const idempotencyHeader = "Idempotency-Key"

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithFields(map[string]interface{}{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ctx := observability.WithLogger(r.Context(), entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Requests without the header pass through untouched.
// Behind a payment gate keys are scoped to the verified payer, and a replay
// waives settlement of the new payment.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 {
				writeMessage(w, http.StatusBadRequest, "invalid Idempotency-Key")
				return
			}
			key = r.URL.Path + ":" + key
			if payer := x402.PayerFromContext(r.Context()); payer != "" {
				key = payer + ":" + key
			}
			log := observability.FromContext(r.Context(), logger)

			existing, err := idemp.Get(r.Context(), key)
			if err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if existing != nil {
				for k, v := range existing.Header {
					w.Header()[k] = v
				}
				w.Header().Set("Idempotent-Replayed", "true")
				x402.Waive(w)
				w.WriteHeader(existing.Status)
				_, _ = w.Write(existing.Result)
				return
			}

			locked, err := idemp.Begin(r.Context(), key)
			if err != nil {
				log.WithError(err).Warn("idempotency lock failed")
				next.ServeHTTP(w, r)
				return
			}
			if !locked {
				writeMessage(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
				return
			}
			defer func() {
				if err := idemp.End(r.Context(), key); err != nil {
					log.WithError(err).Warn("idempotency unlock failed")
				}
			}()

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// Server errors and payment challenges are retryable; everything else is final.
			if status >= 500 || status == http.StatusPaymentRequired {
				return
			}
			header := http.Header{}
			if v := ww.Header().Get("Content-Type"); v != "" {
				header.Set("Content-Type", v)
			}
			if err := idemp.Set(r.Context(), key, idempotency.Response{Status: status, Header: header, Result: buf.Bytes()}); err != nil {
				log.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func RateLimitMiddleware(rl rateLimit.Limiter, perMinute int, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !rl.Allow(r.Context(), "ip:"+ip, perMinute, time.Minute) {
				observability.RateLimitExceeded.Inc()
				observability.FromContext(r.Context(), logger).WithField("ip", ip).Warn("rate limit exceeded")
				writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.request_id", middleware.GetReqID(r.Context())),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
