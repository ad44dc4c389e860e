package x402

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

type Options struct {
	PayTo             string
	Network           string
	Asset             string
	Price             string
	PublicURL         string
	MaxTimeoutSeconds int
	// ClaimTTL bounds how long a spent payment header is remembered.
	ClaimTTL time.Duration
}

type payerKey struct{}

// PayerFromContext returns the verified payer of the request's payment, if any.
func PayerFromContext(ctx context.Context) string {
	payer, _ := ctx.Value(payerKey{}).(string)
	return payer
}

// Gate is an HTTP middleware factory enforcing x402 payments.
type Gate struct {
	opts        Options
	amount      string
	facilitator Facilitator
	store       SettlementStore
	logger      observability.Logger
}

// NewGate builds a gate. With an empty PayTo the gate lets every request
// through and logs a warning once.
func NewGate(opts Options, facilitator Facilitator, store SettlementStore, logger observability.Logger) (*Gate, error) {
	if opts.MaxTimeoutSeconds == 0 {
		opts.MaxTimeoutSeconds = 60
	}
	if opts.ClaimTTL == 0 {
		opts.ClaimTTL = 24 * time.Hour
	}
	g := &Gate{opts: opts, facilitator: facilitator, store: store, logger: logger}
	if opts.PayTo == "" {
		logger.Warn("x402 payment gate disabled: no pay-to address configured")
		return g, nil
	}
	amount, err := AtomicAmount(opts.Price, USDCDecimals)
	if err != nil {
		return nil, errors.Wrap(err, "x402 price")
	}
	g.amount = amount
	return g, nil
}

func (g *Gate) Enabled() bool {
	return g.opts.PayTo != ""
}

// Requirements describes what a client must pay for the resource at path.
func (g *Gate) Requirements(path, description string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           g.opts.Network,
		MaxAmountRequired: g.amount,
		Resource:          g.opts.PublicURL + path,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             g.opts.PayTo,
		MaxTimeoutSeconds: g.opts.MaxTimeoutSeconds,
		Asset:             g.opts.Asset,
		Extra:             map[string]string{"name": "USDC", "version": "2"},
	}
}

// Require returns middleware that only runs next once a payment has been
// verified, and settles it after next responds with a 2xx status.
func (g *Gate) Require(description string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !g.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next, description)
		})
	}
}

// RequireOrServiceToken is Require, except requests carrying the server's own
// bearer token skip payment. When the gate is disabled the token is mandatory.
func (g *Gate) RequireOrServiceToken(token, description string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		gated := g.Require(description)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && bearerMatches(r, token) {
				observability.PaymentGateOutcomes.WithLabelValues("service_token").Inc()
				next.ServeHTTP(w, r)
				return
			}
			if !g.Enabled() && token != "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}

func bearerMatches(r *http.Request, token string) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	got := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler, description string) {
	ctx := r.Context()
	log := observability.FromContext(ctx, g.logger)
	req := g.Requirements(r.URL.Path, description)

	header := r.Header.Get(HeaderPayment)
	if header == "" {
		g.reject(w, "missing", "X-PAYMENT header is required", req)
		return
	}
	payload, err := DecodePayment(header)
	if err != nil {
		log.WithError(err).Debug("malformed payment header")
		g.reject(w, "malformed", "invalid payment header", req)
		return
	}
	if payload.X402Version != Version {
		g.reject(w, "malformed", "unsupported x402 version", req)
		return
	}
	if payload.Scheme != req.Scheme || payload.Network != req.Network {
		g.reject(w, "mismatch", "payment scheme or network does not match requirements", req)
		return
	}

	key, err := PaymentKey(*payload)
	if err != nil {
		log.WithError(err).Debug("unidentifiable payment payload")
		g.reject(w, "malformed", "invalid payment header", req)
		return
	}
	claimed, err := g.store.Claim(ctx, key, g.opts.ClaimTTL)
	if err != nil {
		log.WithError(err).Error("claim payment")
		observability.PaymentGateOutcomes.WithLabelValues("store_error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "payment verification unavailable"})
		return
	}
	if !claimed {
		g.reject(w, "replay", "payment already used", req)
		return
	}
	settled := false
	defer func() {
		if settled {
			return
		}
		// The claim must be freed even when the client has gone away.
		if err := g.store.Release(context.WithoutCancel(ctx), key); err != nil {
			log.WithError(err).Warn("release payment claim")
		}
	}()

	vr, err := g.facilitator.Verify(ctx, *payload, req)
	if err != nil {
		log.WithError(err).Error("verify payment")
		g.reject(w, "verify_error", "payment verification failed", req)
		return
	}
	if !vr.IsValid {
		reason := vr.InvalidReason
		if reason == "" {
			reason = "payment is invalid"
		}
		g.reject(w, "invalid", reason, req)
		return
	}

	rec := newRecorder()
	next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, payerKey{}, strings.ToLower(vr.Payer))))
	if !rec.ok() {
		observability.PaymentGateOutcomes.WithLabelValues("handler_error").Inc()
		rec.flushTo(w)
		return
	}
	if rec.waived {
		observability.PaymentGateOutcomes.WithLabelValues("waived").Inc()
		rec.flushTo(w)
		return
	}

	sr, err := g.facilitator.Settle(ctx, *payload, req)
	if err != nil || !sr.Success {
		if err == nil {
			err = errors.Newf("settlement rejected: %s", sr.ErrorReason)
		}
		log.WithError(err).Error("settle payment")
		g.reject(w, "settle_error", "payment settlement failed", req)
		return
	}
	settled = true

	encoded, err := EncodeSettle(*sr)
	if err != nil {
		log.WithError(err).Warn("encode settle response")
	} else {
		rec.Header().Set(HeaderPaymentResponse, encoded)
	}
	observability.PaymentGateOutcomes.WithLabelValues("settled").Inc()
	log.WithFields(map[string]interface{}{
		"payer":       sr.Payer,
		"transaction": sr.Transaction,
	}).Info("payment settled")
	rec.flushTo(w)
}

func (g *Gate) reject(w http.ResponseWriter, outcome, reason string, req PaymentRequirements) {
	observability.PaymentGateOutcomes.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusPaymentRequired, PaymentRequiredResponse{
		X402Version: Version,
		Error:       reason,
		Accepts:     []PaymentRequirements{req},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
