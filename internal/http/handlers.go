package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/atl5d/pwyc-booking/internal/booking"
	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/atl5d/pwyc-booking/internal/proof"
	"github.com/cockroachdb/errors"
)

type AvailabilityService interface {
	Availability(ctx context.Context, q booking.AvailabilityQuery) ([]domain.AvailabilityOffer, error)
}

type BookingService interface {
	Submit(ctx context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error)
}

type PaymentHolds interface {
	Record(ctx context.Context, rec domain.PaymentRecord) (*domain.PaymentHold, error)
	Release(ctx context.Context, bookingID string) (*domain.PaymentHold, error)
}

// Auditor keeps a trail of bookings and proof submissions. Payment state
// changes reach the trail through the outbox. Failures are logged and never
// fail the request.
type Auditor interface {
	LogBooking(ctx context.Context, c domain.BookingConfirmation) error
	LogProof(ctx context.Context, bookingID, proofURL string, valid, released bool) error
}

type NopAuditor struct{}

func (NopAuditor) LogBooking(context.Context, domain.BookingConfirmation) error { return nil }
func (NopAuditor) LogProof(context.Context, string, string, bool, bool) error   { return nil }

type Handlers struct {
	availability AvailabilityService
	bookings     BookingService
	holds        PaymentHolds
	verifier     proof.Verifier
	audit        Auditor
	logger       observability.Logger
}

func NewHandlers(availability AvailabilityService, bookings BookingService, holds PaymentHolds, verifier proof.Verifier, audit Auditor, logger observability.Logger) *Handlers {
	if audit == nil {
		audit = NopAuditor{}
	}
	return &Handlers{
		availability: availability,
		bookings:     bookings,
		holds:        holds,
		verifier:     verifier,
		audit:        audit,
		logger:       logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type availabilityRequest struct {
	Username  string `json:"username"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func (h *Handlers) GetAvailableTimeBlocks(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	q := booking.AvailabilityQuery{Username: strings.TrimSpace(req.Username)}
	if req.StartDate != "" {
		start, err := parseDate(req.StartDate, false)
		if err != nil {
			writeError(w, r, h.logger, "invalid request", domain.Invalid("startDate", "must be YYYY-MM-DD or RFC 3339"))
			return
		}
		q.StartDate = &start
	}
	if req.EndDate != "" {
		end, err := parseDate(req.EndDate, true)
		if err != nil {
			writeError(w, r, h.logger, "invalid request", domain.Invalid("endDate", "must be YYYY-MM-DD or RFC 3339"))
			return
		}
		q.EndDate = &end
	}

	offers, err := h.availability.Availability(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, "failed to fetch availability", err)
		return
	}
	if offers == nil {
		offers = []domain.AvailabilityOffer{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": offers})
}

// parseDate accepts YYYY-MM-DD or RFC 3339. A date-only end bound covers the
// whole day in UTC.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *Handlers) BookServicePWYC(w http.ResponseWriter, r *http.Request) {
	var req domain.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	confirmation, err := h.bookings.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, "booking failed", err)
		return
	}

	if err := h.audit.LogBooking(r.Context(), *confirmation); err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).Warn("audit booking")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": confirmation})
}

type paymentRequest struct {
	BookingID     string        `json:"bookingId"`
	OfferedAmount domain.Amount `json:"offeredAmount"`
	AttendeeEmail string        `json:"attendeeEmail"`
}

func (h *Handlers) ProcessPWYCPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OfferedAmount == "" {
		writeError(w, r, h.logger, "invalid request", domain.Missing("offeredAmount"))
		return
	}
	amount, err := req.OfferedAmount.Decimal()
	if err != nil {
		writeError(w, r, h.logger, "invalid request", domain.Invalid("offeredAmount", "must be a non-negative number"))
		return
	}

	hold, err := h.holds.Record(r.Context(), domain.PaymentRecord{
		BookingID:     strings.TrimSpace(req.BookingID),
		OfferedAmount: amount,
		AttendeeEmail: strings.TrimSpace(req.AttendeeEmail),
	})
	if err != nil {
		writeError(w, r, h.logger, "payment processing failed", err)
		return
	}

	observability.FromContext(r.Context(), h.logger).WithFields(map[string]interface{}{
		"booking_id": hold.BookingID,
		"payment_id": hold.ID.String(),
	}).Info("payment held")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"details": hold,
	})
}

type proofRequest struct {
	BookingID string `json:"bookingId"`
	ProofURL  string `json:"proofUrl"`
	// TikTokURL is the field name older clients send.
	TikTokURL string `json:"tiktokUrl"`
}

func (h *Handlers) VerifyProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	proofURL := strings.TrimSpace(req.ProofURL)
	if proofURL == "" {
		proofURL = strings.TrimSpace(req.TikTokURL)
	}
	bookingID := strings.TrimSpace(req.BookingID)
	if bookingID == "" {
		writeError(w, r, h.logger, "invalid request", domain.Missing("bookingId"))
		return
	}
	if proofURL == "" {
		writeError(w, r, h.logger, "invalid request", domain.Missing("proofUrl"))
		return
	}

	log := observability.FromContext(r.Context(), h.logger).WithField("booking_id", bookingID)

	valid, err := h.verifier.Verify(r.Context(), bookingID, proofURL)
	if err != nil {
		writeError(w, r, h.logger, "proof verification failed", err)
		return
	}
	if !valid {
		h.auditProof(r.Context(), log, bookingID, proofURL, false, false)
		writeMessage(w, http.StatusBadRequest, "Invalid proof. Tag the original post.")
		return
	}

	released := true
	hold, err := h.holds.Release(r.Context(), bookingID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		released = false
		log.Info("proof accepted but no held payment to release")
	case err != nil:
		writeError(w, r, h.logger, "payment release failed", err)
		return
	default:
		log.WithField("payment_id", hold.ID.String()).Info("payment released")
	}

	h.auditProof(r.Context(), log, bookingID, proofURL, true, released)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"paymentReleased": released,
	})
}

func (h *Handlers) auditProof(ctx context.Context, log observability.Logger, bookingID, proofURL string, valid, released bool) {
	if err := h.audit.LogProof(ctx, bookingID, proofURL, valid, released); err != nil {
		log.WithError(err).Warn("audit proof")
	}
}
