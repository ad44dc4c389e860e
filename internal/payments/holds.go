// Package payments records offered amounts as held payments and releases them
// once proof of service is verified.
package payments

import (
	"context"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Store persists payment holds. Implementations write the matching outbox
// event in the same transaction as the state change.
type Store interface {
	CreateHold(ctx context.Context, hold domain.PaymentHold) error
	ReleaseHold(ctx context.Context, bookingID string, at time.Time) (*domain.PaymentHold, error)
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.PaymentHold, error)
	ExpireHold(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Holds struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

func NewHolds(store Store, window time.Duration) *Holds {
	return &Holds{store: store, window: window, now: time.Now}
}

// Record holds the offered amount for a booking until the proof window ends.
func (h *Holds) Record(ctx context.Context, rec domain.PaymentRecord) (*domain.PaymentHold, error) {
	if rec.BookingID == "" {
		return nil, domain.Missing("bookingId")
	}
	if rec.AttendeeEmail == "" {
		return nil, domain.Missing("attendeeEmail")
	}
	if rec.OfferedAmount.IsNegative() {
		return nil, domain.Invalid("offeredAmount", "must be a non-negative number")
	}

	now := h.now().UTC()
	hold := domain.PaymentHold{
		ID:            uuid.New(),
		BookingID:     rec.BookingID,
		Amount:        rec.OfferedAmount,
		AttendeeEmail: rec.AttendeeEmail,
		Status:        domain.HoldHeld,
		CreatedAt:     now,
		ExpiresAt:     now.Add(h.window),
	}
	if err := h.store.CreateHold(ctx, hold); err != nil {
		return nil, err
	}
	return &hold, nil
}

// Release marks the booking's held payment as released. It returns
// domain.ErrNotFound when nothing is held for the booking.
func (h *Holds) Release(ctx context.Context, bookingID string) (*domain.PaymentHold, error) {
	return h.store.ReleaseHold(ctx, bookingID, h.now().UTC())
}

// ExpireDue moves every held payment whose proof window elapsed to EXPIRED.
// Holds released concurrently are skipped. It returns the expired holds.
func (h *Holds) ExpireDue(ctx context.Context, limit int) ([]domain.PaymentHold, error) {
	now := h.now().UTC()
	due, err := h.store.ExpiredHolds(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	expired := make([]domain.PaymentHold, 0, len(due))
	for _, hold := range due {
		if err := h.store.ExpireHold(ctx, hold.ID, now); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return expired, errors.Wrapf(err, "expire hold %s", hold.ID)
		}
		hold.Status = domain.HoldExpired
		expired = append(expired, hold)
	}
	return expired, nil
}
