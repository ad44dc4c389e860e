// Package booking aggregates organizer availability and submits
// pay-what-you-can offers against the scheduling provider.
package booking

import (
	"context"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
)

// Provider is the scheduling provider as seen by this package.
type Provider interface {
	EventTypes(ctx context.Context, username string) ([]domain.EventDefinition, error)
	Slots(ctx context.Context, username, eventSlug string, start, end time.Time) ([]time.Time, error)
	CreateBooking(ctx context.Context, in domain.ReservationInput) (*domain.Reservation, error)
}

// PaymentConfirmer forwards a payment record once a reservation exists.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, rec domain.PaymentRecord) error
}

type outcome[T any] struct {
	Value T
	Err   error
}

// bestEffort applies fn to every item in order and keeps each result or error
// without stopping at the first failure.
func bestEffort[In, Out any](ctx context.Context, items []In, fn func(context.Context, In) (Out, error)) []outcome[Out] {
	out := make([]outcome[Out], 0, len(items))
	for _, item := range items {
		v, err := fn(ctx, item)
		out = append(out, outcome[Out]{Value: v, Err: err})
	}
	return out
}
