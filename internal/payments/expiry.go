package payments

import (
	"context"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

const (
	expiryBatch      = 100
	expiryMaxRetries = 3
)

// RunExpiry expires overdue holds every interval until ctx is done.
func (h *Holds) RunExpiry(ctx context.Context, interval time.Duration, logger observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := h.expireWithRetry(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.WithError(err).Error("failed to expire holds after retries")
				}
				continue
			}
			for _, hold := range expired {
				logger.WithFields(map[string]interface{}{
					"booking_id": hold.BookingID,
					"payment_id": hold.ID.String(),
				}).Info("payment hold expired")
			}
		}
	}
}

func (h *Holds) expireWithRetry(ctx context.Context) ([]domain.PaymentHold, error) {
	var (
		all []domain.PaymentHold
		err error
	)
	for i := 0; i < expiryMaxRetries; i++ {
		var expired []domain.PaymentHold
		expired, err = h.ExpireDue(ctx, expiryBatch)
		all = append(all, expired...)
		if err == nil {
			return all, nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return all, errors.Wrapf(err, "failed after %d retries", expiryMaxRetries)
}
