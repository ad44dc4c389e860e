package booking

import (
	"context"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

const defaultWindow = 14 * 24 * time.Hour

type AvailabilityQuery struct {
	Username  string
	StartDate *time.Time
	EndDate   *time.Time
}

type Aggregator struct {
	provider Provider
	logger   observability.Logger
	now      func() time.Time
}

func NewAggregator(provider Provider, logger observability.Logger) *Aggregator {
	return &Aggregator{provider: provider, logger: logger, now: time.Now}
}

// Availability lists every supported event definition of the organizer that has
// at least one open slot in the requested range.
func (a *Aggregator) Availability(ctx context.Context, q AvailabilityQuery) ([]domain.AvailabilityOffer, error) {
	if q.Username == "" {
		return nil, domain.Missing("username")
	}
	now := a.now()
	start, end := now, now.Add(defaultWindow)
	if q.StartDate != nil {
		start = *q.StartDate
	}
	if q.EndDate != nil {
		end = *q.EndDate
	}
	if end.Before(start) {
		return nil, domain.Invalid("endDate", "must not be before startDate")
	}

	defs, err := a.provider.EventTypes(ctx, q.Username)
	if err != nil {
		return nil, errors.Wrap(err, "fetch event definitions")
	}

	supported := make([]domain.EventDefinition, 0, len(defs))
	for _, d := range defs {
		if d.Slug == "" || !domain.IsSupportedDuration(d.DurationMinutes) {
			continue
		}
		supported = append(supported, d)
	}

	log := observability.FromContext(ctx, a.logger)
	results := bestEffort(ctx, supported, func(ctx context.Context, d domain.EventDefinition) (domain.AvailabilityOffer, error) {
		starts, err := a.provider.Slots(ctx, q.Username, d.Slug, start, end)
		if err != nil {
			return domain.AvailabilityOffer{}, err
		}
		return domain.AvailabilityOffer{
			Duration:     d.DurationMinutes,
			EventSlug:    d.Slug,
			Availability: domain.GroupByDay(starts),
		}, nil
	})

	offers := make([]domain.AvailabilityOffer, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			observability.SlotFetchFailures.Inc()
			log.WithFields(map[string]interface{}{
				"event_slug": supported[i].Slug,
				"username":   q.Username,
			}).WithError(r.Err).Warn("slot fetch failed, skipping event definition")
			continue
		}
		if !r.Value.HasAvailability() {
			continue
		}
		offers = append(offers, r.Value)
	}
	return offers, nil
}
