package booking

import (
	"context"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

const maxMetadataValue = 500

type Submitter struct {
	provider     Provider
	payments     PaymentConfirmer
	slugTemplate string
	timeZone     string
	logger       observability.Logger
}

// NewSubmitter builds the offer submission flow. A nil payments confirmer
// skips the payment step and marks confirmations accordingly.
func NewSubmitter(provider Provider, payments PaymentConfirmer, slugTemplate, timeZone string, logger observability.Logger) *Submitter {
	return &Submitter{
		provider:     provider,
		payments:     payments,
		slugTemplate: slugTemplate,
		timeZone:     timeZone,
		logger:       logger,
	}
}

func (s *Submitter) Submit(ctx context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	amount, err := req.OfferedAmount.Decimal()
	if err != nil {
		return nil, domain.Invalid("offeredAmount", "must be a non-negative number")
	}

	metadata := map[string]string{
		"serviceDescription": truncate(req.ServiceDescription),
		"offeredAmount":      amount.String(),
	}
	if h := domain.NormalizeHandle(req.TikTokUsername); h != "" {
		metadata["tiktokUsername"] = h
	}
	if h := domain.NormalizeHandle(req.IRLTravelUsername); h != "" {
		metadata["irlTravelUsername"] = h
	}

	res, err := s.provider.CreateBooking(ctx, domain.ReservationInput{
		OrganizerUsername: req.OrganizerUsername,
		EventSlug:         domain.EventSlugForDuration(s.slugTemplate, req.BookedDuration),
		Start:             req.Start(),
		AttendeeName:      req.AttendeeName,
		AttendeeEmail:     req.AttendeeEmail,
		AttendeeTimeZone:  s.timeZone,
		Metadata:          metadata,
	})
	if err != nil {
		return nil, errors.Wrap(err, "booking failed")
	}

	log := observability.FromContext(ctx, s.logger).WithField("booking_id", res.ID)

	status := domain.StatusPaymentSkipped
	if s.payments != nil {
		rec := domain.PaymentRecord{BookingID: res.ID, OfferedAmount: amount, AttendeeEmail: req.AttendeeEmail}
		if err := s.payments.Confirm(ctx, rec); err != nil {
			log.WithError(err).Error("payment confirmation failed after reservation")
			return nil, errors.Mark(errors.Wrapf(err, "booking failed: payment for %s", res.ID), domain.ErrPaymentFailed)
		}
		status = domain.StatusConfirmed
	} else {
		log.Warn("no payment credential configured, skipping payment confirmation")
	}

	conf := &domain.BookingConfirmation{
		BookingID:     res.ID,
		StartTime:     res.Start,
		EndTime:       res.End,
		Title:         req.ServiceDescription,
		OfferedAmount: amount.String(),
		Status:        status,
		ProofHashtag:  domain.ProofHashtag(res.ID),
	}
	if res.MeetingURL != "" {
		meeting := res.MeetingURL
		conf.MeetingURL = &meeting
	}
	conf.Instructions = domain.ProofInstructions(req.TikTokUsername, conf.ProofHashtag)
	return conf, nil
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMetadataValue {
		return s
	}
	return string(r[:maxMetadataValue])
}
