// Package proof decides whether a social post proves a booked service was
// delivered.
package proof

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

type Verifier interface {
	Verify(ctx context.Context, bookingID, proofURL string) (bool, error)
}

// BookingLookup reads a booking back from the scheduling provider.
type BookingLookup interface {
	GetBooking(ctx context.Context, bookingID string) (*domain.Reservation, error)
}

// AcceptAll treats every submitted post as valid proof.
type AcceptAll struct{}

func (AcceptAll) Verify(ctx context.Context, bookingID, proofURL string) (bool, error) {
	return true, nil
}

const defaultMaxPageBytes = 2 << 20

// ContentVerifier fetches the post and checks it carries the booking's proof
// hashtag and, when the booking has one, the client's handle.
type ContentVerifier struct {
	bookings     BookingLookup
	hc           *http.Client
	allowedHosts []string
	maxBytes     int64
	logger       observability.Logger
}

func NewContentVerifier(bookings BookingLookup, allowedHosts []string, logger observability.Logger) *ContentVerifier {
	return &ContentVerifier{
		bookings:     bookings,
		hc:           &http.Client{Timeout: 15 * time.Second},
		allowedHosts: allowedHosts,
		maxBytes:     defaultMaxPageBytes,
		logger:       logger,
	}
}

func (v *ContentVerifier) Verify(ctx context.Context, bookingID, proofURL string) (bool, error) {
	log := observability.FromContext(ctx, v.logger).WithField("booking_id", bookingID)

	u, err := url.Parse(proofURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		log.Debug("proof url is not an http url")
		return false, nil
	}
	if !v.hostAllowed(u.Hostname()) {
		log.WithField("host", u.Hostname()).Debug("proof host not allowed")
		return false, nil
	}

	booking, err := v.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return false, errors.Wrap(err, "load booking for proof")
	}

	page, err := v.fetch(ctx, u.String())
	if err != nil {
		return false, err
	}
	if page == "" {
		return false, nil
	}
	content := strings.ToLower(page)

	if !strings.Contains(content, strings.ToLower(domain.ProofHashtag(booking.ID))) {
		log.Info("proof post is missing the booking hashtag")
		return false, nil
	}
	if handle := domain.NormalizeHandle(booking.Metadata["tiktokUsername"]); handle != "" {
		if !strings.Contains(content, "@"+strings.ToLower(handle)) {
			log.Info("proof post does not tag the client")
			return false, nil
		}
	}
	return true, nil
}

func (v *ContentVerifier) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range v.allowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// fetch returns the page body, or "" when the post does not exist.
func (v *ContentVerifier) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", errors.Wrap(err, "build proof request")
	}
	req.Header.Set("User-Agent", "pwyc-booking-proof/1.0")
	req.Header.Set("Accept", "text/html,application/json")

	resp, err := v.hc.Do(req)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "fetch proof post"), domain.ErrUpstream)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", nil
	case resp.StatusCode >= 300:
		return "", errors.Mark(errors.Newf("proof post responded %d", resp.StatusCode), domain.ErrUpstream)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, v.maxBytes))
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "read proof post"), domain.ErrUpstream)
	}
	return string(body), nil
}
