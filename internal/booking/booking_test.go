package booking

import (
	"context"
	"testing"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	defs      []domain.EventDefinition
	defsErr   error
	slots     map[string][]time.Time
	slotErrs  map[string]error
	slotCalls []string
	calls     int

	reservation *domain.Reservation
	bookErr     error
	booked      []domain.ReservationInput
}

func (f *fakeProvider) EventTypes(ctx context.Context, username string) ([]domain.EventDefinition, error) {
	f.calls++
	return f.defs, f.defsErr
}

func (f *fakeProvider) Slots(ctx context.Context, username, slug string, start, end time.Time) ([]time.Time, error) {
	f.calls++
	f.slotCalls = append(f.slotCalls, slug)
	if err := f.slotErrs[slug]; err != nil {
		return nil, err
	}
	return f.slots[slug], nil
}

func (f *fakeProvider) CreateBooking(ctx context.Context, in domain.ReservationInput) (*domain.Reservation, error) {
	f.calls++
	f.booked = append(f.booked, in)
	return f.reservation, f.bookErr
}

type fakeConfirmer struct {
	records []domain.PaymentRecord
	err     error
}

func (f *fakeConfirmer) Confirm(ctx context.Context, rec domain.PaymentRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

var (
	day1 = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

func testLogger() observability.Logger {
	return observability.NewLogger("error")
}

func TestAggregator_MissingUsername(t *testing.T) {
	p := &fakeProvider{}
	_, err := NewAggregator(p, testLogger()).Availability(context.Background(), AvailabilityQuery{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Zero(t, p.calls)
}

func TestAggregator_Scenario(t *testing.T) {
	p := &fakeProvider{
		defs:  []domain.EventDefinition{{Slug: "30min", DurationMinutes: 30}},
		slots: map[string][]time.Time{"30min": {day1, day1.Add(30 * time.Minute)}},
	}
	start := day1
	end := day1.AddDate(0, 0, 14)

	offers, err := NewAggregator(p, testLogger()).Availability(context.Background(), AvailabilityQuery{
		Username: "atl5d", StartDate: &start, EndDate: &end,
	})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, 30, offers[0].Duration)
	require.Len(t, offers[0].Availability, 1)
	assert.Len(t, offers[0].Availability[0].Times, 2)
}

func TestAggregator_FiltersUnsupportedAndEmpty(t *testing.T) {
	p := &fakeProvider{
		defs: []domain.EventDefinition{
			{Slug: "45min", DurationMinutes: 45},
			{Slug: "", DurationMinutes: 15},
			{Slug: "15min", DurationMinutes: 15},
			{Slug: "60min", DurationMinutes: 60},
		},
		slots: map[string][]time.Time{
			"45min": {day1},
			"60min": {day1, day2},
		},
	}

	offers, err := NewAggregator(p, testLogger()).Availability(context.Background(), AvailabilityQuery{Username: "atl5d"})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "60min", offers[0].EventSlug)
	assert.Equal(t, []string{"15min", "60min"}, p.slotCalls)
	for _, o := range offers {
		assert.True(t, o.HasAvailability())
	}
}

func TestAggregator_PartialFailure(t *testing.T) {
	p := &fakeProvider{
		defs: []domain.EventDefinition{
			{Slug: "15min", DurationMinutes: 15},
			{Slug: "30min", DurationMinutes: 30},
		},
		slots:    map[string][]time.Time{"30min": {day1}},
		slotErrs: map[string]error{"15min": errors.New("boom")},
	}

	offers, err := NewAggregator(p, testLogger()).Availability(context.Background(), AvailabilityQuery{Username: "atl5d"})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "30min", offers[0].EventSlug)
}

func TestAggregator_DefinitionsFailure(t *testing.T) {
	p := &fakeProvider{defsErr: errors.Mark(errors.New("down"), domain.ErrUpstream)}
	offers, err := NewAggregator(p, testLogger()).Availability(context.Background(), AvailabilityQuery{Username: "atl5d"})
	assert.Nil(t, offers)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
}

func TestAggregator_DefaultWindow(t *testing.T) {
	var gotStart, gotEnd time.Time
	p := &windowProvider{fakeProvider: fakeProvider{defs: []domain.EventDefinition{{Slug: "15min", DurationMinutes: 15}}}}
	p.onSlots = func(start, end time.Time) { gotStart, gotEnd = start, end }

	a := NewAggregator(p, testLogger())
	a.now = func() time.Time { return day1 }
	_, err := a.Availability(context.Background(), AvailabilityQuery{Username: "atl5d"})
	require.NoError(t, err)
	assert.Equal(t, day1, gotStart)
	assert.Equal(t, day1.AddDate(0, 0, 14), gotEnd)
}

type windowProvider struct {
	fakeProvider
	onSlots func(start, end time.Time)
}

func (w *windowProvider) Slots(ctx context.Context, username, slug string, start, end time.Time) ([]time.Time, error) {
	w.onSlots(start, end)
	return nil, nil
}

func validRequest() domain.BookingRequest {
	return domain.BookingRequest{
		AttendeeName:       "Creator",
		AttendeeEmail:      "creator@example.com",
		StartTime:          "2025-07-01T13:00:00Z",
		OfferedAmount:      "50",
		ServiceDescription: "15-min Livestream Promo",
		BookedDuration:     15,
		OrganizerUsername:  "atl5d",
		TikTokUsername:     "@atlbarber",
	}
}

func reservation() *domain.Reservation {
	return &domain.Reservation{
		ID:         "bk_abc123",
		Start:      time.Date(2025, 7, 1, 13, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 7, 1, 13, 15, 0, 0, time.UTC),
		MeetingURL: "https://cal.com/video/bk_abc123",
	}
}

func TestSubmitter_ValidationShortCircuits(t *testing.T) {
	for _, amount := range []domain.Amount{"-5", "abc"} {
		p := &fakeProvider{reservation: reservation()}
		req := validRequest()
		req.OfferedAmount = amount
		_, err := NewSubmitter(p, nil, "%dmin", "UTC", testLogger()).Submit(context.Background(), req)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "amount %s", amount)
		assert.Zero(t, p.calls)
	}

	p := &fakeProvider{reservation: reservation()}
	req := validRequest()
	req.AttendeeEmail = ""
	_, err := NewSubmitter(p, nil, "%dmin", "UTC", testLogger()).Submit(context.Background(), req)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "attendeeEmail", verr.Field)
	assert.Zero(t, p.calls)
}

func TestSubmitter_PaymentSkipped(t *testing.T) {
	p := &fakeProvider{reservation: reservation()}
	conf, err := NewSubmitter(p, nil, "%dmin", "UTC", testLogger()).Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentSkipped, conf.Status)
	require.Len(t, p.booked, 1)
	assert.Equal(t, "15min", p.booked[0].EventSlug)
	assert.Equal(t, "atlbarber", p.booked[0].Metadata["tiktokUsername"])
	assert.Equal(t, "15-min Livestream Promo", conf.Title)
	assert.Equal(t, "50", conf.OfferedAmount)
	require.NotNil(t, conf.MeetingURL)
	assert.Contains(t, conf.Instructions, "@atlbarber")
}

func TestSubmitter_PaymentConfirmed(t *testing.T) {
	p := &fakeProvider{reservation: reservation()}
	pay := &fakeConfirmer{}
	conf, err := NewSubmitter(p, pay, "%dmin", "UTC", testLogger()).Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, conf.Status)
	require.Len(t, pay.records, 1)
	assert.Equal(t, "bk_abc123", pay.records[0].BookingID)
	assert.Equal(t, "50", pay.records[0].OfferedAmount.String())
	assert.Equal(t, "creator@example.com", pay.records[0].AttendeeEmail)
}

func TestSubmitter_Failures(t *testing.T) {
	p := &fakeProvider{bookErr: errors.Mark(errors.New("slot taken"), domain.ErrUpstream)}
	pay := &fakeConfirmer{}
	_, err := NewSubmitter(p, pay, "%dmin", "UTC", testLogger()).Submit(context.Background(), validRequest())
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Empty(t, pay.records)

	p = &fakeProvider{reservation: reservation()}
	pay = &fakeConfirmer{err: errors.New("facilitator down")}
	_, err = NewSubmitter(p, pay, "%dmin", "UTC", testLogger()).Submit(context.Background(), validRequest())
	assert.True(t, errors.Is(err, domain.ErrPaymentFailed))
	assert.Len(t, pay.records, 1)
}
