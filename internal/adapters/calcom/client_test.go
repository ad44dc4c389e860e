package calcom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_EventTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/event-types", r.URL.Path)
		assert.Equal(t, "atl5d", r.URL.Query().Get("username"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, versionEventTypes, r.Header.Get("cal-api-version"))
		w.Write([]byte(`{"status":"success","data":[{"id":1,"slug":"30min","title":"30 Min","lengthInMinutes":30}]}`))
	}))
	defer srv.Close()

	defs, err := New(srv.URL, "key").EventTypes(context.Background(), "atl5d")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, domain.EventDefinition{ID: 1, Slug: "30min", Title: "30 Min", DurationMinutes: 30}, defs[0])
}

func TestClient_Slots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/slots", r.URL.Path)
		assert.Equal(t, "30min", r.URL.Query().Get("eventTypeSlug"))
		assert.Equal(t, versionSlots, r.Header.Get("cal-api-version"))
		w.Write([]byte(`{"status":"success","data":{"2025-07-01":[{"start":"2025-07-01T09:00:00.000-04:00"},{"start":"2025-07-01T09:30:00.000-04:00"}]}}`))
	}))
	defer srv.Close()

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	slots, err := New(srv.URL, "key").Slots(context.Background(), "atl5d", "30min", start, start.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestClient_CreateBooking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, versionBookings, r.Header.Get("cal-api-version"))
		var body createBookingDTO
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "15min", body.EventTypeSlug)
		assert.Equal(t, "creator@example.com", body.Attendee.Email)
		assert.Equal(t, "promo", body.Metadata["serviceDescription"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"success","data":{"id":42,"uid":"bk_abc","title":"promo","start":"2025-07-01T13:00:00Z","end":"2025-07-01T13:15:00Z","meetingUrl":"https://cal.com/video/bk_abc","metadata":{"tiktokUsername":"atl"}}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "key").CreateBooking(context.Background(), domain.ReservationInput{
		OrganizerUsername: "atl5d",
		EventSlug:         "15min",
		Start:             time.Date(2025, 7, 1, 13, 0, 0, 0, time.UTC),
		AttendeeName:      "Creator",
		AttendeeEmail:     "creator@example.com",
		Metadata:          map[string]string{"serviceDescription": "promo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bk_abc", res.ID)
	assert.Equal(t, "https://cal.com/video/bk_abc", res.MeetingURL)
	assert.Equal(t, "atl", res.Metadata["tiktokUsername"])
}

func TestClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":{"code":"BadRequestException","message":"slot no longer available"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "key").CreateBooking(context.Background(), domain.ReservationInput{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "slot no longer available", apiErr.Detail)
}

func TestClient_GetBookingNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":"error","error":{"message":"not found"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "key").GetBooking(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
