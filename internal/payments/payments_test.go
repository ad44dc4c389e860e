package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedHolds(store Store, now time.Time) *Holds {
	h := NewHolds(store, 72*time.Hour)
	h.now = func() time.Time { return now }
	return h
}

func TestHolds_RecordAndRelease(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := fixedHolds(NewMemoryStore(), now)

	hold, err := h.Record(context.Background(), domain.PaymentRecord{
		BookingID:     "bk_1",
		OfferedAmount: decimal.RequireFromString("42.50"),
		AttendeeEmail: "a@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.HoldHeld, hold.Status)
	assert.Equal(t, now.Add(72*time.Hour), hold.ExpiresAt)

	_, err = h.Record(context.Background(), domain.PaymentRecord{BookingID: "bk_1", AttendeeEmail: "a@example.com"})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	released, err := h.Release(context.Background(), "bk_1")
	require.NoError(t, err)
	assert.Equal(t, domain.HoldReleased, released.Status)
	require.NotNil(t, released.ReleasedAt)

	_, err = h.Release(context.Background(), "bk_1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestHolds_RecordValidation(t *testing.T) {
	h := NewHolds(NewMemoryStore(), time.Hour)

	_, err := h.Record(context.Background(), domain.PaymentRecord{AttendeeEmail: "a@example.com"})
	assert.EqualError(t, err, "missing required field: bookingId")

	_, err = h.Record(context.Background(), domain.PaymentRecord{BookingID: "bk"})
	assert.EqualError(t, err, "missing required field: attendeeEmail")

	_, err = h.Record(context.Background(), domain.PaymentRecord{
		BookingID:     "bk",
		AttendeeEmail: "a@example.com",
		OfferedAmount: decimal.NewFromInt(-1),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestHolds_ExpireDue(t *testing.T) {
	store := NewMemoryStore()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := fixedHolds(store, start)

	for _, id := range []string{"bk_a", "bk_b", "bk_c"} {
		_, err := h.Record(context.Background(), domain.PaymentRecord{
			BookingID:     id,
			OfferedAmount: decimal.NewFromInt(10),
			AttendeeEmail: "a@example.com",
		})
		require.NoError(t, err)
	}
	_, err := h.Release(context.Background(), "bk_b")
	require.NoError(t, err)

	h.now = func() time.Time { return start.Add(time.Hour) }
	expired, err := h.ExpireDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	h.now = func() time.Time { return start.Add(73 * time.Hour) }
	expired, err = h.ExpireDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	for _, hold := range expired {
		assert.Equal(t, domain.HoldExpired, hold.Status)
		assert.NotEqual(t, "bk_b", hold.BookingID)
	}

	_, err = h.Release(context.Background(), "bk_a")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestClient_Confirm(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"details":{"status":"HELD"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", time.Second)
	err := c.Confirm(context.Background(), domain.PaymentRecord{
		BookingID:     "bk_1",
		OfferedAmount: decimal.RequireFromString("12.5"),
		AttendeeEmail: "a@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "bk_1", got["bookingId"])
	assert.Equal(t, 12.5, got["offeredAmount"])
	assert.Equal(t, "a@example.com", got["attendeeEmail"])
}

func TestClient_ConfirmFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"payment already recorded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", time.Second)
	err := c.Confirm(context.Background(), domain.PaymentRecord{BookingID: "bk_1", AttendeeEmail: "a@example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPaymentFailed))
	assert.Contains(t, err.Error(), "payment already recorded")
}

func TestClient_ConfirmUnreadableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>Bad Gateway</html>"))
		case "/short":
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write([]byte(`{"success"`))
		}
	}))
	defer srv.Close()

	rec := domain.PaymentRecord{BookingID: "bk_1", AttendeeEmail: "a@example.com"}

	err := NewClient(srv.URL+"/html", "svc-token", time.Second).Confirm(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPaymentFailed))
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "Bad Gateway")

	err = NewClient(srv.URL+"/short", "svc-token", time.Second).Confirm(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPaymentFailed))
	assert.Contains(t, err.Error(), "read payment confirmation response")
}

type flakyStore struct {
	*MemoryStore
	failures int
}

func (f *flakyStore) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.PaymentHold, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient")
	}
	return f.MemoryStore.ExpiredHolds(ctx, now, limit)
}

func TestHolds_ExpireRetriesTransientErrors(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := fixedHolds(store, start)
	_, err := h.Record(context.Background(), domain.PaymentRecord{BookingID: "bk_r", AttendeeEmail: "a@example.com"})
	require.NoError(t, err)

	h.now = func() time.Time { return start.Add(80 * time.Hour) }
	expired, err := h.expireWithRetry(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "bk_r", expired[0].BookingID)
}
