package payments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// MemoryStore keeps holds in process memory. It backs local runs without a
// database; holds are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	holds map[string]domain.PaymentHold
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[string]domain.PaymentHold)}
}

func (m *MemoryStore) CreateHold(ctx context.Context, hold domain.PaymentHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holds[hold.BookingID]; ok {
		return errors.Wrapf(domain.ErrConflict, "payment already recorded for booking %s", hold.BookingID)
	}
	m.holds[hold.BookingID] = hold
	return nil
}

func (m *MemoryStore) ReleaseHold(ctx context.Context, bookingID string, at time.Time) (*domain.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hold, ok := m.holds[bookingID]
	if !ok || hold.Status != domain.HoldHeld {
		return nil, errors.Wrapf(domain.ErrNotFound, "no held payment for booking %s", bookingID)
	}
	hold.Status = domain.HoldReleased
	hold.ReleasedAt = &at
	m.holds[bookingID] = hold
	return &hold, nil
}

func (m *MemoryStore) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.PaymentHold
	for _, hold := range m.holds {
		if hold.Status == domain.HoldHeld && !hold.ExpiresAt.After(now) {
			due = append(due, hold)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) ExpireHold(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for bookingID, hold := range m.holds {
		if hold.ID != id {
			continue
		}
		if hold.Status != domain.HoldHeld {
			break
		}
		hold.Status = domain.HoldExpired
		m.holds[bookingID] = hold
		return nil
	}
	return errors.Wrapf(domain.ErrNotFound, "no held payment %s", id)
}
