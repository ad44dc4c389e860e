package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	SerializationFailureCode = "40001"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_holds (
	id UUID PRIMARY KEY,
	booking_id STRING NOT NULL UNIQUE,
	amount DECIMAL(18, 6) NOT NULL,
	attendee_email STRING NOT NULL,
	status STRING NOT NULL CHECK (status IN ('HELD', 'RELEASED', 'EXPIRED')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	released_at TIMESTAMPTZ,
	INDEX payment_holds_status_expires_idx (status, expires_at)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status STRING NOT NULL DEFAULT 'NEW',
	dedupe_key STRING NOT NULL,
	INDEX outbox_status_created_idx (status, created_at)
);
`

// Repository stores payment holds in CockroachDB. Every state change writes
// an outbox row in the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "ensure schema")
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return errors.Mark(err, domain.ErrSerializationFailure)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return errors.Mark(err, domain.ErrSerializationFailure)
		}
		return err
	}
	return nil
}

type holdEvent struct {
	PaymentID     uuid.UUID         `json:"paymentId"`
	BookingID     string            `json:"bookingId"`
	OfferedAmount string            `json:"offeredAmount"`
	AttendeeEmail string            `json:"attendeeEmail"`
	Status        domain.HoldStatus `json:"status"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

func (r *Repository) insertHoldEvent(ctx context.Context, tx pgx.Tx, eventType string, hold domain.PaymentHold, at time.Time) error {
	payload, err := json.Marshal(holdEvent{
		PaymentID:     hold.ID,
		BookingID:     hold.BookingID,
		OfferedAmount: hold.Amount.String(),
		AttendeeEmail: hold.AttendeeEmail,
		Status:        hold.Status,
		OccurredAt:    at,
	})
	if err != nil {
		return errors.Wrap(err, "encode outbox payload")
	}
	return r.InsertOutbox(ctx, tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "payment",
		AggregateID:   hold.ID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     eventType + ":" + hold.ID.String(),
	})
}

func (r *Repository) CreateHold(ctx context.Context, hold domain.PaymentHold) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO payment_holds (id, booking_id, amount, attendee_email, status, created_at, expires_at)
			VALUES ($1, $2, $3::DECIMAL, $4, $5, $6, $7)
			ON CONFLICT (booking_id) DO NOTHING
		`, hold.ID, hold.BookingID, hold.Amount.String(), hold.AttendeeEmail, string(hold.Status), hold.CreatedAt, hold.ExpiresAt)
		if err != nil {
			return errors.Wrap(err, "insert payment hold")
		}
		if result.RowsAffected() == 0 {
			return errors.Wrapf(domain.ErrConflict, "payment already recorded for booking %s", hold.BookingID)
		}
		return r.insertHoldEvent(ctx, tx, "payment.held", hold, hold.CreatedAt)
	})
}

const holdColumns = `id, booking_id, amount::STRING, attendee_email, status, created_at, expires_at, released_at`

func scanHold(row pgx.Row) (*domain.PaymentHold, error) {
	var (
		hold   domain.PaymentHold
		amount string
		status string
	)
	if err := row.Scan(&hold.ID, &hold.BookingID, &amount, &hold.AttendeeEmail, &status, &hold.CreatedAt, &hold.ExpiresAt, &hold.ReleasedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "parse amount of hold %s", hold.ID)
	}
	hold.Amount = d
	hold.Status = domain.HoldStatus(status)
	return &hold, nil
}

func (r *Repository) ReleaseHold(ctx context.Context, bookingID string, at time.Time) (*domain.PaymentHold, error) {
	var released *domain.PaymentHold
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		hold, err := scanHold(tx.QueryRow(ctx, `
			UPDATE payment_holds SET status = 'RELEASED', released_at = $2
			WHERE booking_id = $1 AND status = 'HELD'
			RETURNING `+holdColumns, bookingID, at))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(domain.ErrNotFound, "no held payment for booking %s", bookingID)
		}
		if err != nil {
			return errors.Wrap(err, "release payment hold")
		}
		released = hold
		return r.insertHoldEvent(ctx, tx, "payment.released", *hold, at)
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (r *Repository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.PaymentHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+holdColumns+`
		FROM payment_holds WHERE status = 'HELD' AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query expired holds")
	}
	defer rows.Close()

	var holds []domain.PaymentHold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, *hold)
	}
	return holds, rows.Err()
}

func (r *Repository) ExpireHold(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		hold, err := scanHold(tx.QueryRow(ctx, `
			UPDATE payment_holds SET status = 'EXPIRED'
			WHERE id = $1 AND status = 'HELD'
			RETURNING `+holdColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(domain.ErrNotFound, "no held payment %s", id)
		}
		if err != nil {
			return errors.Wrap(err, "expire payment hold")
		}
		return r.insertHoldEvent(ctx, tx, "payment.expired", *hold, at)
	})
}

func (r *Repository) GetHold(ctx context.Context, bookingID string) (*domain.PaymentHold, error) {
	hold, err := scanHold(r.pool.QueryRow(ctx, `
		SELECT `+holdColumns+` FROM payment_holds WHERE booking_id = $1
	`, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "no payment for booking %s", bookingID)
	}
	return hold, err
}
