package mongo

import (
	"context"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger appends booking, payment and proof events to the audit_logs
// collection. Cal.com remains the system of record; this is a trail only.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	BookingID string    `bson:"booking_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, bookingID string, data map[string]interface{}) error {
	return a.insert(ctx, AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		BookingID: bookingID,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	})
}

// RecordEvent stores a broker event under its message ID. A redelivered
// event is already stored and counts as recorded.
func (a *AuditLogger) RecordEvent(ctx context.Context, eventID, action, bookingID string, data map[string]interface{}) error {
	err := a.insert(ctx, AuditLog{
		ID:        eventID,
		Action:    action,
		BookingID: bookingID,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	})
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("event_id", eventID).Debug("audit event already recorded")
		return nil
	}
	return err
}

func (a *AuditLogger) insert(ctx context.Context, doc AuditLog) error {
	_, err := a.coll.InsertOne(ctx, doc)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		a.logger.WithError(err).WithField("action", doc.Action).Error("failed to insert audit log")
	}
	return err
}

func (a *AuditLogger) LogBooking(ctx context.Context, c domain.BookingConfirmation) error {
	data := map[string]interface{}{
		"start_time":     c.StartTime.Format(time.RFC3339),
		"end_time":       c.EndTime.Format(time.RFC3339),
		"offered_amount": c.OfferedAmount,
		"status":         string(c.Status),
		"proof_hashtag":  c.ProofHashtag,
	}
	return a.LogEvent(ctx, "booking.created", c.BookingID, data)
}

func (a *AuditLogger) LogProof(ctx context.Context, bookingID, proofURL string, valid, released bool) error {
	data := map[string]interface{}{
		"proof_url":        proofURL,
		"valid":            valid,
		"payment_released": released,
	}
	return a.LogEvent(ctx, "proof.submitted", bookingID, data)
}
