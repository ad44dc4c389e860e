package outbox

import (
	"context"
	"time"

	"github.com/atl5d/pwyc-booking/internal/adapters/crdb"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

const batchSize = 50

// Publisher relays outbox rows to the message broker. Delivery is at least
// once; consumers deduplicate on MessageId.
type Publisher struct {
	repo      Source
	rabbitPub Sink
	logger    observability.Logger
	now       func() time.Time
}

func NewPublisher(repo Source, rabbitPub Sink, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox publish failed")
			}
		}
	}
}

// PublishBatch publishes one batch of pending rows and returns how many made
// it to the broker. A failed row stays pending for the next tick.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "load outbox")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishRetries.Inc()
			p.logger.WithError(err).WithField("outbox_id", rec.ID.String()).Warn("publish outbox record")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, p.now()); err != nil {
			return published, errors.Wrapf(err, "mark outbox record %s published", rec.ID)
		}
		published++
	}
	return published, nil
}
