package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/atl5d/pwyc-booking/internal/adapters/crdb"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	records   []crdb.OutboxRecord
	published []uuid.UUID
}

func (f *fakeSource) GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error) {
	return f.records, nil
}

func (f *fakeSource) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.published = append(f.published, id)
	return nil
}

type fakeSink struct {
	failKey string
	keys    []string
	msgs    []amqp.Publishing
}

func (f *fakeSink) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if key == f.failKey {
		return errors.New("channel closed")
	}
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestPublisher_PublishBatch(t *testing.T) {
	held := crdb.OutboxRecord{ID: uuid.New(), EventType: "payment.held", Payload: []byte(`{"bookingId":"bk_1"}`), DedupeKey: "payment.held:1", CreatedAt: time.Now().Add(-time.Minute)}
	expired := crdb.OutboxRecord{ID: uuid.New(), EventType: "payment.expired", Payload: []byte(`{}`), DedupeKey: "payment.expired:2", CreatedAt: time.Now()}
	src := &fakeSource{records: []crdb.OutboxRecord{held, expired}}
	sink := &fakeSink{failKey: "payment.expired"}

	p := NewPublisher(src, sink, observability.NewLogger("error"))
	n, err := p.PublishBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"payment.held"}, sink.keys)
	assert.Equal(t, "payment.held:1", sink.msgs[0].MessageId)
	assert.Equal(t, []uuid.UUID{held.ID}, src.published)
}

func TestPublisher_Empty(t *testing.T) {
	p := NewPublisher(&fakeSource{}, &fakeSink{}, observability.NewLogger("error"))
	n, err := p.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
