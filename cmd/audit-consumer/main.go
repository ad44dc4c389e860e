package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"

	mongoadapter "github.com/atl5d/pwyc-booking/internal/adapters/mongo"
	"github.com/atl5d/pwyc-booking/internal/adapters/rabbit"
	"github.com/atl5d/pwyc-booking/internal/config"
	"github.com/atl5d/pwyc-booking/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queue = "pwyc.audit"

// The audit consumer copies payment lifecycle events from the broker into
// the Mongo audit trail, covering transitions the API never sees such as
// payment.expired.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.RabbitURL == "" || cfg.MongoURI == "" {
		log.Fatal("RABBIT_URL and MONGO_URI are required for the audit consumer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("pwyc"), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, "payment.*")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", queue, err)
	}

	logger.Info("audit consumer started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown audit consumer")
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("delivery channel closed")
				return
			}
			handle(ctx, audit, logger, d)
		}
	}
}

type eventRecorder interface {
	RecordEvent(ctx context.Context, eventID, action, bookingID string, data map[string]interface{}) error
}

func handle(ctx context.Context, audit eventRecorder, logger observability.Logger, d amqp.Delivery) {
	log := logger.WithFields(map[string]interface{}{
		"routing_key": d.RoutingKey,
		"message_id":  d.MessageId,
	})

	var data map[string]interface{}
	if err := json.Unmarshal(d.Body, &data); err != nil {
		log.WithError(err).Warn("dropping undecodable event")
		_ = d.Nack(false, false)
		return
	}
	if d.MessageId == "" {
		log.Warn("dropping event without message id")
		_ = d.Nack(false, false)
		return
	}
	bookingID, _ := data["bookingId"].(string)

	if err := audit.RecordEvent(ctx, d.MessageId, d.RoutingKey, bookingID, data); err != nil {
		log.WithError(err).Error("audit write failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
