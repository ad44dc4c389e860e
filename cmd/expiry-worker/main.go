package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/atl5d/pwyc-booking/internal/adapters/crdb"
	"github.com/atl5d/pwyc-booking/internal/config"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/atl5d/pwyc-booking/internal/payments"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The expiry worker moves payment holds whose proof window elapsed to
// EXPIRED. The matching payment.expired events reach the broker through the
// outbox publisher.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.CRDBDSN == "" {
		log.Fatal("CRDB_DSN is required for the expiry worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "pwyc-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to prepare crdb schema: %v", err)
	}

	holds := payments.NewHolds(repo, cfg.ProofWindow)

	logger.Info("expiry worker started")
	holds.RunExpiry(ctx, time.Minute, logger)
	logger.Info("Shutdown expiry worker")
}
