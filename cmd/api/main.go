package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atl5d/pwyc-booking/internal/adapters/calcom"
	"github.com/atl5d/pwyc-booking/internal/adapters/crdb"
	mongoadapter "github.com/atl5d/pwyc-booking/internal/adapters/mongo"
	redisadapter "github.com/atl5d/pwyc-booking/internal/adapters/redis"
	"github.com/atl5d/pwyc-booking/internal/booking"
	"github.com/atl5d/pwyc-booking/internal/config"
	httphandler "github.com/atl5d/pwyc-booking/internal/http"
	"github.com/atl5d/pwyc-booking/internal/idempotency"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/atl5d/pwyc-booking/internal/payments"
	"github.com/atl5d/pwyc-booking/internal/proof"
	"github.com/atl5d/pwyc-booking/internal/rateLimit"
	"github.com/atl5d/pwyc-booking/internal/x402"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "pwyc-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	if cfg.CalcomAPIKey == "" {
		logger.Warn("CAL_COM_API_KEY is not set; Cal.com requests will be rejected")
	}
	cal := calcom.New(cfg.CalcomBaseURL, cfg.CalcomAPIKey)

	g, gctx := errgroup.WithContext(ctx)

	var holdStore payments.Store = payments.NewMemoryStore()
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to prepare crdb schema: %v", err)
		}
		holdStore = repo
	} else {
		logger.Warn("CRDB_DSN is not set; payment holds are kept in memory")
	}
	holds := payments.NewHolds(holdStore, cfg.ProofWindow)
	if cfg.CRDBDSN == "" {
		// Nothing else sweeps in-memory holds.
		g.Go(func() error {
			holds.RunExpiry(gctx, time.Minute, logger)
			return nil
		})
	}

	var limiter rateLimit.Limiter = rateLimit.NewLocalLimiter()
	var settlements x402.SettlementStore = x402.NewMemoryStore()
	var idemp *idempotency.Idempotency
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		redisCache := redisadapter.NewCache(redisClient)
		limiter = rateLimit.NewRateLimiter(redisCache)
		settlements = redisCache
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	} else {
		logger.Warn("REDIS_ADDR is not set; rate limits and payment replay protection are per instance, idempotency keys are ignored")
	}

	var auditor httphandler.Auditor = httphandler.NopAuditor{}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		auditor = mongoadapter.NewAuditLogger(mongoClient.Database("pwyc"), logger)
	}

	var verifier proof.Verifier
	if cfg.ProofMode == "accept-all" {
		logger.Warn("PROOF_MODE=accept-all; every submitted proof releases payment")
		verifier = proof.AcceptAll{}
	} else {
		verifier = proof.NewContentVerifier(cal, cfg.ProofAllowedHosts, logger)
	}

	var confirmer booking.PaymentConfirmer
	if cfg.PaymentsEnabled() {
		confirmer = payments.NewClient(cfg.PaymentConfirmURL, cfg.PaymentToken, cfg.PaymentTimeout)
	} else {
		logger.Warn("PWYC_PAYMENT_TOKEN is not set; bookings will skip payment confirmation")
	}

	gate, err := x402.NewGate(x402.Options{
		PayTo:     cfg.X402PayTo,
		Network:   cfg.X402Network,
		Asset:     cfg.X402Asset,
		Price:     cfg.X402Price,
		PublicURL: cfg.X402PublicURL,
	}, x402.NewHTTPFacilitator(cfg.X402FacilitatorURL, 30*time.Second), settlements, logger)
	if err != nil {
		log.Fatalf("failed to configure payment gate: %v", err)
	}

	handlers := httphandler.NewHandlers(
		booking.NewAggregator(cal, logger),
		booking.NewSubmitter(cal, confirmer, cfg.CalcomEventSlugTemplate, cfg.AttendeeTimeZone, logger),
		holds,
		verifier,
		auditor,
		logger,
	)

	r := httphandler.SetupRouter(handlers, httphandler.RouterConfig{
		Logger:             logger,
		Limiter:            limiter,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Idempotency:        idemp,
		Gate:               gate,
		ServiceToken:       cfg.PaymentToken,
		CORSOrigins:        cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
