/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, the database
 * connection, the payment gateway client, the message broker, the rate limiter,
 * background workers, and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Shared rate limiting.
 * - internal/api, internal/app, internal/config, internal/metrics, internal/store.
 * - pkg/gatewayclient: Client for the payment provider.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/learnary/payment-service/internal/api"
	"github.com/learnary/payment-service/internal/app"
	"github.com/learnary/payment-service/internal/config"
	"github.com/learnary/payment-service/internal/metrics"
	"github.com/learnary/payment-service/internal/store"
	"github.com/learnary/payment-service/pkg/gatewayclient"
	rmrabbit "github.com/learnary/payment-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.GatewayChecksumKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway checksum key must be configured\" env=GATEWAY_CHECKSUM_KEY")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.AutoMigrate {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.Migrate(migrateCtx, dbpool)
		cancelMigrate()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"schema migrated\"")
	}

	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; outbox rows will wait\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	gateway := gatewayclient.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewayClientID,
		cfg.GatewayAPIKey,
		cfg.GatewayChecksumKey,
		time.Duration(cfg.GatewayTimeoutSeconds)*time.Second,
	)

	repository := store.NewPostgresRepository(dbpool)

	paymentService := app.NewService(repository, repository, gateway, app.Settings{
		Currency:                          cfg.Currency,
		CurrencyScale:                     cfg.CurrencyScale,
		PlatformFeePercent:                cfg.PlatformFeePercent,
		MinWithdrawAmount:                 cfg.MinWithdrawAmount,
		PendingPaymentTTL:                 time.Duration(cfg.PendingPaymentTTLMinutes) * time.Minute,
		ReturnURL:                         cfg.PaymentReturnURL,
		CancelURL:                         cfg.PaymentCancelURL,
		EventsExchange:                    cfg.EventsExchange,
		PaymentLinkRateLimitPerMinute:     cfg.PaymentLinkRateLimitPerMinute,
		WithdrawRequestRateLimitPerMinute: cfg.WithdrawRequestRateLimitPerMinute,
	})

	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limits are per process\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limits are per process\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limits are per process\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				paymentService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	if cfg.MetricsEnabled {
		metrics.Register()
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	dispatcher := app.NewOutboxDispatcher(
		repository,
		publisher,
		logger.With("component", "outbox_dispatcher"),
		cfg.OutboxBatchSize,
		time.Duration(cfg.OutboxPollIntervalMS)*time.Millisecond,
	)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(workerCtx)
	}()

	sweeper := app.NewExpirySweeper(repository, gateway, logger.With("component", "expiry_sweeper"), app.SweeperConfig{
		PendingTTL:      time.Duration(cfg.PendingPaymentTTLMinutes) * time.Minute,
		BatchSize:       cfg.ExpirySweepBatchSize,
		SweepSchedule:   cfg.ExpirySweepSchedule,
		CleanupSchedule: cfg.OutboxCleanupSchedule,
		OutboxRetention: time.Duration(cfg.OutboxRetentionHours) * time.Hour,
	})
	if err := sweeper.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"expiry sweeper start failed\" err=%v", err)
	}

	handlers := api.NewPaymentHandlers(paymentService)

	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(handlers, api.RouterOptions{
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsEnabled:     cfg.MetricsEnabled,
	}))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Wait for a running sweep to finish before the pool closes.
	select {
	case <-sweeper.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=expiry_sweeper msg=\"sweep still running at shutdown\"")
	}

	stopWorkers()
	<-dispatcherDone

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
