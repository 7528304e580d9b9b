package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/orderdesk/backend-fulfillment/internal/config"
	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/delivery"
	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/lock"
	"github.com/orderdesk/backend-fulfillment/internal/obs"
	"github.com/orderdesk/backend-fulfillment/internal/queue"
	"github.com/orderdesk/backend-fulfillment/internal/resilience"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "fulfillment"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, queries := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	providerHTTP := &resilience.HTTPClient{
		Client:      &http.Client{Timeout: cfg.ProviderRequestTimeout},
		Breaker:     resilience.NewBreaker(cfg.BreakerMinSamples, cfg.BreakerFailureRatio, cfg.BreakerOpenFor),
		BaseBackoff: cfg.ProviderRetryBase,
		MaxAttempts: cfg.ProviderRetryMax,
		Jitter:      0.2,
		Timeout:     cfg.ProviderRequestTimeout,
	}
	registry, err := courier.FromStore(ctx, queries.Providers, courier.BuildOptions{
		HTTP:           providerHTTP,
		RequestTimeout: cfg.ProviderRequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load courier providers")
	}

	bus := &events.Bus{Store: queries.Events}
	deliverySvc := &delivery.Service{
		Shipments:          queries.Shipments,
		Orders:             queries.Orders,
		Registry:           registry,
		AllowMultiProvider: cfg.AllowMultiProvider,
	}
	reconciler := &delivery.Reconciler{
		Shipments:         queries.Shipments,
		Orders:            queries.Orders,
		Events:            bus,
		Logger:            logger,
		NotifyOnDelivered: false,
		NotifyOnReturned:  false,
	}

	sweeper := delivery.Sweeper{
		Shipments: queries.Shipments,
		Queue:     queue.Enqueuer{R: redisClient, Prefix: "fulfillment", DedupTTL: cfg.SweepInterval},
		StaleFor:  cfg.SweepStaleFor,
		BatchSize: int32(cfg.SweepBatchSize),
		Logger:    logger,
	}
	go func() {
		if err := sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("sweeper stopped with error")
		}
	}()

	checker := delivery.Checker{
		Svc:     deliverySvc,
		Rec:     reconciler,
		Locker:  lock.Locker{R: redisClient},
		LockTTL: cfg.LockTTL,
		Logger:  logger,
	}
	checkWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            "fulfillment",
		Kind:              delivery.CheckTaskKind,
		Concurrency:       4,
		VisibilityTimeout: cfg.ProviderRequestTimeout * 3,
		RetryBase:         cfg.ProviderRetryBase,
		RetryJitter:       0.2,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return checker.Handle(jobCtx, task.Payload)
		},
	}

	logger.Info().Msg("worker starting")
	if err := checkWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *store.Queries) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "fulfillment-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, store.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
