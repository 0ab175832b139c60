package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pay/internal/config"
	"github.com/noah-isme/backend-pay/internal/gateway"
	"github.com/noah-isme/backend-pay/internal/lock"
	"github.com/noah-isme/backend-pay/internal/obs"
	"github.com/noah-isme/backend-pay/internal/reconcile"
)

// The worker runs the reconciliation loop on its own so webhook outages never
// depend on the API process staying healthy.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "reconciler").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "pay"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	gatewayClient, err := gateway.NewAntomClient(gateway.AntomConfig{
		BaseURL:         cfg.GatewayBaseURL,
		ClientID:        cfg.ClientID,
		MerchantPrivKey: cfg.MerchantPrivKey,
		NotifyURL:       cfg.PaymentNotifyURL,
		RedirectURL:     cfg.PaymentRedirectURL,
		Timeout:         cfg.GatewayTimeout,
		MaxAttempts:     cfg.GatewayMaxAttempts,
		RetryBase:       cfg.GatewayRetryBase,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise gateway client")
	}

	store := reconcile.NewPGStore(pool)
	reconciler := &reconcile.Reconciler{
		Store: store,
		Service: &reconcile.Service{
			Store:   store,
			Locker:  lock.Locker{R: redisClient},
			LockTTL: cfg.LockTTL,
			Logger:  logger,
		},
		Gateway: gatewayClient,
		Batch:   cfg.ReconcileBatch,
		Logger:  logger,
	}

	logger.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("age", cfg.ReconcileAge).
		Msg("reconciler starting")
	reconciler.Run(ctx, cfg.ReconcileInterval, cfg.ReconcileAge)
	logger.Info().Msg("reconciler shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
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
