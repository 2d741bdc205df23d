// tally is the subscription and usage metering API server.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tallyhq/tally/pkg/api"
	"github.com/tallyhq/tally/pkg/auth"
	"github.com/tallyhq/tally/pkg/config"
	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
	storagepg "github.com/tallyhq/tally/pkg/storage/postgres"
	"github.com/tallyhq/tally/pkg/subscriptions"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting tally")

	ctx := context.Background()

	db, err := storagepg.Connect(storagepg.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}

	if err := storagepg.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	logger.Info("migrations applied")

	catalog := plans.NewPostgresCatalog(db)

	// The engine cannot serve without a free plan to auto-provision.
	// Fail here rather than on the first request.
	if _, err := catalog.GetFreePlan(ctx); err != nil {
		logger.WithError(err).Error("plan catalog check failed")
		os.Exit(1)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("invalid redis URL")
			os.Exit(1)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, rate limiting will fail open")
		}
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	authService := auth.NewPostgresService(db, hasher, tokenManager)
	subService := subscriptions.NewPostgresService(db, catalog, logger, metrics)

	router := api.NewRouter(api.RouterDeps{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics,
		TokenManager:  tokenManager,
		AuthService:   authService,
		Catalog:       catalog,
		Subscriptions: subService,
		RedisClient:   redisClient,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener for k8s probes
	health := observability.NewHealthChecker(db, redisClient)
	probeMux := http.NewServeMux()
	probeMux.Handle("/healthz", health.LivenessHandler())
	probeMux.Handle("/readyz", health.ReadinessHandler())
	if metrics != nil {
		probeMux.Handle("/metrics", metrics.Handler())
	}
	probeServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: probeMux,
	}

	if metrics != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.CollectDBStats(db)
				sampleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if active, err := subService.CountActive(sampleCtx); err == nil {
					metrics.SubscriptionsActive.Set(float64(active))
				}
				cancel()
			}
		}()
	}

	go func() {
		logger.WithField("addr", probeServer.Addr).Info("health/metrics listener started")
		if err := probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health listener failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("API listener started")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API listener failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, probeServer)
	shutdown.Register("database", func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.Register("opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}
