package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/meshgate/internal/api"
	"github.com/NikhilSetiya/meshgate/internal/balancer"
	"github.com/NikhilSetiya/meshgate/internal/breaker"
	"github.com/NikhilSetiya/meshgate/internal/cache"
	"github.com/NikhilSetiya/meshgate/internal/client"
	"github.com/NikhilSetiya/meshgate/internal/degrade"
	"github.com/NikhilSetiya/meshgate/internal/monitoring"
	"github.com/NikhilSetiya/meshgate/internal/registry"
	"github.com/NikhilSetiya/meshgate/internal/storage"
	"github.com/NikhilSetiya/meshgate/pkg/alerting"
	"github.com/NikhilSetiya/meshgate/pkg/config"
	"github.com/NikhilSetiya/meshgate/pkg/health"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
	"github.com/NikhilSetiya/meshgate/pkg/metrics"
	"github.com/NikhilSetiya/meshgate/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "meshgate",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "meshgate",
		ServiceVersion: version,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", "error", err.Error())
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Redis is optional; without it the fallback cache runs in memory
	var store cache.Store
	var redisClient *storage.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = storage.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err.Error())
		}
		defer redisClient.Close()
		store = cache.NewService(redisClient, cache.DefaultConfig(), m)
		logger.Info("Redis connection established", "addr", cfg.RedisAddr())
	} else {
		memStore := cache.NewMemoryStore(cfg.Degradation.CacheTTL)
		memStore.StartCleanup(cfg.Degradation.CacheTTL)
		defer memStore.StopCleanup()
		store = memStore
		logger.Info("Redis disabled, using in-memory fallback store")
	}

	reg := registry.New(&registry.Config{
		HealthCheckInterval: cfg.Registry.HealthCheckInterval,
		HealthCheckTimeout:  cfg.Registry.HealthCheckTimeout,
		HealthCheckPath:     cfg.Registry.HealthCheckPath,
		StaleAfterIntervals: cfg.Registry.StaleAfterIntervals,
	}, logger)
	defer reg.Stop()

	lb := balancer.New(reg, logger)

	breakers := breaker.NewGroup(breaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}, logger)

	flags := degrade.NewFlagSet(logger)
	degradeManager := degrade.NewManager(flags, m, logger)

	serviceClient := client.New(client.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		BaseDelay:      cfg.Retry.BaseDelay,
		CapDelay:       cfg.Retry.CapDelay,
		RequestTimeout: cfg.Retry.RequestTimeout,
	}, lb, breakers, degradeManager, m, logger)

	aggregator := monitoring.NewAggregator(&monitoring.Config{
		CollectionInterval: cfg.Monitoring.CollectionInterval,
		MaxSamples:         cfg.Monitoring.MaxSamples,
		DefaultCooldown:    cfg.Monitoring.DefaultCooldown,
		DashboardTTL:       2 * cfg.Monitoring.CollectionInterval,
	}, reg, lb, breakers, store, m, logger)

	aggregator.AddChannel(alerting.NewLoggingChannel(logger))
	if cfg.Alerting.SlackWebhookURL != "" {
		aggregator.AddChannel(alerting.NewSlackChannel(cfg.Alerting.SlackWebhookURL, cfg.Alerting.SlackChannel, "meshgate"))
	}
	if cfg.Alerting.SMTPHost != "" && cfg.Alerting.EmailFrom != "" {
		aggregator.AddChannel(alerting.NewEmailChannel(
			cfg.Alerting.SMTPHost,
			cfg.Alerting.SMTPPort,
			cfg.Alerting.SMTPUsername,
			cfg.Alerting.SMTPPassword,
			cfg.Alerting.EmailFrom,
			cfg.Alerting.EmailTo,
		))
	}
	if cfg.Alerting.WebhookURL != "" {
		aggregator.AddChannel(alerting.NewWebhookChannel(cfg.Alerting.WebhookURL, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := aggregator.Start(ctx); err != nil {
		logger.Fatal("Failed to start monitoring aggregator", "error", err.Error())
	}
	defer aggregator.Stop()

	healthService := health.NewService(logger, nil)
	if redisClient != nil {
		healthService.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	}
	healthService.RegisterChecker("registry", health.NewCustomChecker("registry", func(ctx context.Context) (health.Status, string, error) {
		services := reg.Services()
		return health.StatusHealthy, fmt.Sprintf("tracking %d services", len(services)), nil
	}))

	router := api.NewRouter(cfg, api.Deps{
		Registry:   reg,
		Client:     serviceClient,
		Aggregator: aggregator,
		Flags:      flags,
		Health:     healthService,
		Metrics:    m,
		Tracing:    tracer,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting gateway", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown failed", "error", err.Error())
	}

	logger.Info("Gateway exited")
}
