package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/services/integration"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/observer"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/secrets"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fern: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	cipher, err := secrets.NewCipherFromBase64(cfg.CredentialEncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid CREDENTIAL_ENCRYPTION_KEY: %w", err)
	}

	var (
		db          *database.DatabaseInstance
		redisClient *redis.Client
	)

	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	deps.AddDependency(startup.Func{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			instance, err := database.Connect(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			db = instance
			return nil
		},
		StopFunc: func(context.Context) error { return db.Close() },
	})
	deps.AddDependency(startup.Func{
		Name:  "migrations",
		Needs: []string{"database"},
		StartFunc: func(context.Context) error {
			return database.NewMigrationService(logger, cfg.Migration()).MigratePostgres(db.DB.DB, cfg.DatabaseName)
		},
	})
	if cfg.RedisEnabled {
		deps.AddDependency(startup.Func{
			Name: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, cfg.Redis(), logger)
				if err != nil {
					return err
				}
				redisClient = client
				return nil
			},
			StopFunc: func(context.Context) error { return redisClient.Close() },
		})
	}
	if err := deps.Start(ctx); err != nil {
		return err
	}

	registry, err := gateway.NewRegistry(cfg.ProviderOverrides(), cfg.Breaker(), limiterFactory(cfg, redisClient), logger)
	if err != nil {
		return err
	}
	gw := gateway.New(registry, cfg.Gateway(), logger)
	defer gw.Close()

	sinks := []observer.Observer{observer.NewPrometheusObserver(), observer.NewLogObserver(logger)}
	var kafkaObserver *observer.KafkaObserver
	if brokers := observer.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafkaCfg := observer.KafkaConfig{Brokers: brokers, Topic: cfg.KafkaSyncEventTopic}
		kafkaObserver = observer.NewKafkaObserver(observer.NewKafkaWriter(kafkaCfg), kafkaCfg.Topic, logger)
		sinks = append(sinks, kafkaObserver)
	}
	events := observer.NewAsyncObserver(observer.Multi(sinks...), cfg.ObserverQueueSize, logger)

	var serviceOpts []integration.Option
	var locker *redis.Locker
	if redisClient != nil {
		locker = redis.NewLocker(redisClient, "")
		if cfg.SyncLeaseEnabled {
			serviceOpts = append(serviceOpts, integration.WithLeaser(locker))
		}
	}
	service := integration.NewService(
		repositories.NewIntegrationRepository(db, cipher, logger),
		gw,
		events,
		integration.Config{
			StalenessWindow: cfg.SyncStaleness,
			PendingLimit:    cfg.SyncPendingLimit,
			LeaseTTL:        cfg.SyncLeaseTTL,
		},
		logger,
		serviceOpts...,
	)

	var redisPinger health.Pinger
	if redisClient != nil {
		redisPinger = health.PingerFunc(redisClient.Ping)
	}
	checker := health.NewChecker(db, redisPinger, registry, cfg.Version)

	e, err := newServer(ctx, cfg, logger, checker, handlers.NewIntegrationHandler(service))
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		var leaser scheduler.Leaser
		if locker != nil {
			leaser = locker
		}
		sched = scheduler.NewScheduler(service, leaser, scheduler.Config{
			PollInterval: cfg.SchedulerPollInterval,
			LockTTL:      cfg.SchedulerLockTTL,
		}, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on %s", cfg.AppName, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Scheduler shutdown incomplete")
		}
	}
	if err := events.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Observer queue not fully drained")
	}
	if kafkaObserver != nil {
		if err := kafkaObserver.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close kafka writer")
		}
	}
	if err := deps.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Dependency shutdown incomplete")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Tracing shutdown incomplete")
	}
	logger.Info("Shutdown complete")
	return nil
}

// limiterFactory gives each provider one limiter shared by every tenant.
func limiterFactory(cfg *config.Config, client *redis.Client) gateway.LimiterFactory {
	quota := cfg.Quota()
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		bucket := redis.NewTokenBucket(client, "")
		return func(provider models.ProviderType) ratelimit.Limiter {
			return ratelimit.NewRedisLimiter(provider.String(), bucket, quota)
		}
	}
	return func(provider models.ProviderType) ratelimit.Limiter {
		return ratelimit.NewLocalLimiter(provider.String(), quota)
	}
}

func newServer(ctx context.Context, cfg *config.Config, logger ectologger.Logger, checker *health.Checker, integrations *handlers.IntegrationHandler) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		api.Use(middleware.Authentication(logger, verifier))
	}
	integrations.RegisterRoutes(api)
	return e, nil
}
