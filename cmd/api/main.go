package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/breaker"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/config"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/handler"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/infra/postgresql"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/infra/postgresql/migrations"
	infraredis "github.com/Foodshareclub/foodshare-web-sub000/internal/infra/redis"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/provider"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/queue"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/service"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dispatcher exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	providerConfigs, err := cfg.Providers()
	if err != nil {
		return err
	}
	apiKeys, err := cfg.ProviderAPIKeys()
	if err != nil {
		return err
	}
	backoff, err := cfg.RetryBackoff()
	if err != nil {
		return err
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WakePrefetch, logger.Named("wake"))

	metrics := observability.NewMetrics()

	transports := make(map[domain.ProviderID]provider.Provider, len(providerConfigs))
	for _, p := range providerConfigs {
		client, err := provider.NewHTTPProvider(p.Endpoint, apiKeys[p.ID], cfg.SendTimeout)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		transports[p.ID] = client
	}
	providers, err := provider.NewSet(providerConfigs, transports)
	if err != nil {
		return err
	}

	queueRepo := repository.NewGormQueueRepo(db)
	deadLetterRepo := repository.NewGormDeadLetterRepo(db)
	metricsRepo := repository.NewGormMetricsRepo(db)
	eventRepo := repository.NewGormEventRepo(db)

	deduper, err := infraredis.NewDeduper(rdb)
	if err != nil {
		return err
	}
	eventLog, err := service.NewEventLog(eventRepo, deduper, logger.Named("events"))
	if err != nil {
		return err
	}

	breakerStore, err := infraredis.NewBreakerStore(rdb, breaker.Settings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Cooldown:         cfg.BreakerCooldown,
		ProbeLease:       cfg.BreakerProbeLease,
	})
	if err != nil {
		return err
	}
	breakers, err := breaker.NewRegistry(breakerStore, eventLog, logger.Named("breaker"))
	if err != nil {
		return err
	}
	breakers.SetMetrics(metrics)

	ledger, err := infraredis.NewQuotaLedger(rdb)
	if err != nil {
		return err
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb)
	if err != nil {
		return err
	}

	health, err := service.NewHealthMonitor(metricsRepo, breakers, providerConfigs, cfg.HealthSnapshotInterval, logger.Named("health"))
	if err != nil {
		return err
	}
	health.SetMetrics(metrics)

	selector, err := service.NewSelector(providerConfigs, breakers, ledger, health, logger.Named("selector"))
	if err != nil {
		return err
	}

	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Queue:       queueRepo,
		Providers:   providers,
		Candidates:  selector,
		Breakers:    breakers,
		Quotas:      ledger,
		RateLimiter: limiter,
		Health:      health,
		Events:      eventLog,
	}, service.DispatcherConfig{
		Workers:               cfg.DispatchWorkers,
		BatchSize:             cfg.DispatchBatchSize,
		Interval:              cfg.DispatchInterval,
		SendTimeout:           cfg.SendTimeout,
		Backoff:               backoff,
		ExhaustionAlertWindow: cfg.ExhaustionAlertWindow,
	}, logger.Named("dispatcher"))
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	delivery, err := service.NewDeliveryService(queueRepo, publisher, cfg.MaxAttempts, logger.Named("delivery"))
	if err != nil {
		return err
	}
	deadLetters, err := service.NewDeadLetterService(deadLetterRepo, eventLog, publisher, cfg.MaxAttempts, logger.Named("dead_letters"))
	if err != nil {
		return err
	}
	admin, err := service.NewAdminService(selector, breakers, eventLog, dispatcher, queueRepo, logger.Named("admin"))
	if err != nil {
		return err
	}
	maintenance, err := service.NewMaintenance(queueRepo, eventLog, health, deadLetters, service.MaintenanceConfig{
		Interval:           cfg.MaintenanceInterval,
		StaleAfter:         cfg.StaleProcessingAfter,
		CompletedRetention: cfg.CompletedRetention,
		EventRetention:     cfg.EventRetention,
	}, logger.Named("maintenance"))
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.ReadinessCheck{Name: "rabbitmq", Ping: rabbit.Ping},
	)
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterMessageRoutes(app, delivery); err != nil {
		return err
	}
	mounted, err := handler.RegisterAdminRoutes(app, cfg.AdminToken, admin, deadLetters)
	if err != nil {
		return err
	}
	if !mounted {
		logger.Warn("ADMIN_TOKEN is empty, admin routes disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("dispatcher api started", zap.Int("port", cfg.APIPort), zap.Int("providers", len(providerConfigs)))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return maintenance.Start(gctx) })
	g.Go(func() error { return consumer.Consume(gctx, dispatcher.HandleWake) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("dispatcher stopped")
	return nil
}
