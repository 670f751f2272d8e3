package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/discount-engine/internal/config"
	"github.com/utafrali/discount-engine/internal/event"
	handler "github.com/utafrali/discount-engine/internal/handler/http"
	"github.com/utafrali/discount-engine/internal/repository/postgres"
	"github.com/utafrali/discount-engine/internal/repository/redis"
	"github.com/utafrali/discount-engine/internal/service"
	"github.com/utafrali/discount-engine/migrations"
	"github.com/utafrali/discount-engine/pkg/database"
	"github.com/utafrali/discount-engine/pkg/health"
	pkgkafka "github.com/utafrali/discount-engine/pkg/kafka"
	"github.com/utafrali/discount-engine/pkg/tracing"
)

const (
	serviceName    = "discount"
	serviceVersion = "0.1.0"
	idempotencyTTL = 24 * time.Hour
)

// App wires together all dependencies and runs the discount service.
type App struct {
	cfg             *config.Config
	logger          *slog.Logger
	pool            *pgxpool.Pool
	redis           *goredis.Client
	producer        *pkgkafka.Producer
	dlq             *pkgkafka.DLQProducer
	httpServer      *http.Server
	consumers       []*pkgkafka.Consumer
	campaignService *service.CampaignService
	tracerShutdown  tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.DBHost
	pgCfg.Port = cfg.DBPort
	pgCfg.User = cfg.DBUser
	pgCfg.Password = cfg.DBPassword
	pgCfg.DBName = cfg.DBName
	pgCfg.SSLMode = cfg.DBSSLMode
	if cfg.DBMaxConns > 0 {
		pgCfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pgCfg.MinConns = cfg.DBMinConns
	}
	if cfg.DBMaxConnLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.DBMaxConnLifetime
	}
	if cfg.DBMaxConnIdleTime > 0 {
		pgCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	}
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	}

	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)))

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)

	// Build the dependency graph.
	discountRepo := postgres.NewDiscountRepository(pool)
	codeRepo := postgres.NewCodeRepository(pool)
	redemptionRepo := postgres.NewRedemptionRepository(pool)
	campaignRepo := postgres.NewCampaignRepository(pool)
	catalogCache := redis.NewCatalogCache(redisClient, cfg.CatalogCacheTTL)
	eventProducer := event.NewProducer(producer, logger)

	discountService := service.NewDiscountService(
		discountRepo, codeRepo, redemptionRepo, catalogCache, eventProducer, cfg.Location(), logger,
	)
	campaignService := service.NewCampaignService(campaignRepo, eventProducer, logger)
	redemptionService := service.NewRedemptionService(discountService, redemptionRepo, campaignService, eventProducer, logger)

	// Order lifecycle consumers, one per topic.
	eventConsumer := event.NewConsumer(redemptionService, campaignService, logger)
	idempotencyStore := pkgkafka.NewRedisIdempotencyStore(redisClient, "discount:events:", idempotencyTTL)

	var consumers []*pkgkafka.Consumer
	for topic, h := range eventConsumer.Handlers() {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  event.ConsumerGroup,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(idempotencyStore, h, logger), dlq, logger))
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	router := handler.NewRouter(discountService, redemptionService, campaignService, healthHandler, logger, handler.RouterConfig{
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          logger,
		pool:            pool,
		redis:           redisClient,
		producer:        producer,
		dlq:             dlq,
		httpServer:      httpServer,
		consumers:       consumers,
		campaignService: campaignService,
		tracerShutdown:  tracerShutdown,
	}, nil
}

// Run starts the HTTP server, Kafka consumers and the analytics rollup job,
// then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, len(a.consumers)+1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		go func(c *pkgkafka.Consumer) {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s consumer: %w", c.Topic(), err)
			}
		}(c)
	}

	if a.cfg.RollupInterval > 0 {
		go a.runAnalyticsRollup(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// runAnalyticsRollup periodically re-aggregates today and yesterday so late
// events land in the right day.
func (a *App) runAnalyticsRollup(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := time.Now().UTC().Truncate(24 * time.Hour)
			for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
				if _, err := a.campaignService.RollupDaily(ctx, day); err != nil {
					a.logger.Error("campaign analytics rollup error",
						slog.String("day", day.Format(time.DateOnly)),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// Kafka consumers, Kafka producers, Redis, then the PostgreSQL pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Flush after the HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error",
				slog.String("topic", c.Topic()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry pings the producer up to 3 times, backing off 1s then 2s
// with ±25% jitter.
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	const attempts = 3

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		base := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("kafka producer ping failed after %d attempts: %w", attempts, lastErr)
}
