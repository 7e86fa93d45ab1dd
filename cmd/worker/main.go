package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-admin/internal/cart"
	"github.com/noah-isme/toko-admin/internal/catalog"
	"github.com/noah-isme/toko-admin/internal/config"
	"github.com/noah-isme/toko-admin/internal/jobs"
	"github.com/noah-isme/toko-admin/internal/lock"
	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/repo"
)

func main() {
	// Deferred first so it runs after every other cleanup.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "worker").
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "toko-admin",
			Component:     "worker",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	carts := repo.CartStore{DB: pool}
	catalogSvc := &catalog.Service{
		Store:  repo.ProductStore{DB: pool},
		Cache:  catalog.NewCache(redisClient, cfg.PriceCacheTTL),
		Logger: logger,
	}
	cartSvc := &cart.Service{
		Store:      carts,
		Promotions: repo.PromotionStore{DB: pool},
		Catalog:    catalogSvc,
		Locker:     lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		TTL:        cfg.CartTTL,
		LockTTL:    cfg.CartLockTTL,
		TaxBps:     cfg.TaxRateBps,
		Currency:   cfg.CurrencyCode,
		Options:    promotion.Options{AutoBundlePricing: cfg.AutoBundlePrices},
		Logger:     logger,
	}

	handlers := &jobs.Handlers{
		Carts:   cartSvc,
		Purger:  carts,
		Tenants: repo.TenantStore{DB: pool},
		Logger:  logger,
	}
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	asynqLogger := jobs.Logger{L: logger}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{jobs.QueueDefault: 1},
		Logger:          asynqLogger,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger})
	if _, err := scheduler.Register(cfg.PurgeSchedule, jobs.NewPurgeTask(), asynq.Queue(jobs.QueueDefault)); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.PurgeSchedule).Msg("register purge schedule")
	}

	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	if err := waitAndShutdown(ctx, logger, func() error {
		scheduler.Shutdown()
		server.Shutdown()
		return nil
	}); err != nil {
		exitCode = 1
	}
}

// waitAndShutdown blocks until ctx ends, then runs shutdown and logs the
// outcome.
func waitAndShutdown(ctx context.Context, logger zerolog.Logger, shutdown func() error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return shutdown()
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker exited unexpectedly")
		return err
	}
	logger.Info().Msg("worker shutdown complete")
	return nil
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := repo.NewPool(pctx, repo.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		ApplicationName: "toko-admin-worker",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
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
