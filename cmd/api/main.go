package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-admin/internal/audit"
	"github.com/noah-isme/toko-admin/internal/auth"
	"github.com/noah-isme/toko-admin/internal/cart"
	"github.com/noah-isme/toko-admin/internal/catalog"
	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/config"
	"github.com/noah-isme/toko-admin/internal/health"
	"github.com/noah-isme/toko-admin/internal/jobs"
	"github.com/noah-isme/toko-admin/internal/lock"
	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/ratelimit"
	"github.com/noah-isme/toko-admin/internal/repo"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "api").
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "toko-admin",
			Component:     "api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
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

	if cfg.DBAutoMigrate {
		if err := repo.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
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

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	enqueuer := jobs.Enqueuer{
		Client:   taskClient,
		Debounce: cfg.RecalcDebounce,
		Logger:   logger,
	}

	catalogSvc := &catalog.Service{
		Store:  repo.ProductStore{DB: pool},
		Cache:  catalog.NewCache(redisClient, cfg.PriceCacheTTL),
		Recalc: enqueuer,
		Logger: logger,
	}
	options := promotion.Options{AutoBundlePricing: cfg.AutoBundlePrices}
	promotionSvc := &promotion.Service{
		Store:   repo.PromotionStore{DB: pool},
		Prices:  catalogSvc,
		Recalc:  enqueuer,
		Options: options,
		TaxBps:  cfg.TaxRateBps,
		Logger:  logger,
	}
	cartSvc := &cart.Service{
		Store:      repo.CartStore{DB: pool},
		Promotions: repo.PromotionStore{DB: pool},
		Catalog:    catalogSvc,
		Locker:     lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		TTL:        cfg.CartTTL,
		LockTTL:    cfg.CartLockTTL,
		TaxBps:     cfg.TaxRateBps,
		Currency:   cfg.CurrencyCode,
		Options:    options,
		Logger:     logger,
	}

	resolver := tenant.NewResolver(cfg.TenantHeader, cfg.TenantRootDomain, cfg.TenantDefault)
	resolver.Lookup = repo.TenantStore{DB: pool}.IDBySlug
	resolver.Logger = logger

	limiterStore, err := ratelimit.NewRedisStore(redisClient, "toko:ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	cartLimiter, err := ratelimit.New(limiterStore, cfg.RateLimitCart)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise cart rate limit")
	}

	auditStore := repo.AuditStore{DB: pool}
	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled},
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit log") },
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	router := newRouter(routerDeps{
		Config:         cfg,
		Logger:         logger,
		Resolver:       resolver,
		Auth:           auth.Middleware{Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, 30*time.Second)},
		Idem:           common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL},
		CartLimit:      ratelimit.Handler{Limiter: cartLimiter, OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }},
		HTTPMetrics:    httpMetrics,
		TracingEnabled: tracingEnabled,
		Health: health.Handler{
			Checks: map[string]health.Check{
				"db":    health.PingDB(pool),
				"redis": health.PingRedis(redisClient),
			},
			Timeout: 500 * time.Millisecond,
		},
		Audit:          auditRecorder,
		AuditLogs:      audit.Handler{Store: auditStore},
		Carts:          &cart.Handler{Svc: cartSvc},
		Promotions:     &promotion.Handler{Svc: promotionSvc},
		Products:       &catalog.Handler{Svc: catalogSvc},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health.SetReady(true)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited unexpectedly")
		return
	}
	logger.Info().Msg("server shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := repo.NewPool(pctx, repo.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		ApplicationName: "toko-admin-api",
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
