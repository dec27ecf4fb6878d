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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/fabirmss/notaFi/internal/cache"
	"github.com/fabirmss/notaFi/internal/config"
	"github.com/fabirmss/notaFi/internal/httpapi"
	"github.com/fabirmss/notaFi/internal/obs"
	"github.com/fabirmss/notaFi/internal/service"
	"github.com/fabirmss/notaFi/internal/store"
	"github.com/fabirmss/notaFi/internal/store/memory"
	pgstore "github.com/fabirmss/notaFi/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("repository unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var listings cache.ListingCache = cache.NoopListingCache{}
	var limiterStore limiter.Store
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisListingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop cache and in-process rate limit")
			_ = redisCache.Close()
		} else {
			listings = redisCache
			closers = append(closers, redisCache.Close)
			if ls, err := limiterredis.NewStoreWithOptions(redisCache.Client(), limiter.StoreOptions{Prefix: "notafi:limiter"}); err != nil {
				logger.Warn().Err(err).Msg("redis limiter store unavailable")
			} else {
				limiterStore = ls
			}
			logger.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		logger.Info().Msg("cache: noop")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(cfg.MetricsNamespace, registry)

	svc := service.New(repo, listings, metrics, logger, service.Options{
		StoreTimeout:  cfg.StoreTimeout,
		CacheTTL:      cfg.CatalogCacheTTL,
		DraftTTL:      cfg.DraftTTL,
		DefaultSeries: cfg.DefaultSeries,
		DefaultNature: cfg.DefaultNatureOfOperation,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginPerMinute: cfg.LoginRateLimit,
		LimiterStore:   limiterStore,
		Metrics:        metrics,
		Gatherer:       registry,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.StoreTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("nota fiscal backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and refuses to
// fall back to memory if it cannot connect.
func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("repository: in-memory")
		return memory.NewSeeded(logger), nil, nil
	}
	if cfg.RunMigrations {
		if err := pgstore.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	logger.Info().Msg("repository: postgres")
	return pg, pg.Close, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin, not a wildcard")
	}
	return nil
}
