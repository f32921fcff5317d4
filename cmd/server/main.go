package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/config"
	"tokopos/backend/internal/httpapi"
	"tokopos/backend/internal/service"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/store/memory"
	"tokopos/backend/internal/store/postgres"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx := context.Background()

	var closers []func() error

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("database connection failed", "error", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalw("schema setup failed", "error", err)
		}
		closers = append(closers, pg.Close)
		repo = pg
		log.Infow("using postgres store")
	} else {
		repo = memory.NewSeeded()
		log.Infow("DATABASE_URL not set, using seeded in-memory store")
	}

	var eligibilityCache cache.EligibilityCache = cache.NoopEligibilityCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisEligibilityCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warnw("redis unreachable, eligibility cache disabled", "error", err)
			_ = redisCache.Close()
		} else {
			closers = append(closers, redisCache.Close)
			eligibilityCache = redisCache
			log.Infow("eligibility cache enabled", "addr", cfg.RedisAddr)
		}
	}

	svc := service.New(repo, eligibilityCache, log, service.Options{
		DefaultStoreID: cfg.DefaultStoreID,
		RestockReturns: cfg.RestockReturns,
		EligibilityTTL: time.Duration(cfg.EligibilityTTLSeconds) * time.Second,
	})

	handler := httpapi.NewHandler(svc, log)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           httpapi.NewRouter(handler, cfg.AllowedOrigin),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown error", "error", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Errorw("close error", "error", err)
		}
	}
}
