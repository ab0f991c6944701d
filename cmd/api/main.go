package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DexBinion/nuscape-backend/internal/audit"
	"github.com/DexBinion/nuscape-backend/internal/config"
	"github.com/DexBinion/nuscape-backend/internal/infrastructure/postgres"
	"github.com/DexBinion/nuscape-backend/internal/infrastructure/redis"
	"github.com/DexBinion/nuscape-backend/internal/ingest"
	"github.com/DexBinion/nuscape-backend/internal/pkg/logger"
	"github.com/DexBinion/nuscape-backend/internal/policy"
	"github.com/DexBinion/nuscape-backend/internal/queue"
	"github.com/DexBinion/nuscape-backend/internal/security"
	"github.com/DexBinion/nuscape-backend/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "nuscape-api").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := postgres.Connect(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer dbPool.Close()
	log.Info().Msg("postgres connected")

	store := postgres.New(dbPool)
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		if err := cache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Policy store ----
	policyStore := policy.NewStore()
	if blocked, err := store.LoadBlocklist(rootCtx); err != nil {
		log.Warn().Err(err).Msg("blocklist load failed, starting empty")
	} else {
		policyStore.Replace(blocked)
		log.Info().Int("size", len(blocked)).Msg("blocklist loaded")
	}

	// ---- Application wiring ----
	auditLog := audit.New(log)
	ingestSvc := ingest.NewService(store, policyStore, store, log)
	producer := queue.NewProducer(cache.Client, cfg.QueueStream, int64(cfg.QueueMaxLen))

	h := rest.NewHandler(rest.HandlerDeps{
		Ingest:     ingestSvc,
		Producer:   producer,
		Rollups:    store,
		Devices:    store,
		Controls:   store,
		Policy:     policyStore,
		Audit:      auditLog,
		GapSeconds: cfg.SessionGapSeconds,
	})

	verifier := security.NewHS256Verifier(cfg.JWTSecret, cfg.JWTIssuer)

	var limiter rest.RateLimiter
	if cfg.RLEnabled {
		limiter = cache
	}

	httpHandler := rest.NewRouter(rest.RouterDeps{
		Limiter:   limiter,
		RateLimit: cfg.RLLimit,
		RateWin:   cfg.RLWindow,
		Handler:   h,
		Verifier:  verifier,
		JWTIssuer: cfg.JWTIssuer,
		DB:        store,
		Cache:     cache,
	})

	// ---- Outbox worker (outbound policy.* / usage.* events) ----
	if cfg.OutboxEnabled {
		store.StartOutboxWorker(rootCtx, cfg.RabbitURL, cfg.RabbitExchange)
		log.Info().Msg("outbox worker started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
