package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DexBinion/nuscape-backend/internal/config"
	"github.com/DexBinion/nuscape-backend/internal/dedup"
	"github.com/DexBinion/nuscape-backend/internal/infrastructure/postgres"
	"github.com/DexBinion/nuscape-backend/internal/infrastructure/redis"
	"github.com/DexBinion/nuscape-backend/internal/pkg/logger"
	"github.com/DexBinion/nuscape-backend/internal/queue"
	"github.com/DexBinion/nuscape-backend/internal/rollup"
	"github.com/DexBinion/nuscape-backend/internal/worker"
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
		Str("service", "nuscape-processor").
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
			// Dedup degrades to the in-memory fallback: restarts within
			// the retention window may re-admit already-seen events.
			log.Warn().Err(err).Msg("redis ping failed; dedup degrades to in-memory fallback")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Dedup + rollup pipeline ----
	deduper := dedup.NewFailover(
		dedup.NewRedis(cache.Client, cfg.DedupRetention),
		dedup.NewMemory(cfg.DedupRetention),
		log,
	)
	writer := rollup.NewWriter(store)

	consumer := queue.NewConsumer(
		cache.Client,
		cfg.QueueStream,
		cfg.QueueGroup,
		cfg.ConsumerBatch,
		deduper,
		writer,
		log,
	)

	// ---- Session promoter ----
	promoter := worker.NewPromoter(store, writer, cache, cfg.PromoteInterval, log)
	go promoter.Run(rootCtx)

	if err := consumer.Run(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("shutdown complete")
}
