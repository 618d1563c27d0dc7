package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/driftsync/syncore/internal/model"
	"github.com/driftsync/syncore/internal/netdetect"
	"github.com/driftsync/syncore/internal/storage/memstore"
	"github.com/driftsync/syncore/internal/syncclient"
	"github.com/driftsync/syncore/internal/syncengine"
	"github.com/driftsync/syncore/internal/txqueue"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncore-demo").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	syncEndpoint := env("SYNC_ENDPOINT", "")
	if syncEndpoint == "" {
		log.Fatal().Msg("SYNC_ENDPOINT is required")
	}
	healthEndpoint := env("HEALTH_ENDPOINT", "")

	store := memstore.New()
	queue := txqueue.New(store, txqueue.Config{
		MaxTransactions:    envInt("QUEUE_MAX_TRANSACTIONS", 0),
		DefaultMaxAttempts: envInt("QUEUE_DEFAULT_MAX_ATTEMPTS", 0),
	})
	if err := queue.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transaction queue")
	}
	defer queue.Close(ctx)

	detector := netdetect.New(netdetect.Config{HealthEndpoint: healthEndpoint})
	if err := detector.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize network detector")
	}
	if err := detector.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start network detector")
	}
	defer detector.Stop(ctx)

	client := syncclient.New(syncEndpoint)
	engine := syncengine.New(queue, client, detector)

	cfg := syncengine.DefaultConfig()
	cfg.SyncEndpoint = syncEndpoint
	if bs := envInt("SYNC_BATCH_SIZE", 0); bs > 0 {
		cfg.BatchSize = bs
	}
	if err := engine.Initialize(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize sync engine")
	}
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sync engine")
	}
	defer engine.Stop(ctx)

	engine.Subscribe(func(ev syncengine.Event) {
		log.Info().Str("event", string(ev.Type)).Msg("syncengine: lifecycle event")
	})

	if env("SEED_DEMO_TRANSACTION", "") == "true" {
		_, err := queue.Enqueue(ctx, model.Payload{
			Resource: "note",
			Action:   "create",
			Data:     map[string]any{"title": "hello from syncdemo"},
		}, model.EnqueueOptions{})
		if err != nil {
			log.Warn().Err(err).Msg("failed to seed demo transaction")
		}
	}

	log.Info().Str("sync_endpoint", syncEndpoint).Msg("syncore demo running; sync triggers on reconnect or SIGUSR1")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			go func() {
				if _, err := engine.Sync(ctx); err != nil {
					log.Error().Err(err).Msg("manual sync failed")
				}
			}()
			continue
		}
		break
	}

	log.Info().Msg("shutting down gracefully...")
	log.Info().Msg("syncore demo stopped")
}
