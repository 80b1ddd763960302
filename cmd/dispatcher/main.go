// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package main is the entry point for the Omnicast dispatcher process.
//
// The dispatcher is the pipeline's clock: on every sweep it reclaims
// Processing rows whose worker died, claims due Scheduled messages in
// batches, and publishes one scheduling event per claimed message. A claim
// whose publish fails is rolled back so the next sweep retries it.
//
// Exit codes: 0 clean shutdown, 1 startup or runtime failure, 2 invalid
// configuration, 130 terminated by SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkarlsen/omnicast/internal/api"
	"github.com/mkarlsen/omnicast/internal/config"
	"github.com/mkarlsen/omnicast/internal/dispatcher"
	"github.com/mkarlsen/omnicast/internal/eventlog"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/store"
	"github.com/mkarlsen/omnicast/internal/supervisor"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	exitSignal  = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return exitConfig
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting Omnicast dispatcher")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		interrupted.Store(true)
		cancel()
	}()

	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		es, err := eventlog.NewEmbeddedServer(eventlog.DefaultServerConfig(cfg.NATS.StoreDir))
		if err != nil {
			logging.Error().Err(err).Msg("Failed to start embedded NATS server")
			return exitFailure
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := es.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
			}
		}()
		natsURL = es.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to connect to Postgres")
		return exitFailure
	}
	defer pool.Close()

	messageStore := store.NewMessageStore(pool)
	if err := messageStore.EnsureSchema(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to ensure database schema")
		return exitFailure
	}

	if err := ensureStream(ctx, cfg, natsURL); err != nil {
		logging.Error().Err(err).Msg("Failed to ensure event stream")
		return exitFailure
	}

	pubCfg := eventlog.DefaultPublisherConfig(natsURL, cfg.NATS.Shards)
	if cfg.NATS.MaxReconnects != 0 {
		pubCfg.MaxReconnects = cfg.NATS.MaxReconnects
	}
	if cfg.NATS.ReconnectWait > 0 {
		pubCfg.ReconnectWait = cfg.NATS.ReconnectWait
	}
	publisher, err := eventlog.NewNATSPublisher(pubCfg, eventlog.NewLoggerAdapter())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create event publisher")
		return exitFailure
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}()

	disp := dispatcher.New(messageStore, publisher, dispatcher.Config{
		PollInterval: cfg.Dispatcher.PollInterval(),
		BatchSize:    cfg.Dispatcher.BatchSize,
		ReclaimAfter: cfg.Dispatcher.ReclaimAfter,
	})

	treeCfg := supervisor.DefaultTreeConfig()
	if grace := cfg.Dispatcher.ShutdownGrace(); grace > 0 {
		treeCfg.ShutdownTimeout = grace
	}
	tree := supervisor.NewTree("omnicast-dispatcher", logging.Logger(), treeCfg)
	tree.AddMessagingService(disp)
	tree.AddAPIService(api.NewOpsServer(cfg.Ops.Port))

	logging.Info().
		Dur("poll_interval", cfg.Dispatcher.PollInterval()).
		Int("batch_size", cfg.Dispatcher.BatchSize).
		Msg("Starting supervisor tree")

	errCh := tree.ServeBackground(ctx)
	failed := false
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
			failed = true
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	switch {
	case interrupted.Load():
		logging.Info().Msg("Stopped on signal")
		return exitSignal
	case failed:
		return exitFailure
	default:
		logging.Info().Msg("Stopped cleanly")
		return exitOK
	}
}

// ensureStream creates or updates the delivery event stream. Idempotent, so
// every process runs it at startup.
func ensureStream(ctx context.Context, cfg *config.Config, natsURL string) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	streamCfg := eventlog.DefaultStreamConfig(cfg.NATS.StreamName)
	if cfg.NATS.RetentionDays > 0 {
		streamCfg.MaxAge = time.Duration(cfg.NATS.RetentionDays) * 24 * time.Hour
	}

	manager, err := eventlog.NewStreamManager(nc, streamCfg)
	if err != nil {
		return err
	}
	_, err = manager.EnsureStream(ctx)
	return err
}
