// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package main is the entry point for the Omnicast intake process.
//
// Intake owns the write-side HTTP API: it validates schedule and
// certification requests, persists the message aggregate to Postgres, and
// publishes the scheduling event when the message is already due. Future
// messages are left for the dispatcher sweep.
//
// Configuration is loaded via koanf with layered sources (highest wins):
// environment variables, an optional YAML config file, built-in defaults.
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
	"github.com/mkarlsen/omnicast/internal/command"
	"github.com/mkarlsen/omnicast/internal/config"
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
	logging.Info().Msg("Starting Omnicast intake")

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
		serverCfg := eventlog.DefaultServerConfig(cfg.NATS.StoreDir)
		es, err := eventlog.NewEmbeddedServer(serverCfg)
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
	logging.Info().Msg("Database ready")

	if err := ensureStream(ctx, cfg, natsURL); err != nil {
		logging.Error().Err(err).Msg("Failed to ensure event stream")
		return exitFailure
	}

	publisher, err := eventlog.NewNATSPublisher(
		publisherConfig(cfg, natsURL), eventlog.NewLoggerAdapter())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create event publisher")
		return exitFailure
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}()

	service := command.NewService(messageStore, publisher)
	server := api.NewServer(service, api.Config{
		Host:          cfg.Intake.Host,
		Port:          cfg.Intake.Port,
		Timeout:       cfg.Intake.Timeout,
		ShutdownGrace: cfg.Intake.ShutdownGrace(),
	})

	treeCfg := supervisor.DefaultTreeConfig()
	if grace := cfg.Intake.ShutdownGrace(); grace > 0 {
		treeCfg.ShutdownTimeout = grace
	}
	tree := supervisor.NewTree("omnicast-intake", logging.Logger(), treeCfg)
	tree.AddAPIService(server)

	logging.Info().
		Str("host", cfg.Intake.Host).
		Int("port", cfg.Intake.Port).
		Msg("Starting supervisor tree")
	return waitForTree(ctx, tree, &interrupted)
}

// publisherConfig applies the NATS overrides from the loaded configuration
// onto the publisher defaults.
func publisherConfig(cfg *config.Config, natsURL string) eventlog.PublisherConfig {
	pubCfg := eventlog.DefaultPublisherConfig(natsURL, cfg.NATS.Shards)
	if cfg.NATS.MaxReconnects != 0 {
		pubCfg.MaxReconnects = cfg.NATS.MaxReconnects
	}
	if cfg.NATS.ReconnectWait > 0 {
		pubCfg.ReconnectWait = cfg.NATS.ReconnectWait
	}
	return pubCfg
}

// ensureStream creates or updates the delivery event stream. Every process
// runs this at startup; the operation is idempotent, so ownership does not
// matter.
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

// waitForTree runs the supervisor tree until the context is canceled or the
// tree stops on its own, then maps the outcome onto an exit code.
func waitForTree(ctx context.Context, tree *supervisor.Tree, interrupted *atomic.Bool) int {
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
