// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package main is the entry point for the Omnicast delivery worker.
//
// The worker consumes scheduling events shard by shard, runs each message
// through the guardrail and the channel router, and records per-channel
// delivery outcomes. Redelivered events are absorbed by the idempotency
// index, so a crash between send and ack cannot double-deliver.
//
// The router comes in two variants selected by configuration: the direct
// router fans out to the channel adapters with a worker pool, the agent
// router lets a model adapt the content per platform and drive the adapters
// through tools.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/nats-io/nats.go"

	"github.com/mkarlsen/omnicast/internal/api"
	"github.com/mkarlsen/omnicast/internal/channels"
	"github.com/mkarlsen/omnicast/internal/config"
	"github.com/mkarlsen/omnicast/internal/eventlog"
	"github.com/mkarlsen/omnicast/internal/guardrail"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/router"
	"github.com/mkarlsen/omnicast/internal/store"
	"github.com/mkarlsen/omnicast/internal/supervisor"
	"github.com/mkarlsen/omnicast/internal/worker"
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
	logging.Info().Int("shards", cfg.NATS.Shards).Msg("Starting Omnicast worker")

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

	subscribers, closeSubscribers, err := buildSubscribers(cfg, natsURL)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create shard subscribers")
		return exitFailure
	}
	defer closeSubscribers()

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to build channel registry")
		return exitFailure
	}

	filter := guardrail.New(cfg.Guardrail.StrictMode)

	var rt router.Router
	if cfg.Router.UseAIRouter {
		rt = router.NewAgent(
			router.NewAnthropicClient(cfg.Router.AnthropicAPIKey),
			registry, filter,
			router.AgentConfig{Model: cfg.Router.Model, MaxTokens: cfg.Router.MaxTokens})
		logging.Info().Str("model", cfg.Router.Model).Msg("Agent router enabled")
	} else {
		rt = router.NewDirect(registry, filter, cfg.Router.Parallelism)
		logging.Info().Int("parallelism", cfg.Router.Parallelism).Msg("Direct router enabled")
	}

	index := store.NewIdempotencyIndex(pool,
		cfg.Worker.IdempotencyTTL(), cfg.Worker.IdempotencyStale())

	w := worker.New(subscribers, messageStore, rt, index)

	treeCfg := supervisor.DefaultTreeConfig()
	if grace := cfg.Worker.ShutdownGrace(); grace > 0 {
		treeCfg.ShutdownTimeout = grace
	}
	tree := supervisor.NewTree("omnicast-worker", logging.Logger(), treeCfg)
	tree.AddMessagingService(w)
	tree.AddAPIService(api.NewOpsServer(cfg.Ops.Port))

	logging.Info().Msg("Starting supervisor tree")
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

// buildSubscribers creates one durable shard consumer per shard. The slice
// index is the shard number; the worker subscribes index i to shard i's
// subject.
func buildSubscribers(cfg *config.Config, natsURL string) ([]worker.Subscriber, func(), error) {
	base := eventlog.DefaultSubscriberConfig(natsURL)
	base.StreamName = cfg.NATS.StreamName
	if cfg.NATS.DurableName != "" {
		base.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		base.QueueGroup = cfg.NATS.QueueGroup
	}
	if cfg.NATS.AckWaitTimeout > 0 {
		base.AckWaitTimeout = cfg.NATS.AckWaitTimeout
	}
	if cfg.NATS.MaxReconnects != 0 {
		base.MaxReconnects = cfg.NATS.MaxReconnects
	}
	if cfg.NATS.ReconnectWait > 0 {
		base.ReconnectWait = cfg.NATS.ReconnectWait
	}

	adapter := eventlog.NewLoggerAdapter()
	natsSubs := make([]*eventlog.NATSSubscriber, 0, cfg.NATS.Shards)
	subscribers := make([]worker.Subscriber, 0, cfg.NATS.Shards)
	closeAll := func() {
		for _, sub := range natsSubs {
			if err := sub.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing shard subscriber")
			}
		}
	}

	for shard := 0; shard < cfg.NATS.Shards; shard++ {
		sub, err := eventlog.NewNATSSubscriber(eventlog.ShardSubscriberConfig(base, shard), adapter)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		natsSubs = append(natsSubs, sub)
		subscribers = append(subscribers, sub)
	}
	return subscribers, closeAll, nil
}

// buildRegistry wires all six channel adapters from configuration. SES and
// SNS share the ambient AWS credential chain; the endpoint override points
// both at a local stack during development.
func buildRegistry(ctx context.Context, cfg *config.Config) (*channels.Registry, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, err
	}

	sesClient := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	return channels.NewRegistry(
		channels.NewWhatsApp(channels.WhatsAppConfig{
			AccessToken:   cfg.Channels.WhatsApp.AccessToken,
			PhoneNumberID: cfg.Channels.WhatsApp.PhoneNumberID,
		}),
		channels.NewFacebook(channels.FacebookConfig{
			AccessToken: cfg.Channels.Facebook.AccessToken,
			PageID:      cfg.Channels.Facebook.PageID,
		}),
		channels.NewInstagram(channels.InstagramConfig{
			AccessToken:       cfg.Channels.Instagram.AccessToken,
			BusinessAccountID: cfg.Channels.Instagram.BusinessAccountID,
		}),
		channels.NewLinkedIn(channels.LinkedInConfig{
			AccessToken:    cfg.Channels.LinkedIn.AccessToken,
			OrganizationID: cfg.Channels.LinkedIn.OrganizationID,
		}),
		channels.NewEmail(sesClient, channels.EmailConfig{
			Sender: cfg.Channels.Email.Sender,
		}),
		channels.NewSMS(snsClient, channels.SMSConfig{
			SenderID: cfg.Channels.SMS.SenderID,
		}),
	), nil
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
