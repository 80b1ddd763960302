// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/omnicast/config.yaml",
	"/etc/omnicast/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied. These are
// overridden first by the config file and then by environment variables.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			URL:      "",
			MaxConns: 8,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/omnicast/jetstream",
			StreamName:     "OMNICAST",
			Shards:         4,
			DurableName:    "omnicast-worker",
			QueueGroup:     "workers",
			RetentionDays:  7,
			AckWaitTimeout: 30 * time.Second,
			MaxReconnects:  60,
			ReconnectWait:  2 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			PollIntervalSeconds:  60,
			BatchSize:            100,
			ReclaimAfter:         10 * time.Minute,
			ShutdownGraceSeconds: 10,
		},
		Worker: WorkerConfig{
			IdempotencyTTLSeconds:   86400,
			IdempotencyStaleSeconds: 300,
			ShutdownGraceSeconds:    30,
		},
		Router: RouterConfig{
			UseAIRouter: false,
			Model:       "claude-sonnet-4-5",
			MaxTokens:   2048,
			Parallelism: 4,
		},
		Guardrail: GuardrailConfig{
			StrictMode: false,
		},
		Intake: IntakeConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			Timeout:              30 * time.Second,
			ShutdownGraceSeconds: 10,
		},
		Ops: OpsConfig{
			Port: 9090,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// Load loads configuration with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file. The CONFIG_PATH environment
// variable wins over the default search paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment noise cannot leak
// into the configuration.
//
// Examples:
//   - DATABASE_URL -> database.url
//   - POLL_INTERVAL_SECONDS -> dispatcher.poll_interval_seconds
//   - USE_AI_ROUTER -> router.use_ai_router
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Database
		"database_url":       "database.url",
		"database_max_conns": "database.max_conns",

		// NATS / event log
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_stream_name":    "nats.stream_name",
		"nats_shards":         "nats.shards",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_retention_days": "nats.stream_retention_days",
		"nats_ack_wait":       "nats.ack_wait_timeout",
		"nats_max_reconnects": "nats.max_reconnects",
		"nats_reconnect_wait": "nats.reconnect_wait",

		// Dispatcher
		"poll_interval_seconds":              "dispatcher.poll_interval_seconds",
		"batch_size":                         "dispatcher.batch_size",
		"dispatcher_reclaim_after":           "dispatcher.reclaim_after",
		"dispatcher_shutdown_grace_seconds":  "dispatcher.shutdown_grace_seconds",

		// Worker
		"idempotency_ttl_seconds":       "worker.idempotency_ttl_seconds",
		"idempotency_stale_seconds":     "worker.idempotency_stale_seconds",
		"worker_shutdown_grace_seconds": "worker.shutdown_grace_seconds",

		// Router
		"use_ai_router":      "router.use_ai_router",
		"anthropic_api_key":  "router.anthropic_api_key",
		"router_model":       "router.model",
		"router_max_tokens":  "router.max_tokens",
		"router_parallelism": "router.parallelism",

		// Guardrail
		"guardrail_strict_mode": "guardrail.strict_mode",

		// Intake
		"http_host":                     "intake.host",
		"http_port":                     "intake.port",
		"http_timeout":                  "intake.timeout",
		"intake_shutdown_grace_seconds": "intake.shutdown_grace_seconds",

		// Ops
		"ops_port": "ops.port",

		// AWS
		"aws_region":       "aws.region",
		"aws_endpoint_url": "aws.endpoint_url",

		// Channels
		"whatsapp_access_token":         "channels.whatsapp.access_token",
		"whatsapp_phone_number_id":      "channels.whatsapp.phone_number_id",
		"facebook_access_token":         "channels.facebook.access_token",
		"facebook_page_id":              "channels.facebook.page_id",
		"instagram_access_token":        "channels.instagram.access_token",
		"instagram_business_account_id": "channels.instagram.business_account_id",
		"linkedin_access_token":         "channels.linkedin.access_token",
		"linkedin_organization_id":      "channels.linkedin.organization_id",
		"email_sender":                  "channels.email.sender",
		"sms_sender_id":                 "channels.sms.sender_id",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
