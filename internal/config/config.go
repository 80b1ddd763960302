// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package config loads and validates process configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables, with environment taking the highest precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration shared by all three processes. Each
// process reads only the sections it needs.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Worker     WorkerConfig     `koanf:"worker"`
	Router     RouterConfig     `koanf:"router"`
	Guardrail  GuardrailConfig  `koanf:"guardrail"`
	Intake     IntakeConfig     `koanf:"intake"`
	Ops        OpsConfig        `koanf:"ops"`
	AWS        AWSConfig        `koanf:"aws"`
	Channels   ChannelsConfig   `koanf:"channels"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// NATSConfig holds event log settings.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	StreamName     string        `koanf:"stream_name"`
	Shards         int           `koanf:"shards"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	RetentionDays  int           `koanf:"stream_retention_days"`
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// DispatcherConfig controls the sweep loop.
type DispatcherConfig struct {
	PollIntervalSeconds  int           `koanf:"poll_interval_seconds"`
	BatchSize            int           `koanf:"batch_size"`
	ReclaimAfter         time.Duration `koanf:"reclaim_after"`
	ShutdownGraceSeconds int           `koanf:"shutdown_grace_seconds"`
}

// PollInterval returns the sweep interval as a duration.
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ShutdownGrace returns the dispatcher shutdown grace as a duration.
func (c DispatcherConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// WorkerConfig controls the delivery worker.
type WorkerConfig struct {
	IdempotencyTTLSeconds   int `koanf:"idempotency_ttl_seconds"`
	IdempotencyStaleSeconds int `koanf:"idempotency_stale_seconds"`
	ShutdownGraceSeconds    int `koanf:"shutdown_grace_seconds"`
}

// IdempotencyTTL returns the idempotency record retention as a duration.
func (c WorkerConfig) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

// IdempotencyStale returns the processing-lock staleness window.
func (c WorkerConfig) IdempotencyStale() time.Duration {
	return time.Duration(c.IdempotencyStaleSeconds) * time.Second
}

// ShutdownGrace returns the worker shutdown grace as a duration.
func (c WorkerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// RouterConfig selects the routing variant.
type RouterConfig struct {
	UseAIRouter     bool   `koanf:"use_ai_router"`
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	Model           string `koanf:"model"`
	MaxTokens       int64  `koanf:"max_tokens"`
	Parallelism     int    `koanf:"parallelism"`
}

// GuardrailConfig controls the content filter.
type GuardrailConfig struct {
	StrictMode bool `koanf:"strict_mode"`
}

// IntakeConfig holds the intake HTTP listener settings.
type IntakeConfig struct {
	Host                 string        `koanf:"host"`
	Port                 int           `koanf:"port"`
	Timeout              time.Duration `koanf:"timeout"`
	ShutdownGraceSeconds int           `koanf:"shutdown_grace_seconds"`
}

// ShutdownGrace returns the intake shutdown grace as a duration.
func (c IntakeConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// OpsConfig holds the metrics/health listener settings for the dispatcher
// and worker processes.
type OpsConfig struct {
	Port int `koanf:"port"`
}

// AWSConfig holds settings shared by the SES and SNS adapters.
type AWSConfig struct {
	Region      string `koanf:"region"`
	EndpointURL string `koanf:"endpoint_url"`
}

// ChannelsConfig holds per-channel credentials and identities.
type ChannelsConfig struct {
	WhatsApp  WhatsAppConfig  `koanf:"whatsapp"`
	Facebook  FacebookConfig  `koanf:"facebook"`
	Instagram InstagramConfig `koanf:"instagram"`
	LinkedIn  LinkedInConfig  `koanf:"linkedin"`
	Email     EmailConfig     `koanf:"email"`
	SMS       SMSConfig       `koanf:"sms"`
}

// WhatsAppConfig holds WhatsApp Business API settings.
type WhatsAppConfig struct {
	AccessToken   string `koanf:"access_token"`
	PhoneNumberID string `koanf:"phone_number_id"`
}

// FacebookConfig holds Facebook Page settings.
type FacebookConfig struct {
	AccessToken string `koanf:"access_token"`
	PageID      string `koanf:"page_id"`
}

// InstagramConfig holds Instagram business account settings.
type InstagramConfig struct {
	AccessToken       string `koanf:"access_token"`
	BusinessAccountID string `koanf:"business_account_id"`
}

// LinkedInConfig holds LinkedIn organization page settings.
type LinkedInConfig struct {
	AccessToken    string `koanf:"access_token"`
	OrganizationID string `koanf:"organization_id"`
}

// EmailConfig holds the SES sender identity.
type EmailConfig struct {
	Sender string `koanf:"sender"`
}

// SMSConfig holds the SNS sender settings.
type SMSConfig struct {
	SenderID string `koanf:"sender_id"`
}

// Validate checks cross-field constraints. A failure here makes the process
// exit with code 2.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be positive")
	}
	if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url is required when the embedded server is disabled")
	}
	if c.NATS.Shards <= 0 {
		return fmt.Errorf("nats.shards must be positive")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name is required")
	}
	if c.Dispatcher.PollIntervalSeconds <= 0 {
		return fmt.Errorf("dispatcher.poll_interval_seconds must be positive")
	}
	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher.batch_size must be positive")
	}
	if c.Worker.IdempotencyTTLSeconds <= 0 {
		return fmt.Errorf("worker.idempotency_ttl_seconds must be positive")
	}
	if c.Worker.IdempotencyStaleSeconds <= 0 {
		return fmt.Errorf("worker.idempotency_stale_seconds must be positive")
	}
	if c.Worker.IdempotencyStaleSeconds >= c.Worker.IdempotencyTTLSeconds {
		return fmt.Errorf("worker.idempotency_stale_seconds must be below worker.idempotency_ttl_seconds")
	}
	if c.Intake.Port <= 0 || c.Intake.Port > 65535 {
		return fmt.Errorf("intake.port must be in range 1-65535")
	}
	if c.Ops.Port <= 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be in range 1-65535")
	}
	if c.Router.UseAIRouter && c.Router.AnthropicAPIKey == "" {
		return fmt.Errorf("router.anthropic_api_key is required when router.use_ai_router is enabled")
	}
	if c.Router.Parallelism <= 0 {
		return fmt.Errorf("router.parallelism must be positive")
	}
	return nil
}
