// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package eventlog

import (
	"strconv"
	"time"
)

// PublisherConfig holds publisher connection settings.
type PublisherConfig struct {
	URL             string
	Shards          int
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string, shards int) PublisherConfig {
	return PublisherConfig{
		URL:             url,
		Shards:          shards,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
	}
}

// SubscriberConfig holds durable consumer settings for one shard.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
	// StreamName binds the consumer to the pre-created stream. Required
	// because the subscriber must never auto-provision a stream named
	// after its shard subject.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for a shard consumer.
// SubscribersCount is fixed at 1: a shard is an ordering domain, and a
// second in-process consumer on the same shard would break message order.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "omnicast-worker",
		QueueGroup:       "workers",
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    256,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

// ShardSubscriberConfig derives the per-shard consumer config. Each shard
// gets its own durable so redelivery state is tracked independently.
func ShardSubscriberConfig(base SubscriberConfig, shard int) SubscriberConfig {
	cfg := base
	cfg.DurableName = base.DurableName + "-" + strconv.Itoa(shard)
	cfg.QueueGroup = base.QueueGroup + "-" + strconv.Itoa(shard)
	return cfg
}

// StreamConfig defines the delivery event stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns production stream configuration.
func DefaultStreamConfig(name string) StreamConfig {
	return StreamConfig{
		Name:            name,
		Subjects:        StreamSubjects(),
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        1 << 30, // 1GB
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// ServerConfig holds embedded NATS server settings.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns defaults for the embedded server.
func DefaultServerConfig(storeDir string) ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          storeDir,
		JetStreamMaxMem:   1 << 30,  // 1GB
		JetStreamMaxStore: 10 << 30, // 10GB
	}
}
