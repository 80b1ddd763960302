// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mkarlsen/omnicast/internal/metrics"
)

// Publisher appends events to the log. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishEvent(ctx context.Context, event *Event) error
	Close() error
}

// NATSPublisher publishes events to JetStream with circuit breaker
// protection. The shard subject is derived from the event's message ID so
// ordering holds per message.
type NATSPublisher struct {
	publisher      message.Publisher
	serializer     *Serializer
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	shards         int
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewNATSPublisher creates a JetStream publisher. The stream must already
// exist; auto-provisioning is disabled.
func NewNATSPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*NATSPublisher, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}
	if cfg.Shards <= 0 {
		return nil, fmt.Errorf("publisher shards must be positive, got %d", cfg.Shards)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created by StreamManager
			TrackMsgId:    true,  // server-side dedup on Nats-Msg-Id
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "eventlog-publisher",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &NATSPublisher{
		publisher:      pub,
		serializer:     NewSerializer(),
		circuitBreaker: cb,
		shards:         cfg.Shards,
		logger:         logger,
	}, nil
}

// PublishEvent serializes and publishes an event to its shard subject.
// The dedup key is stable per logical event so republishes after a
// dispatcher rollback are dropped by the stream duplicate window.
func (p *NATSPublisher) PublishEvent(ctx context.Context, event *Event) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	data, err := p.serializer.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.DedupID(), data)
	msg.Metadata.Set(MetadataEventType, event.EventType)
	if event.CorrelationID != "" {
		msg.Metadata.Set(MetadataCorrelationID, event.CorrelationID)
	}
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	topic := SubjectFor(event.Payload.MessageID, p.shards)

	_, err = p.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType, topic, err)
	}

	metrics.EventsPublished.WithLabelValues(event.EventType).Inc()
	return nil
}

// Close gracefully shuts down the publisher.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}
