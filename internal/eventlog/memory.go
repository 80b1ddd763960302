// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package eventlog

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// MemoryLog is an in-process event log backed by watermill's gochannel
// pub/sub. It preserves per-topic ordering like the JetStream log and is
// used by tests and by single-process development runs.
type MemoryLog struct {
	pubsub     *gochannel.GoChannel
	serializer *Serializer
	shards     int
}

// NewMemoryLog creates an in-process log with the given shard count.
func NewMemoryLog(shards int) *MemoryLog {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NopLogger{})

	return &MemoryLog{
		pubsub:     pubsub,
		serializer: NewSerializer(),
		shards:     shards,
	}
}

// PublishEvent serializes and publishes an event to its shard topic.
func (l *MemoryLog) PublishEvent(ctx context.Context, event *Event) error {
	data, err := l.serializer.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.DedupID(), data)
	msg.Metadata.Set(MetadataEventType, event.EventType)
	if event.CorrelationID != "" {
		msg.Metadata.Set(MetadataCorrelationID, event.CorrelationID)
	}

	return l.pubsub.Publish(SubjectFor(event.Payload.MessageID, l.shards), msg)
}

// Subscribe returns a channel of messages for the given shard subject.
func (l *MemoryLog) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return l.pubsub.Subscribe(ctx, topic)
}

// Shards returns the shard count of the log.
func (l *MemoryLog) Shards() int {
	return l.shards
}

// Close shuts down the pub/sub and closes all subscriber channels.
func (l *MemoryLog) Close() error {
	return l.pubsub.Close()
}
