// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package eventlog implements the ordered, partitioned event log between the
// dispatcher and the delivery workers. Events are published to JetStream
// subjects sharded by message ID so that all events for one message land on
// the same partition and are consumed in order.
package eventlog

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Event types carried on the log. Consumers must tolerate unknown types by
// acknowledging and skipping them.
const (
	EventMessageScheduled       = "message.scheduled"
	EventCertificationSubmitted = "certification.submitted"
)

// Metadata keys set on published messages.
const (
	MetadataEventType     = "event_type"
	MetadataCorrelationID = "correlation_id"
)

// Payload is the event body shared by all event types.
type Payload struct {
	MessageID string   `json:"message_id"`
	Channels  []string `json:"channels"`
}

// Event is the canonical record published to the log.
type Event struct {
	EventType     string    `json:"event_type"`
	Payload       Payload   `json:"payload"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewEvent creates an event for the given message and channels.
func NewEvent(eventType, messageID string, channels []string, correlationID string) *Event {
	return &Event{
		EventType: eventType,
		Payload: Payload{
			MessageID: messageID,
			Channels:  channels,
		},
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	}
}

// Validate checks required fields before publish or after deserialization.
func (e *Event) Validate() error {
	switch e.EventType {
	case EventMessageScheduled, EventCertificationSubmitted:
	case "":
		return fmt.Errorf("event_type is required")
	default:
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if e.Payload.MessageID == "" {
		return fmt.Errorf("payload.message_id is required")
	}
	if len(e.Payload.Channels) == 0 {
		return fmt.Errorf("payload.channels must not be empty")
	}
	return nil
}

// DedupID returns the deduplication key used as Nats-Msg-Id. It is stable
// across republishes of the same logical event so the stream duplicate
// window can drop repeats.
func (e *Event) DedupID() string {
	return e.EventType + ":" + e.Payload.MessageID
}

// Serializer handles event encoding and decoding for log messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts an event to JSON bytes, validating it first.
func (s *Serializer) Marshal(event *Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return data, nil
}

// Unmarshal converts JSON bytes to an event.
func (s *Serializer) Unmarshal(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	return &event, nil
}
