// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package eventlog

import (
	"context"
	"testing"
	"time"
)

func TestShardForIsDeterministic(t *testing.T) {
	const shards = 4
	id := "0d3adf52-9c41-4a6b-8f1e-2b7c0a9d11e3"

	first := ShardFor(id, shards)
	for i := 0; i < 100; i++ {
		if got := ShardFor(id, shards); got != first {
			t.Fatalf("ShardFor changed between calls: %d then %d", first, got)
		}
	}
	if first < 0 || first >= shards {
		t.Errorf("shard %d out of range [0,%d)", first, shards)
	}
}

func TestShardForSpreadsKeys(t *testing.T) {
	const shards = 4
	seen := make(map[int]bool)
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for _, id := range ids {
		seen[ShardFor(id, shards)] = true
	}
	// fnv should not collapse a dozen distinct keys onto one shard
	if len(seen) < 2 {
		t.Errorf("all %d keys hashed to a single shard", len(ids))
	}
}

func TestSubjectNaming(t *testing.T) {
	if got := SubjectForShard(3); got != "messages.scheduled.3" {
		t.Errorf("SubjectForShard(3) = %q", got)
	}
	subjects := StreamSubjects()
	if len(subjects) != 1 || subjects[0] != "messages.scheduled.*" {
		t.Errorf("StreamSubjects() = %v", subjects)
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			"scheduled event",
			NewEvent(EventMessageScheduled, "m-1", []string{"email"}, "abc123"),
			false,
		},
		{
			"certification event",
			NewEvent(EventCertificationSubmitted, "m-2", []string{"linkedin", "facebook"}, ""),
			false,
		},
		{
			"missing type",
			&Event{Payload: Payload{MessageID: "m-3", Channels: []string{"sms"}}},
			true,
		},
		{
			"unknown type",
			NewEvent("message.deleted", "m-4", []string{"sms"}, ""),
			true,
		},
		{
			"missing message id",
			NewEvent(EventMessageScheduled, "", []string{"sms"}, ""),
			true,
		},
		{
			"no channels",
			NewEvent(EventMessageScheduled, "m-5", nil, ""),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	s := NewSerializer()
	event := NewEvent(EventMessageScheduled, "m-42", []string{"whatsapp", "email"}, "c0ffee11")

	data, err := s.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.EventType != EventMessageScheduled {
		t.Errorf("event_type = %q", got.EventType)
	}
	if got.Payload.MessageID != "m-42" {
		t.Errorf("message_id = %q", got.Payload.MessageID)
	}
	if len(got.Payload.Channels) != 2 || got.Payload.Channels[0] != "whatsapp" {
		t.Errorf("channels = %v", got.Payload.Channels)
	}
	if got.CorrelationID != "c0ffee11" {
		t.Errorf("correlation_id = %q", got.CorrelationID)
	}
}

func TestSerializerRejectsInvalidEvent(t *testing.T) {
	s := NewSerializer()
	if _, err := s.Marshal(&Event{EventType: EventMessageScheduled}); err == nil {
		t.Fatal("Marshal should reject an event without message_id")
	}
}

func TestDedupIDStableAcrossRepublish(t *testing.T) {
	a := NewEvent(EventMessageScheduled, "m-7", []string{"sms"}, "aaa")
	time.Sleep(time.Millisecond)
	b := NewEvent(EventMessageScheduled, "m-7", []string{"sms"}, "bbb")

	if a.DedupID() != b.DedupID() {
		t.Errorf("dedup ids differ: %q vs %q", a.DedupID(), b.DedupID())
	}
	if a.DedupID() == NewEvent(EventCertificationSubmitted, "m-7", []string{"sms"}, "").DedupID() {
		t.Error("different event types must not share a dedup id")
	}
}

func TestMemoryLogDeliversInOrder(t *testing.T) {
	log := NewMemoryLog(1)
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := log.Subscribe(ctx, SubjectForShard(0))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ids := []string{"m-1", "m-2", "m-3"}
	for _, id := range ids {
		if err := log.PublishEvent(ctx, NewEvent(EventMessageScheduled, id, []string{"email"}, "")); err != nil {
			t.Fatalf("PublishEvent(%s): %v", id, err)
		}
	}

	s := NewSerializer()
	for _, want := range ids {
		select {
		case msg := <-msgs:
			event, err := s.Unmarshal(msg.Payload)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if event.Payload.MessageID != want {
				t.Errorf("message_id = %q, want %q", event.Payload.MessageID, want)
			}
			if msg.Metadata.Get(MetadataEventType) != EventMessageScheduled {
				t.Errorf("event_type metadata = %q", msg.Metadata.Get(MetadataEventType))
			}
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("timed out waiting for message")
		}
	}
}
