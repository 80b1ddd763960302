// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package domain holds the Message aggregate and the value objects shared by
// the intake, dispatcher, and worker processes. All status transitions go
// through aggregate methods so the state machine cannot be bypassed.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the aggregate message status.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusScheduled          Status = "scheduled"
	StatusProcessing         Status = "processing"
	StatusDelivered          Status = "delivered"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusFailed             Status = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusPartiallyDelivered, StatusFailed:
		return true
	}
	return false
}

// DeliveryStatus is the per-channel delivery status.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// IsTerminal reports whether a delivery status is final.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// Delivery tracks the outcome of one channel for one message.
type Delivery struct {
	Channel     ChannelKind    `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
}

// Message is the aggregate root. One delivery record exists per target
// channel for the message's whole lifetime.
type Message struct {
	ID           uuid.UUID      `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Content      MessageContent `json:"content"`
	Channels     []ChannelKind  `json:"channels"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	Status       Status         `json:"status"`
	RecipientRef string         `json:"recipient_ref,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Deliveries   []Delivery     `json:"deliveries"`
}

// NewMessage creates a Draft message with one pending delivery per channel.
// A scheduled_at in the past is valid and means "due immediately".
func NewMessage(ownerID string, content MessageContent, channels []ChannelKind, scheduledAt time.Time, recipientRef string) (*Message, error) {
	if ownerID == "" {
		return nil, NewError(CategoryValidation, "owner id is required")
	}
	if len(channels) == 0 {
		return nil, NewError(CategoryValidation, "at least one target channel is required")
	}
	seen := make(map[ChannelKind]struct{}, len(channels))
	for _, ch := range channels {
		if _, ok := channelKindInfos[ch]; !ok {
			return nil, NewError(CategoryValidation, fmt.Sprintf("unknown channel kind: %q", ch))
		}
		if _, dup := seen[ch]; dup {
			return nil, NewError(CategoryValidation, fmt.Sprintf("duplicate channel kind: %q", ch))
		}
		seen[ch] = struct{}{}
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Content:      content,
		Channels:     channels,
		ScheduledAt:  scheduledAt.UTC(),
		Status:       StatusDraft,
		RecipientRef: recipientRef,
		CreatedAt:    now,
		UpdatedAt:    now,
		Deliveries:   make([]Delivery, len(channels)),
	}
	for i, ch := range channels {
		msg.Deliveries[i] = Delivery{Channel: ch, Status: DeliveryPending}
	}
	return msg, nil
}

// Schedule moves the message from Draft to Scheduled.
func (m *Message) Schedule() error {
	if m.Status != StatusDraft {
		return NewError(CategoryInvariant,
			fmt.Sprintf("cannot schedule message in %s status", m.Status))
	}
	m.Status = StatusScheduled
	m.touch()
	return nil
}

// MarkProcessing moves the message from Scheduled to Processing. The store's
// atomic claim performs the same transition under a row lock; this method is
// the in-memory equivalent.
func (m *Message) MarkProcessing() error {
	if m.Status != StatusScheduled {
		return NewError(CategoryInvariant,
			fmt.Sprintf("cannot mark message processing in %s status", m.Status))
	}
	m.Status = StatusProcessing
	m.touch()
	return nil
}

// MarkChannelDelivered records a successful delivery for one channel and
// re-derives the aggregate status. A delivery already in a terminal status
// is never rewritten.
func (m *Message) MarkChannelDelivered(channel ChannelKind, externalID string) error {
	d := m.findDelivery(channel)
	if d == nil {
		return NewError(CategoryInvariant, fmt.Sprintf("no delivery record for channel %q", channel))
	}
	if d.Status.IsTerminal() {
		return ErrDeliveryFinal
	}
	now := time.Now().UTC()
	d.Status = DeliveryDelivered
	d.DeliveredAt = &now
	d.Error = ""
	d.ExternalID = externalID
	m.deriveStatus()
	return nil
}

// MarkChannelFailed records a failed delivery for one channel and re-derives
// the aggregate status. A delivery already in a terminal status is never
// rewritten.
func (m *Message) MarkChannelFailed(channel ChannelKind, reason string) error {
	d := m.findDelivery(channel)
	if d == nil {
		return NewError(CategoryInvariant, fmt.Sprintf("no delivery record for channel %q", channel))
	}
	if d.Status.IsTerminal() {
		return ErrDeliveryFinal
	}
	d.Status = DeliveryFailed
	d.Error = reason
	m.deriveStatus()
	return nil
}

// findDelivery locates the delivery record for a channel.
func (m *Message) findDelivery(channel ChannelKind) *Delivery {
	for i := range m.Deliveries {
		if m.Deliveries[i].Channel == channel {
			return &m.Deliveries[i]
		}
	}
	return nil
}

// deriveStatus recomputes the aggregate status from the delivery statuses.
func (m *Message) deriveStatus() {
	statuses := make([]DeliveryStatus, len(m.Deliveries))
	for i := range m.Deliveries {
		statuses[i] = m.Deliveries[i].Status
	}
	if derived, ok := DeriveStatus(statuses); ok {
		m.Status = derived
	}
	m.touch()
}

// DeriveStatus computes the aggregate status once every delivery is
// terminal: all delivered reads Delivered, all failed reads Failed, and a
// mix reads PartiallyDelivered. While any delivery is still pending the
// aggregate is unchanged (ok is false), so a message whose fan-out was
// interrupted stays Processing and a redelivered event can finish the
// remaining channels.
func DeriveStatus(statuses []DeliveryStatus) (Status, bool) {
	if len(statuses) == 0 {
		return "", false
	}

	allDelivered, allFailed := true, true
	for _, s := range statuses {
		if s == DeliveryPending {
			return "", false
		}
		if s != DeliveryDelivered {
			allDelivered = false
		}
		if s != DeliveryFailed {
			allFailed = false
		}
	}

	switch {
	case allDelivered:
		return StatusDelivered, true
	case allFailed:
		return StatusFailed, true
	}
	return StatusPartiallyDelivered, true
}

func (m *Message) touch() {
	m.UpdatedAt = time.Now().UTC()
}
