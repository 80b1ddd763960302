// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package command exposes the typed operations behind the intake HTTP
// surface: schedule a message, fetch one, list channel kinds, and submit a
// certification announcement.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/eventlog"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/metrics"
	"github.com/mkarlsen/omnicast/internal/validation"
)

// Store is the slice of the message store the service uses.
type Store interface {
	Save(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Message, error)
}

// Publisher is the slice of the event log the service uses.
type Publisher interface {
	PublishEvent(ctx context.Context, event *eventlog.Event) error
}

// ScheduleCommand is the validated input for Schedule.
type ScheduleCommand struct {
	// Text carries no length tag: the content cap is counted in runes after
	// trimming, which NewMessageContent enforces.
	OwnerID      string    `validate:"required"`
	Text         string    `validate:"required"`
	MediaRef     string    `validate:"omitempty,media_ref"`
	Channels     []string  `validate:"required,min=1,dive,channel_kind"`
	ScheduledAt  time.Time `validate:"required"`
	RecipientRef string
}

// CertificationCommand is the validated input for SubmitCertification.
// A zero ScheduledAt means announce immediately.
type CertificationCommand struct {
	OwnerID           string   `validate:"required"`
	MemberName        string   `validate:"required"`
	CertificationType string   `validate:"required"`
	Channels          []string `validate:"required,min=1,dive,channel_kind"`
	ScheduledAt       time.Time
	MediaRef          string `validate:"omitempty,media_ref"`
	RecipientRef      string
}

// Service implements the intake operations.
type Service struct {
	store     Store
	publisher Publisher

	// now is replaceable for tests.
	now func() time.Time
}

// NewService creates the command service.
func NewService(st Store, publisher Publisher) *Service {
	return &Service{
		store:     st,
		publisher: publisher,
		now:       time.Now,
	}
}

// Schedule validates the command, persists the message with its pending
// deliveries in one transaction, and publishes the scheduling event when the
// message is already due. Future messages are left for the dispatcher sweep.
//
// A publish failure after the commit is not an error: the message is durable
// in Scheduled status and the dispatcher re-publishes on its next sweep.
func (s *Service) Schedule(ctx context.Context, cmd ScheduleCommand) (uuid.UUID, error) {
	if err := validation.Struct(cmd); err != nil {
		return uuid.Nil, err
	}

	content, err := domain.NewMessageContent(cmd.Text, cmd.MediaRef)
	if err != nil {
		return uuid.Nil, err
	}
	kinds, err := domain.NormalizeChannels(cmd.Channels)
	if err != nil {
		return uuid.Nil, err
	}

	msg, err := domain.NewMessage(cmd.OwnerID, content, kinds, cmd.ScheduledAt, cmd.RecipientRef)
	if err != nil {
		return uuid.Nil, err
	}
	if err := msg.Schedule(); err != nil {
		return uuid.Nil, err
	}

	if err := s.store.Save(ctx, msg); err != nil {
		return uuid.Nil, fmt.Errorf("save message: %w", err)
	}
	metrics.MessagesScheduled.Inc()

	s.publishIfDue(ctx, eventlog.EventMessageScheduled, msg)

	logging.Ctx(ctx).Info().
		Str("message_id", msg.ID.String()).
		Str("owner_id", msg.OwnerID).
		Strs("channels", domain.ChannelStrings(msg.Channels)).
		Time("scheduled_at", msg.ScheduledAt).
		Msg("Message scheduled")
	return msg.ID, nil
}

// Get returns a message only to its owner. A missing message and a foreign
// message are indistinguishable: both return ErrNotFound.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.Message, error) {
	if ownerID == "" {
		return nil, domain.ErrNotFound
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		// Malformed IDs read as not found, same as unknown ones.
		return nil, domain.ErrNotFound
	}
	return s.store.Get(ctx, uid, ownerID)
}

// ListChannelKinds returns the per-channel contract metadata.
func (s *Service) ListChannelKinds() []domain.ChannelKindInfo {
	return domain.ListChannelKindInfos()
}

// SubmitCertification renders a certification announcement and runs it
// through the same schedule-persist-publish path as a regular message.
func (s *Service) SubmitCertification(ctx context.Context, cmd CertificationCommand) (uuid.UUID, error) {
	if err := validation.Struct(cmd); err != nil {
		return uuid.Nil, err
	}

	text := fmt.Sprintf("Congratulations to %s on earning the %s certification!",
		cmd.MemberName, cmd.CertificationType)
	content, err := domain.NewMessageContent(text, cmd.MediaRef)
	if err != nil {
		return uuid.Nil, err
	}
	kinds, err := domain.NormalizeChannels(cmd.Channels)
	if err != nil {
		return uuid.Nil, err
	}

	scheduledAt := cmd.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.now()
	}

	msg, err := domain.NewMessage(cmd.OwnerID, content, kinds, scheduledAt, cmd.RecipientRef)
	if err != nil {
		return uuid.Nil, err
	}
	if err := msg.Schedule(); err != nil {
		return uuid.Nil, err
	}

	if err := s.store.Save(ctx, msg); err != nil {
		return uuid.Nil, fmt.Errorf("save certification announcement: %w", err)
	}
	metrics.MessagesScheduled.Inc()

	s.publishIfDue(ctx, eventlog.EventCertificationSubmitted, msg)

	logging.Ctx(ctx).Info().
		Str("message_id", msg.ID.String()).
		Str("certification_type", cmd.CertificationType).
		Msg("Certification announcement scheduled")
	return msg.ID, nil
}

// publishIfDue publishes the scheduling event for messages that are already
// due. Messages scheduled for the future are dispatched by the sweep at
// their scheduled time, so publishing early would deliver early.
func (s *Service) publishIfDue(ctx context.Context, eventType string, msg *domain.Message) {
	if msg.ScheduledAt.After(s.now()) {
		return
	}

	event := eventlog.NewEvent(
		eventType,
		msg.ID.String(),
		domain.ChannelStrings(msg.Channels),
		logging.CorrelationIDFromContext(ctx),
	)
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		// Recoverable: the message is committed in Scheduled status and the
		// dispatcher sweep re-publishes it.
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("message_id", msg.ID.String()).
			Msg("Event publish failed, deferring to dispatcher sweep")
	}
}
