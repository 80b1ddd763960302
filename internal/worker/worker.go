// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package worker consumes scheduling events from the log and fans each
// message out to its channel endpoints.
//
// One consumer runs per event log shard, processing that shard's events
// sequentially, so per-message ordering holds. The log is at-least-once:
// every event passes through the idempotency index before any endpoint is
// touched, and per-delivery terminal writes are conditional in the store, so
// a redelivered event can never publish a channel twice.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/eventlog"
	"github.com/mkarlsen/omnicast/internal/idempotency"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/metrics"
	"github.com/mkarlsen/omnicast/internal/router"
)

// Subscriber delivers event log messages for one shard subject.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Store is the slice of the message store the worker uses.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkDelivery(ctx context.Context, messageID uuid.UUID, channel domain.ChannelKind, outcome domain.DeliveryStatus, externalID, reason string) error
}

// Worker consumes scheduling events and records delivery outcomes.
type Worker struct {
	subscribers []Subscriber
	store       Store
	router      router.Router
	index       idempotency.Index
	serializer  *eventlog.Serializer
	logger      zerolog.Logger
}

// New creates a worker. subscribers holds one entry per shard; entry n
// consumes the shard-n subject.
func New(subscribers []Subscriber, st Store, rt router.Router, index idempotency.Index) *Worker {
	return &Worker{
		subscribers: subscribers,
		store:       st,
		router:      rt,
		index:       index,
		serializer:  eventlog.NewSerializer(),
		logger:      logging.WithComponent("worker"),
	}
}

// Serve subscribes every shard consumer and blocks until the context is
// canceled or a subscription breaks. It satisfies suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Info().Int("shards", len(w.subscribers)).Msg("Worker starting")

	g, gctx := errgroup.WithContext(ctx)
	for shard, sub := range w.subscribers {
		topic := eventlog.SubjectForShard(shard)
		msgs, err := sub.Subscribe(gctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe shard %d: %w", shard, err)
		}
		g.Go(func() error {
			return w.consume(gctx, shard, msgs)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	w.logger.Info().Msg("Worker stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (w *Worker) String() string {
	return "worker"
}

// consume drains one shard's message channel. The channel closes when the
// subscriber shuts down or the context is canceled.
func (w *Worker) consume(ctx context.Context, shard int, msgs <-chan *message.Message) error {
	log := w.logger.With().Int("shard", shard).Logger()
	log.Info().Msg("Shard consumer started")

	for msg := range msgs {
		w.Handle(ctx, msg)
	}

	log.Info().Msg("Shard consumer stopped")
	return nil
}

// Handle processes one event log message and acks or nacks it. A nack makes
// the log redeliver; anything redelivery cannot fix is acked instead.
func (w *Worker) Handle(ctx context.Context, msg *message.Message) {
	event, err := w.serializer.Unmarshal(msg.Payload)
	if err != nil {
		metrics.EventsConsumed.WithLabelValues("unknown", "malformed").Inc()
		w.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed event")
		msg.Ack()
		return
	}
	if err := event.Validate(); err != nil {
		metrics.EventsConsumed.WithLabelValues(event.EventType, "rejected").Inc()
		w.logger.Warn().Err(err).Str("event_type", event.EventType).Msg("Dropping invalid event")
		msg.Ack()
		return
	}

	cid := event.CorrelationID
	if cid == "" {
		cid = msg.Metadata.Get(eventlog.MetadataCorrelationID)
	}
	if cid == "" {
		cid = logging.GenerateCorrelationID()
	}
	ctx = logging.ContextWithCorrelationID(ctx, cid)
	log := logging.Ctx(ctx)

	key := idempotency.Key(event.Payload.MessageID, event.Payload.Channels)
	record, err := w.index.CheckAndLock(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("Idempotency check failed")
		msg.Nack()
		return
	}
	if record != nil {
		metrics.IdempotentSkips.Inc()
		metrics.EventsConsumed.WithLabelValues(event.EventType, "duplicate").Inc()
		log.Debug().
			Str("message_id", event.Payload.MessageID).
			Str("record_status", string(record.Status)).
			Msg("Skipping duplicate event")
		msg.Ack()
		return
	}

	if err := w.process(ctx, event); err != nil {
		if markErr := w.index.MarkFailed(ctx, key, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to mark idempotency record failed")
		}
		metrics.EventsConsumed.WithLabelValues(event.EventType, "failed").Inc()
		log.Error().
			Err(err).
			Str("message_id", event.Payload.MessageID).
			Msg("Event processing failed")
		if isPermanent(err) {
			msg.Ack()
		} else {
			msg.Nack()
		}
		return
	}

	if err := w.index.MarkCompleted(ctx, key, map[string]string{
		"message_id": event.Payload.MessageID,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to mark idempotency record completed")
	}
	metrics.EventsConsumed.WithLabelValues(event.EventType, "processed").Inc()
	msg.Ack()
}

// process loads the message, runs the channel fan-out, and records every
// delivery outcome. The store re-derives the aggregate status on each write.
func (w *Worker) process(ctx context.Context, event *eventlog.Event) error {
	id, err := uuid.Parse(event.Payload.MessageID)
	if err != nil {
		return domain.NewError(domain.CategoryValidation,
			fmt.Sprintf("malformed message id %q", event.Payload.MessageID))
	}

	m, err := w.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	log := logging.Ctx(ctx)
	if m.Status.IsTerminal() {
		log.Debug().
			Str("message_id", m.ID.String()).
			Str("status", string(m.Status)).
			Msg("Message already terminal, skipping")
		return nil
	}

	if err := w.store.MarkProcessing(ctx, m.ID); err != nil {
		return err
	}

	res, err := w.router.Publish(ctx, &router.PublishRequest{
		MessageID: m.ID.String(),
		Text:      m.Content.Text,
		MediaRef:  m.Content.MediaRef,
		Recipient: m.RecipientRef,
		Channels:  m.Channels,
	})
	if err != nil {
		return err
	}

	var failed error
	delivered := 0
	for _, r := range res.Results {
		outcome := domain.DeliveryFailed
		reason := r.Error
		if r.Success {
			outcome = domain.DeliveryDelivered
			reason = ""
			delivered++
		}

		err := w.store.MarkDelivery(ctx, m.ID, r.Channel, outcome, r.ExternalID, reason)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrDeliveryFinal):
			// An earlier attempt already recorded this channel.
			log.Debug().
				Str("message_id", m.ID.String()).
				Str("channel", string(r.Channel)).
				Msg("Delivery already recorded")
		default:
			if failed == nil {
				failed = err
			}
		}
	}
	if failed != nil {
		return failed
	}

	log.Info().
		Str("message_id", m.ID.String()).
		Str("event_type", event.EventType).
		Int("delivered", delivered).
		Int("channels", len(res.Results)).
		Msg("Message processed")
	return nil
}

// isPermanent reports whether redelivering the event could not change the
// outcome.
func isPermanent(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	return domain.IsValidation(err) || domain.IsInvariant(err)
}
