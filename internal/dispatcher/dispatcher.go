// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package dispatcher implements the time-triggered sweep that moves due
// messages from Scheduled to Processing and publishes one scheduling event
// per claimed message.
//
// One logical sweep runs at a time per replica: the sweep executes inline in
// the ticker loop, so a slow sweep delays the next tick instead of
// overlapping with it. Multiple replicas stay disjoint through the store's
// row-locking claim.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkarlsen/omnicast/internal/eventlog"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/metrics"
	"github.com/mkarlsen/omnicast/internal/store"
)

// Store is the slice of the message store the dispatcher uses.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]store.ClaimedMessage, error)
	RollbackToScheduled(ctx context.Context, id uuid.UUID) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher is the slice of the event log the dispatcher uses.
type Publisher interface {
	PublishEvent(ctx context.Context, event *eventlog.Event) error
}

// Config holds sweep loop settings.
type Config struct {
	// PollInterval is the sweep cadence.
	PollInterval time.Duration

	// BatchSize caps how many messages one sweep claims.
	BatchSize int

	// ReclaimAfter is how long a message may sit in Processing before the
	// sweep assumes the claimer crashed and resets it to Scheduled.
	ReclaimAfter time.Duration
}

// DefaultConfig returns the default sweep settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		BatchSize:    100,
		ReclaimAfter: 10 * time.Minute,
	}
}

// Dispatcher periodically claims due messages and publishes their events.
type Dispatcher struct {
	store     Store
	publisher Publisher
	config    Config
	logger    zerolog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a dispatcher.
func New(st Store, publisher Publisher, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ReclaimAfter <= 0 {
		cfg.ReclaimAfter = 10 * time.Minute
	}
	return &Dispatcher{
		store:     st,
		publisher: publisher,
		config:    cfg,
		logger:    logging.WithComponent("dispatcher"),
		now:       time.Now,
	}
}

// Serve runs the sweep loop until the context is canceled. It satisfies
// suture.Service, so a panicking sweep is restarted by the supervisor.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.logger.Info().
		Dur("poll_interval", d.config.PollInterval).
		Int("batch_size", d.config.BatchSize).
		Dur("reclaim_after", d.config.ReclaimAfter).
		Msg("Dispatcher starting")

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	// Sweep immediately so a restart does not wait a full interval.
	d.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			d.Sweep(ctx)
		case <-ctx.Done():
			d.logger.Info().Msg("Dispatcher stopping")
			return ctx.Err()
		}
	}
}

// String names the service in supervisor logs.
func (d *Dispatcher) String() string {
	return "dispatcher"
}

// Sweep runs one claim-and-publish pass. Errors are logged, never returned:
// a failed sweep leaves rows in a recoverable state and the next sweep
// retries.
func (d *Dispatcher) Sweep(ctx context.Context) {
	metrics.DispatchSweeps.Inc()
	now := d.now()

	reclaimed, err := d.store.ReclaimStale(ctx, now.Add(-d.config.ReclaimAfter))
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reclaim stale messages")
	} else if reclaimed > 0 {
		metrics.DispatchReclaimed.Add(float64(reclaimed))
		d.logger.Warn().
			Int64("count", reclaimed).
			Msg("Reclaimed stale Processing messages")
	}

	claimed, err := d.store.ClaimDue(ctx, now, d.config.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to claim due messages")
		return
	}
	if len(claimed) == 0 {
		d.logger.Debug().Msg("No messages due for dispatch")
		return
	}

	metrics.DispatchClaimed.Add(float64(len(claimed)))
	d.logger.Info().Int("count", len(claimed)).Msg("Claimed due messages")

	for _, m := range claimed {
		d.dispatch(ctx, m)
	}
}

// dispatch publishes one scheduling event; on publish failure the claim is
// rolled back so the message is picked up again on a later sweep.
func (d *Dispatcher) dispatch(ctx context.Context, m store.ClaimedMessage) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx)

	event := eventlog.NewEvent(
		eventlog.EventMessageScheduled,
		m.ID.String(),
		m.Channels,
		logging.CorrelationIDFromContext(ctx),
	)

	if err := d.publisher.PublishEvent(ctx, event); err != nil {
		metrics.DispatchRollbacks.Inc()
		log.Error().
			Err(err).
			Str("message_id", m.ID.String()).
			Msg("Event publish failed, rolling claim back")

		if rbErr := d.store.RollbackToScheduled(ctx, m.ID); rbErr != nil {
			// The stale-Processing reclaim recovers the row on a later sweep.
			log.Error().
				Err(rbErr).
				Str("message_id", m.ID.String()).
				Msg("Compensating rollback failed")
		}
		return
	}

	log.Info().
		Str("message_id", m.ID.String()).
		Strs("channels", m.Channels).
		Msg("Dispatched message")
}
