// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package store persists messages, per-channel deliveries, and idempotency
// records in Postgres. The dispatcher's atomic claim and the terminal-write
// protection on deliveries both live here, expressed as conditional SQL so
// concurrent processes cannot race past them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/logging"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MessageStore is the Postgres-backed message repository.
type MessageStore struct {
	db DB
}

// NewMessageStore creates a store on the given connection pool.
func NewMessageStore(db DB) *MessageStore {
	return &MessageStore{db: db}
}

// Connect opens a pgx pool with the configured limits and verifies the
// connection with a ping.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	storeLog := logging.WithComponent("store")
	storeLog.Info().
		Int32("max_conns", maxConns).
		Msg("database connection established")
	return pool, nil
}

// Save inserts a message and its delivery records in one transaction.
func (s *MessageStore) Save(ctx context.Context, m *domain.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO messages
			(id, owner_id, content_text, media_ref, recipient_ref,
			 scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.OwnerID, m.Content.Text, m.Content.MediaRef, m.RecipientRef,
		m.ScheduledAt, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	// The ordinal preserves the caller's channel order so reads rebuild the
	// delivery list exactly as it was written.
	for i, d := range m.Deliveries {
		_, err = tx.Exec(ctx, `
			INSERT INTO channel_deliveries
				(message_id, channel, ordinal, status, delivered_at, error, external_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, d.Channel, i, d.Status, d.DeliveredAt, d.Error, d.ExternalID)
		if err != nil {
			return fmt.Errorf("insert delivery %s: %w", d.Channel, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Get fetches a message scoped to its owner. A missing row and a row owned
// by someone else are indistinguishable to the caller: both read as
// ErrNotFound.
func (s *MessageStore) Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Message, error) {
	return s.fetch(ctx, `
		SELECT id, owner_id, content_text, media_ref, recipient_ref,
		       scheduled_at, status, created_at, updated_at
		FROM messages
		WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

// GetByID fetches a message without owner scoping. Internal callers only;
// the intake API always goes through Get.
func (s *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return s.fetch(ctx, `
		SELECT id, owner_id, content_text, media_ref, recipient_ref,
		       scheduled_at, status, created_at, updated_at
		FROM messages
		WHERE id = $1`, id)
}

func (s *MessageStore) fetch(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT channel, status, delivered_at, error, external_id
		FROM channel_deliveries
		WHERE message_id = $1
		ORDER BY ordinal`, m.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		m.Deliveries = append(m.Deliveries, d)
		m.Channels = append(m.Channels, d.Channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return m, nil
}

// rowScanner is the single-row scan surface shared by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.OwnerID, &m.Content.Text, &m.Content.MediaRef,
		&m.RecipientRef, &m.ScheduledAt, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanDelivery(row rowScanner) (domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(&d.Channel, &d.Status, &d.DeliveredAt, &d.Error, &d.ExternalID)
	return d, err
}

// ClaimedMessage is one message atomically moved to Processing by ClaimDue.
type ClaimedMessage struct {
	ID       uuid.UUID
	Channels []string
}

// ClaimDue atomically claims up to limit due messages: rows still in
// Scheduled with scheduled_at at or before now move to Processing under a
// row lock. SKIP LOCKED lets concurrent dispatchers claim disjoint sets, so
// no message is ever handed out twice.
func (s *MessageStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ClaimedMessage, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.Query(ctx, `
		SELECT id
		FROM messages
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		domain.StatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due messages: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE messages
		SET status = $1, updated_at = $2
		WHERE id = ANY($3)`,
		domain.StatusProcessing, now.UTC(), ids)
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	channelRows, err := tx.Query(ctx, `
		SELECT message_id, channel
		FROM channel_deliveries
		WHERE message_id = ANY($1)
		ORDER BY message_id, channel`, ids)
	if err != nil {
		return nil, fmt.Errorf("select claimed channels: %w", err)
	}

	channelsByID := make(map[uuid.UUID][]string, len(ids))
	for channelRows.Next() {
		var id uuid.UUID
		var channel string
		if err := channelRows.Scan(&id, &channel); err != nil {
			channelRows.Close()
			return nil, fmt.Errorf("scan claimed channel: %w", err)
		}
		channelsByID[id] = append(channelsByID[id], channel)
	}
	channelRows.Close()
	if err := channelRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed channels: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	claimed := make([]ClaimedMessage, 0, len(ids))
	for _, id := range ids {
		claimed = append(claimed, ClaimedMessage{ID: id, Channels: channelsByID[id]})
	}
	return claimed, nil
}

// RollbackToScheduled compensates a failed event publish by moving a claimed
// message back to Scheduled so a later sweep retries it. A no-op if the
// message has already progressed past Processing.
func (s *MessageStore) RollbackToScheduled(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.StatusScheduled, time.Now().UTC(), id, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("rollback to scheduled: %w", err)
	}
	return nil
}

// MarkProcessing transitions a message from Scheduled to Processing. A
// message already in Processing is left untouched, so redelivered events are
// safe to process. Rows in any other status are not updated.
func (s *MessageStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $1)`,
		domain.StatusProcessing, time.Now().UTC(), id, domain.StatusScheduled)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// ReclaimStale moves messages stuck in Processing since before the cutoff
// back to Scheduled. Covers dispatcher crashes between claim and publish.
func (s *MessageStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4`,
		domain.StatusScheduled, time.Now().UTC(), domain.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkDelivery records a terminal outcome for one channel of one message and
// re-derives the aggregate status. A delivery already in a terminal status is
// never rewritten; attempting to do so returns ErrDeliveryFinal.
func (s *MessageStore) MarkDelivery(ctx context.Context, messageID uuid.UUID, channel domain.ChannelKind, outcome domain.DeliveryStatus, externalID, reason string) error {
	if !outcome.IsTerminal() {
		return domain.NewError(domain.CategoryInvariant,
			fmt.Sprintf("delivery outcome must be terminal, got %q", outcome))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark delivery: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()
	var deliveredAt *time.Time
	if outcome == domain.DeliveryDelivered {
		deliveredAt = &now
	}

	tag, err := tx.Exec(ctx, `
		UPDATE channel_deliveries
		SET status = $1, delivered_at = $2, error = $3, external_id = $4
		WHERE message_id = $5 AND channel = $6 AND status = $7`,
		outcome, deliveredAt, reason, externalID,
		messageID, channel, domain.DeliveryPending)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var existing domain.DeliveryStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM channel_deliveries
			WHERE message_id = $1 AND channel = $2`,
			messageID, channel).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewError(domain.CategoryInvariant,
				fmt.Sprintf("no delivery record for channel %q", channel))
		}
		if err != nil {
			return fmt.Errorf("inspect delivery: %w", err)
		}
		return domain.ErrDeliveryFinal
	}

	rows, err := tx.Query(ctx, `
		SELECT status FROM channel_deliveries
		WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("read delivery statuses: %w", err)
	}
	var statuses []domain.DeliveryStatus
	for rows.Next() {
		var st domain.DeliveryStatus
		if err := rows.Scan(&st); err != nil {
			rows.Close()
			return fmt.Errorf("scan delivery status: %w", err)
		}
		statuses = append(statuses, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate delivery statuses: %w", err)
	}

	if derived, ok := domain.DeriveStatus(statuses); ok {
		_, err = tx.Exec(ctx, `
			UPDATE messages
			SET status = $1, updated_at = $2
			WHERE id = $3`,
			derived, now, messageID)
		if err != nil {
			return fmt.Errorf("update aggregate status: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mark delivery: %w", err)
	}
	return nil
}
