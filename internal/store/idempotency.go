// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/mkarlsen/omnicast/internal/idempotency"
)

// IdempotencyIndex is the Postgres implementation of idempotency.Index.
// Workers share it, so a redelivered event is skipped no matter which worker
// instance saw the first delivery.
type IdempotencyIndex struct {
	db    DB
	ttl   time.Duration
	stale time.Duration
	now   func() time.Time
}

// NewIdempotencyIndex creates an index with the given record TTL and
// processing-lock staleness window.
func NewIdempotencyIndex(db DB, ttl, stale time.Duration) *IdempotencyIndex {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	if stale <= 0 {
		stale = idempotency.DefaultStale
	}
	return &IdempotencyIndex{db: db, ttl: ttl, stale: stale, now: time.Now}
}

// CheckAndLock returns the existing record when the key is completed or
// freshly processing, which tells the caller to skip. A missing, expired,
// failed, or stale-processing key is (re)locked as processing and nil is
// returned, which tells the caller to proceed.
func (i *IdempotencyIndex) CheckAndLock(ctx context.Context, key string) (*idempotency.Record, error) {
	tx, err := i.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin check-and-lock: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	now := i.now().UTC()

	var rec idempotency.Record
	var resultJSON []byte
	var expiresAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT key, status, created_at, completed_at, result, error, expires_at
		FROM idempotency_records
		WHERE key = $1
		FOR UPDATE`, key).
		Scan(&rec.Key, &rec.Status, &rec.CreatedAt, &rec.CompletedAt,
			&resultJSON, &rec.Error, &expiresAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// no record, take the lock below
	case err != nil:
		return nil, fmt.Errorf("read idempotency record: %w", err)
	case expiresAt.After(now) && rec.Status == idempotency.StatusCompleted:
		if len(resultJSON) > 0 {
			if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
				return nil, fmt.Errorf("decode idempotency result: %w", err)
			}
		}
		return &rec, tx.Commit(ctx)
	case expiresAt.After(now) && rec.Status == idempotency.StatusProcessing &&
		now.Sub(rec.CreatedAt) < i.stale:
		return &rec, tx.Commit(ctx)
	}

	// expired, failed, or stale-processing: take the lock over again

	_, err = tx.Exec(ctx, `
		INSERT INTO idempotency_records (key, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET status = $2, created_at = $3, expires_at = $4,
		    completed_at = NULL, result = NULL, error = ''`,
		key, idempotency.StatusProcessing, now, now.Add(i.ttl))
	if err != nil {
		return nil, fmt.Errorf("lock idempotency key: %w", err)
	}

	return nil, tx.Commit(ctx)
}

// MarkCompleted records a successful processing outcome for the key.
func (i *IdempotencyIndex) MarkCompleted(ctx context.Context, key string, result map[string]string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency result: %w", err)
	}

	_, err = i.db.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $1, completed_at = $2, result = $3, error = ''
		WHERE key = $4`,
		idempotency.StatusCompleted, i.now().UTC(), resultJSON, key)
	if err != nil {
		return fmt.Errorf("mark idempotency completed: %w", err)
	}
	return nil
}

// MarkFailed records a failed processing outcome. The next redelivery of the
// same key re-locks and retries.
func (i *IdempotencyIndex) MarkFailed(ctx context.Context, key, reason string) error {
	_, err := i.db.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $1, error = $2
		WHERE key = $3`,
		idempotency.StatusFailed, reason, key)
	if err != nil {
		return fmt.Errorf("mark idempotency failed: %w", err)
	}
	return nil
}

// Release deletes the record so the key can be processed again immediately.
func (i *IdempotencyIndex) Release(ctx context.Context, key string) error {
	_, err := i.db.Exec(ctx, `DELETE FROM idempotency_records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
