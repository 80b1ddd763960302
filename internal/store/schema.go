// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id            UUID PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		content_text  TEXT NOT NULL,
		media_ref     TEXT NOT NULL DEFAULT '',
		recipient_ref TEXT NOT NULL DEFAULT '',
		scheduled_at  TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_due
		ON messages (status, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_owner
		ON messages (owner_id)`,
	`CREATE TABLE IF NOT EXISTS channel_deliveries (
		message_id   UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		channel      TEXT NOT NULL,
		ordinal      INT NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		delivered_at TIMESTAMPTZ,
		error        TEXT NOT NULL DEFAULT '',
		external_id  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (message_id, channel)
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		key          TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		result       JSONB,
		error        TEXT NOT NULL DEFAULT '',
		expires_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_idempotency_expiry
		ON idempotency_records (expires_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist. Safe to
// run on every startup.
func (s *MessageStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
