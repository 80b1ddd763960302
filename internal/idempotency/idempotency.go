// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package idempotency guards the worker against duplicate event deliveries.
// The event log is at-least-once, so the same (message, channels) pair can
// arrive more than once; the index turns that into at-most-one send per
// channel endpoint.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Default retention and staleness windows.
const (
	DefaultTTL   = 24 * time.Hour
	DefaultStale = 5 * time.Minute
)

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	// StatusProcessing marks a record locked by an in-flight worker.
	StatusProcessing Status = "processing"

	// StatusCompleted marks a fully processed record. Redeliveries are
	// skipped until the record expires.
	StatusCompleted Status = "completed"

	// StatusFailed marks a failed attempt. The next delivery may re-acquire
	// the lock.
	StatusFailed Status = "failed"
)

// Record is one idempotency entry.
type Record struct {
	Key         string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Result      map[string]string
	Error       string
}

// Index is the idempotency store. CheckAndLock returns the existing record
// when the key is already held (completed, or processing and not stale) and
// nil when the caller acquired the lock.
type Index interface {
	CheckAndLock(ctx context.Context, key string) (*Record, error)
	MarkCompleted(ctx context.Context, key string, result map[string]string) error
	MarkFailed(ctx context.Context, key string, reason string) error
	Release(ctx context.Context, key string) error
}

// Key derives the idempotency key for a message and its target channels:
// the hex SHA-256 of "<message_id>:<channels sorted, comma-joined>".
// Channel order on the wire does not affect the key.
func Key(messageID string, channels []string) string {
	sorted := make([]string, len(channels))
	copy(sorted, channels)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(messageID + ":" + strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}
