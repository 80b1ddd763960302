// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryIndex is an in-process Index for tests and single-replica
// deployments. Multi-replica workers must share a persistent index
// (see store.IdempotencyIndex).
type MemoryIndex struct {
	mu      sync.Mutex
	records map[string]*Record
	expires map[string]time.Time
	ttl     time.Duration
	stale   time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// MemoryOption configures a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithTTL overrides the record retention window.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryIndex) { m.ttl = ttl }
}

// WithStaleAfter overrides the window after which a processing lock may be
// re-acquired.
func WithStaleAfter(d time.Duration) MemoryOption {
	return func(m *MemoryIndex) { m.stale = d }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryIndex) { m.now = now }
}

// NewMemoryIndex creates an in-memory idempotency index.
func NewMemoryIndex(opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{
		records: make(map[string]*Record),
		expires: make(map[string]time.Time),
		ttl:     DefaultTTL,
		stale:   DefaultStale,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAndLock implements Index. Completed records and fresh processing
// locks are returned as-is; failed records and stale processing locks are
// overwritten with a new lock.
func (m *MemoryIndex) CheckAndLock(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupExpired()

	if existing, ok := m.records[key]; ok {
		switch existing.Status {
		case StatusCompleted:
			return copyRecord(existing), nil
		case StatusProcessing:
			if m.now().Sub(existing.CreatedAt) <= m.stale {
				return copyRecord(existing), nil
			}
			// Stale lock from a crashed worker, fall through and re-acquire.
		case StatusFailed:
			// Failed attempts may be retried, fall through.
		}
	}

	m.records[key] = &Record{
		Key:       key,
		Status:    StatusProcessing,
		CreatedAt: m.now(),
	}
	m.expires[key] = m.now().Add(m.ttl)
	return nil, nil
}

// MarkCompleted implements Index.
func (m *MemoryIndex) MarkCompleted(_ context.Context, key string, result map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[key]; ok {
		now := m.now()
		existing.Status = StatusCompleted
		existing.CompletedAt = &now
		existing.Result = result
		existing.Error = ""
	}
	return nil
}

// MarkFailed implements Index.
func (m *MemoryIndex) MarkFailed(_ context.Context, key string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[key]; ok {
		now := m.now()
		existing.Status = StatusFailed
		existing.CompletedAt = &now
		existing.Result = nil
		existing.Error = reason
	}
	return nil
}

// Release implements Index. It drops the record without recording an
// outcome, so the next delivery starts fresh.
func (m *MemoryIndex) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	delete(m.expires, key)
	return nil
}

// Len returns the number of live records. Test helper.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpired()
	return len(m.records)
}

// cleanupExpired removes records past their TTL. Caller holds mu.
func (m *MemoryIndex) cleanupExpired() {
	now := m.now()
	for key, deadline := range m.expires {
		if deadline.Before(now) {
			delete(m.records, key)
			delete(m.expires, key)
		}
	}
}

func copyRecord(r *Record) *Record {
	cp := *r
	return &cp
}
