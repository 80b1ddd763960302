// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package channels implements the delivery endpoint adapters: WhatsApp,
// Facebook, Instagram, and LinkedIn over Graph-style HTTP APIs, email over
// SES, and SMS over SNS. Adapters perform exactly one send attempt; retry
// policy belongs to the event log redelivery, never to the adapter.
package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/mkarlsen/omnicast/internal/domain"
)

// Error codes reported in SendResult for failed deliveries.
const (
	ErrCodeInvalidRecipient = "invalid_recipient"
	ErrCodeMissingMedia     = "missing_media"
	ErrCodeContentTooLong   = "content_too_long"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeEndpointError    = "endpoint_error"
	ErrCodeTimeout          = "timeout"
)

// SendRequest is one delivery attempt for one channel.
type SendRequest struct {
	MessageID string
	Text      string
	MediaRef  string
	Recipient string
}

// SendResult reports the outcome of a send attempt.
type SendResult struct {
	Success      bool
	ExternalID   string
	ResponseCode int
	DeliveredAt  *time.Time
	ErrorMessage string
	ErrorCode    string
	IsTransient  bool
	RetryAfter   time.Duration
}

// succeededNow builds a success result stamped with the current time.
func succeededNow(externalID string, responseCode int) *SendResult {
	now := time.Now().UTC()
	return &SendResult{
		Success:      true,
		ExternalID:   externalID,
		ResponseCode: responseCode,
		DeliveredAt:  &now,
	}
}

// Adapter is a delivery channel endpoint.
type Adapter interface {
	// Kind identifies the channel this adapter serves.
	Kind() domain.ChannelKind

	// Validate checks the request against the channel contract before any
	// network traffic. Violations are permanent failures.
	Validate(req *SendRequest) error

	// Send performs exactly one delivery attempt.
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
}

// Registry maps channel kinds to their adapters. Channels without a
// registered adapter are recorded as failed deliveries by the router.
type Registry struct {
	adapters map[domain.ChannelKind]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ChannelKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for a channel kind.
func (r *Registry) Get(kind domain.ChannelKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds lists the channel kinds with registered adapters.
func (r *Registry) Kinds() []domain.ChannelKind {
	kinds := make([]domain.ChannelKind, 0, len(r.adapters))
	for _, k := range domain.AllChannelKinds() {
		if _, ok := r.adapters[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// checkLength enforces the channel's content length cap.
func checkLength(kind domain.ChannelKind, text string) error {
	info, ok := domain.KindInfo(kind)
	if !ok {
		return domain.NewError(domain.CategoryValidation, fmt.Sprintf("unknown channel %q", kind))
	}
	if info.MaxContentLength > 0 && len([]rune(text)) > info.MaxContentLength {
		return domain.NewError(domain.CategoryValidation,
			fmt.Sprintf("%s content exceeds %d characters", kind, info.MaxContentLength))
	}
	return nil
}
