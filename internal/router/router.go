// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package router fans one message out to its target channel endpoints.
// Two variants exist: the direct router sends the same content to every
// channel concurrently, and the agent router lets a model adapt the content
// per platform through tool calls. Both run the content guardrail on input
// and never hand unfiltered text to an endpoint.
package router

import (
	"context"

	"github.com/mkarlsen/omnicast/internal/domain"
)

// PublishRequest carries one message's content to the channel endpoints.
type PublishRequest struct {
	MessageID string
	Text      string
	MediaRef  string
	Recipient string
	Channels  []domain.ChannelKind
}

// ChannelResult is the outcome for one channel.
type ChannelResult struct {
	Channel    domain.ChannelKind
	Success    bool
	ExternalID string
	Error      string
	ErrorCode  string
	Transient  bool
}

// PublishResult aggregates per-channel outcomes. When the guardrail blocks
// the content, Blocked is set and every channel reads as failed.
type PublishResult struct {
	Results     []ChannelResult
	Summary     string
	Blocked     bool
	BlockReason string
}

// Router publishes one message to all of its target channels. Exactly one
// ChannelResult is returned per requested channel.
type Router interface {
	Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error)
}

// blockedResult builds the all-failed result for guardrail-blocked content.
func blockedResult(channels []domain.ChannelKind, reason string) *PublishResult {
	res := &PublishResult{
		Blocked:     true,
		BlockReason: reason,
		Summary:     "Content blocked: " + reason,
		Results:     make([]ChannelResult, len(channels)),
	}
	for i, ch := range channels {
		res.Results[i] = ChannelResult{
			Channel:   ch,
			Error:     "content blocked by guardrail: " + reason,
			ErrorCode: "guardrail_blocked",
		}
	}
	return res
}
