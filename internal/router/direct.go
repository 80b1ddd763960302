// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package router

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarlsen/omnicast/internal/channels"
	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/guardrail"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/metrics"
)

// Direct sends the same content to every target channel concurrently.
type Direct struct {
	registry    *channels.Registry
	filter      *guardrail.Filter
	parallelism int
}

// NewDirect creates the direct router.
func NewDirect(registry *channels.Registry, filter *guardrail.Filter, parallelism int) *Direct {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Direct{
		registry:    registry,
		filter:      filter,
		parallelism: parallelism,
	}
}

// Publish implements Router. Channels are attempted independently: one
// channel failing never stops the others.
func (d *Direct) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	metrics.RouterInvocations.WithLabelValues("direct").Inc()
	log := logging.Ctx(ctx)

	verdict := d.filter.FilterInput(req.Text)
	metrics.RecordGuardrail("input", verdict.Risk.String())
	if !verdict.Safe {
		log.Warn().
			Str("message_id", req.MessageID).
			Str("risk", verdict.Risk.String()).
			Str("reason", verdict.Reason).
			Msg("content blocked by guardrail")
		return blockedResult(req.Channels, verdict.Reason), nil
	}

	results := make([]ChannelResult, len(req.Channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)

	// The filter gates publication but never rewrites it: adapters receive
	// the author's text exactly as submitted.
	for i, ch := range req.Channels {
		g.Go(func() error {
			results[i] = d.sendOne(gctx, ch, &channels.SendRequest{
				MessageID: req.MessageID,
				Text:      req.Text,
				MediaRef:  req.MediaRef,
				Recipient: req.Recipient,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &PublishResult{
		Results: results,
		Summary: summarize(results),
	}, nil
}

// sendOne runs validate-then-send for one channel and maps the outcome.
func (d *Direct) sendOne(ctx context.Context, kind domain.ChannelKind, req *channels.SendRequest) ChannelResult {
	adapter, ok := d.registry.Get(kind)
	if !ok {
		return ChannelResult{
			Channel:   kind,
			Error:     fmt.Sprintf("no adapter configured for channel %q", kind),
			ErrorCode: "skipped",
		}
	}

	if err := adapter.Validate(req); err != nil {
		metrics.RecordDelivery(string(kind), false, 0)
		return ChannelResult{
			Channel:   kind,
			Error:     err.Error(),
			ErrorCode: "invalid_request",
		}
	}

	start := time.Now()
	res, err := adapter.Send(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordDelivery(string(kind), false, elapsed)
		return ChannelResult{
			Channel:   kind,
			Error:     err.Error(),
			ErrorCode: channels.ErrCodeEndpointError,
			Transient: true,
		}
	}

	metrics.RecordDelivery(string(kind), res.Success, elapsed)
	return ChannelResult{
		Channel:    kind,
		Success:    res.Success,
		ExternalID: res.ExternalID,
		Error:      res.ErrorMessage,
		ErrorCode:  res.ErrorCode,
		Transient:  res.IsTransient,
	}
}

// summarize renders a short human-readable outcome line.
func summarize(results []ChannelResult) string {
	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	return fmt.Sprintf("delivered %d of %d channels", delivered, len(results))
}
