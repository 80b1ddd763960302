// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package channels

import (
	"context"
	"net/http"

	"github.com/mkarlsen/omnicast/internal/domain"
)

// InstagramConfig holds Instagram business account settings.
type InstagramConfig struct {
	AccessToken       string
	BusinessAccountID string
	BaseURL           string
	HTTPClient        *http.Client
}

// Instagram publishes posts to an Instagram business account. Instagram has
// no text-only posts: a media reference is required, and publishing is a
// two-step flow — create a media container, then publish it.
type Instagram struct {
	client    *graphClient
	accountID string
}

// NewInstagram creates the Instagram adapter.
func NewInstagram(cfg InstagramConfig) *Instagram {
	return &Instagram{
		client:    newGraphClient(cfg.BaseURL, cfg.AccessToken, cfg.HTTPClient, 5),
		accountID: cfg.BusinessAccountID,
	}
}

// Kind implements Adapter.
func (i *Instagram) Kind() domain.ChannelKind { return domain.ChannelInstagram }

// Validate implements Adapter.
func (i *Instagram) Validate(req *SendRequest) error {
	if req.MediaRef == "" {
		return domain.NewError(domain.CategoryValidation,
			"instagram requires a media reference")
	}
	return checkLength(domain.ChannelInstagram, req.Text)
}

// Send creates a media container and publishes it. A failure in either step
// fails the whole delivery; the container is not retried here because the
// event log redelivers the message and a fresh container is created.
func (i *Instagram) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	container, failure, err := i.client.postJSON(ctx, "/"+i.accountID+"/media", map[string]any{
		"image_url": req.MediaRef,
		"caption":   req.Text,
	})
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}
	if container.ID == "" {
		return &SendResult{
			ErrorMessage: "media container created without an id",
			ErrorCode:    ErrCodeEndpointError,
			IsTransient:  true,
		}, nil
	}

	published, failure, err := i.client.postJSON(ctx, "/"+i.accountID+"/media_publish", map[string]any{
		"creation_id": container.ID,
	})
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}
	return succeededNow(published.externalID(), http.StatusOK), nil
}
