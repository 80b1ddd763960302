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

// FacebookConfig holds Facebook Page settings.
type FacebookConfig struct {
	AccessToken string
	PageID      string
	BaseURL     string
	HTTPClient  *http.Client
}

// Facebook publishes posts to a Facebook Page. Text-only content goes to the
// page feed; content with a media reference goes out as a photo post with
// the text as caption.
type Facebook struct {
	client *graphClient
	pageID string
}

// NewFacebook creates the Facebook adapter.
func NewFacebook(cfg FacebookConfig) *Facebook {
	return &Facebook{
		client: newGraphClient(cfg.BaseURL, cfg.AccessToken, cfg.HTTPClient, 10),
		pageID: cfg.PageID,
	}
}

// Kind implements Adapter.
func (f *Facebook) Kind() domain.ChannelKind { return domain.ChannelFacebook }

// Validate implements Adapter.
func (f *Facebook) Validate(req *SendRequest) error {
	return checkLength(domain.ChannelFacebook, req.Text)
}

// Send publishes one page post.
func (f *Facebook) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	var path string
	var body map[string]any
	if req.MediaRef != "" {
		path = "/" + f.pageID + "/photos"
		body = map[string]any{
			"url":     req.MediaRef,
			"caption": req.Text,
		}
	} else {
		path = "/" + f.pageID + "/feed"
		body = map[string]any{
			"message": req.Text,
		}
	}

	envelope, failure, err := f.client.postJSON(ctx, path, body)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}
	return succeededNow(envelope.externalID(), http.StatusOK), nil
}
