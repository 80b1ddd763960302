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

// DefaultLinkedInBaseURL is the LinkedIn REST API root.
const DefaultLinkedInBaseURL = "https://api.linkedin.com"

// LinkedInConfig holds LinkedIn organization page settings.
type LinkedInConfig struct {
	AccessToken    string
	OrganizationID string
	BaseURL        string
	HTTPClient     *http.Client
}

// LinkedIn publishes UGC posts on behalf of an organization page.
type LinkedIn struct {
	client *graphClient
	author string
}

// NewLinkedIn creates the LinkedIn adapter.
func NewLinkedIn(cfg LinkedInConfig) *LinkedIn {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultLinkedInBaseURL
	}
	client := newGraphClient(baseURL, cfg.AccessToken, cfg.HTTPClient, 5)
	client.headers = map[string]string{"X-Restli-Protocol-Version": "2.0.0"}
	return &LinkedIn{
		client: client,
		author: "urn:li:organization:" + cfg.OrganizationID,
	}
}

// Kind implements Adapter.
func (l *LinkedIn) Kind() domain.ChannelKind { return domain.ChannelLinkedIn }

// Validate implements Adapter.
func (l *LinkedIn) Validate(req *SendRequest) error {
	return checkLength(domain.ChannelLinkedIn, req.Text)
}

// Send publishes one UGC post. Media is attached as an article share so the
// post carries the link preview.
func (l *LinkedIn) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	shareContent := map[string]any{
		"shareCommentary": map[string]any{
			"text": req.Text,
		},
		"shareMediaCategory": "NONE",
	}
	if req.MediaRef != "" {
		shareContent["shareMediaCategory"] = "ARTICLE"
		shareContent["media"] = []map[string]any{
			{
				"status":      "READY",
				"originalUrl": req.MediaRef,
			},
		}
	}

	body := map[string]any{
		"author":         l.author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	envelope, failure, err := l.client.postJSON(ctx, "/v2/ugcPosts", body)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}
	return succeededNow(envelope.externalID(), http.StatusCreated), nil
}
