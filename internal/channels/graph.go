// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package channels

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// DefaultGraphBaseURL is the Meta Graph API root used by the WhatsApp,
// Facebook, and Instagram adapters.
const DefaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// graphClient is the shared HTTP client for Graph-style endpoints. It
// serializes request bodies as JSON, enforces a per-adapter rate limit, and
// classifies response statuses into transient and permanent failures.
type graphClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
}

func newGraphClient(baseURL, token string, httpClient *http.Client, rps float64) *graphClient {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if rps <= 0 {
		rps = 10
	}
	return &graphClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// graphResponse is the success envelope shared by Graph endpoints.
type graphResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// externalID picks the most specific identifier from the envelope.
func (r *graphResponse) externalID() string {
	if len(r.Messages) > 0 && r.Messages[0].ID != "" {
		return r.Messages[0].ID
	}
	if r.PostID != "" {
		return r.PostID
	}
	return r.ID
}

// graphErrorEnvelope is the Graph API error body.
type graphErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// postJSON sends one Graph API request and returns the decoded envelope on
// 2xx, or a classified SendResult failure otherwise.
func (c *graphClient) postJSON(ctx context.Context, path string, body any) (*graphResponse, *SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SendResult{
			ErrorMessage: err.Error(),
			ErrorCode:    ErrCodeTimeout,
			IsTransient:  true,
		}, nil
	}
	defer resp.Body.Close() //nolint:errcheck // nothing to do with a close error

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var envelope graphResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodySize)).Decode(&envelope); err != nil {
			// Delivered but unparseable body: count the send as a success
			// without an external ID rather than redelivering a duplicate.
			return &graphResponse{}, nil, nil
		}
		return &envelope, nil, nil
	}

	return nil, classifyGraphFailure(resp), nil
}

// classifyGraphFailure maps an HTTP failure status onto a SendResult.
func classifyGraphFailure(resp *http.Response) *SendResult {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	message := http.StatusText(resp.StatusCode)
	var envelope graphErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	result := &SendResult{
		ResponseCode: resp.StatusCode,
		ErrorMessage: message,
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		result.ErrorCode = ErrCodeRateLimited
		result.IsTransient = true
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		result.ErrorCode = ErrCodeUnauthorized
	case resp.StatusCode >= 500:
		result.ErrorCode = ErrCodeEndpointError
		result.IsTransient = true
	default:
		result.ErrorCode = ErrCodeEndpointError
	}
	return result
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
