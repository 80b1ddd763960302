// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package channels

import (
	"context"
	"net/http"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/validation"
)

// WhatsAppConfig holds WhatsApp Business API settings.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
}

// WhatsApp delivers messages through the WhatsApp Business Cloud API.
// Recipients must be E.164 phone numbers.
type WhatsApp struct {
	client        *graphClient
	phoneNumberID string
}

// NewWhatsApp creates the WhatsApp adapter.
func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	return &WhatsApp{
		client:        newGraphClient(cfg.BaseURL, cfg.AccessToken, cfg.HTTPClient, 20),
		phoneNumberID: cfg.PhoneNumberID,
	}
}

// Kind implements Adapter.
func (w *WhatsApp) Kind() domain.ChannelKind { return domain.ChannelWhatsApp }

// Validate implements Adapter.
func (w *WhatsApp) Validate(req *SendRequest) error {
	if !validation.IsE164(req.Recipient) {
		return domain.NewError(domain.CategoryValidation,
			"whatsapp recipient must be an E.164 phone number")
	}
	return checkLength(domain.ChannelWhatsApp, req.Text)
}

// Send posts one message to the recipient. With a media reference the
// message goes out as an image with the text as caption.
func (w *WhatsApp) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.Recipient,
	}
	if req.MediaRef != "" {
		body["type"] = "image"
		body["image"] = map[string]any{
			"link":    req.MediaRef,
			"caption": req.Text,
		}
	} else {
		body["type"] = "text"
		body["text"] = map[string]any{"body": req.Text}
	}

	envelope, failure, err := w.client.postJSON(ctx, "/"+w.phoneNumberID+"/messages", body)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}
	return succeededNow(envelope.externalID(), http.StatusOK), nil
}
