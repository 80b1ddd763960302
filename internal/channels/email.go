// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package channels

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"golang.org/x/time/rate"

	"github.com/mkarlsen/omnicast/internal/domain"
)

// SESClient is the slice of the SES v2 API the email adapter uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailConfig holds the SES sender identity.
type EmailConfig struct {
	Sender string
}

// Email delivers messages over Amazon SES. It is the one HTML-capable
// channel: the plain text is wrapped in paragraphs and media becomes an
// inline image.
type Email struct {
	ses     SESClient
	sender  string
	limiter *rate.Limiter
}

// NewEmail creates the email adapter.
func NewEmail(ses SESClient, cfg EmailConfig) *Email {
	return &Email{
		ses:     ses,
		sender:  cfg.Sender,
		limiter: rate.NewLimiter(rate.Limit(14), 14), // SES default send rate
	}
}

// Kind implements Adapter.
func (e *Email) Kind() domain.ChannelKind { return domain.ChannelEmail }

// Validate implements Adapter.
func (e *Email) Validate(req *SendRequest) error {
	if req.Recipient == "" {
		return domain.NewError(domain.CategoryValidation, "email recipient is required")
	}
	if _, err := mail.ParseAddress(req.Recipient); err != nil {
		return domain.NewError(domain.CategoryValidation,
			fmt.Sprintf("invalid email recipient: %v", err))
	}
	return nil
}

// Send sends one email with an HTML body and a plain-text alternative.
func (e *Email) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	subject := emailSubject(req.Text)
	plain := req.Text
	if req.MediaRef != "" {
		plain += "\n\nMedia: " + req.MediaRef
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.sender),
		Destination: &sestypes.Destination{
			ToAddresses: []string{req.Recipient},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(plain)},
					Html: &sestypes.Content{Data: aws.String(emailHTML(req.Text, req.MediaRef))},
				},
			},
		},
	}

	out, err := e.ses.SendEmail(ctx, input)
	if err != nil {
		return &SendResult{
			ErrorMessage: err.Error(),
			ErrorCode:    ErrCodeEndpointError,
			IsTransient:  true,
		}, nil
	}

	return succeededNow(aws.ToString(out.MessageId), http.StatusOK), nil
}

// emailSubject derives a subject line from the first line of the content.
func emailSubject(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	const maxSubject = 78
	if len([]rune(line)) > maxSubject {
		runes := []rune(line)
		line = string(runes[:maxSubject-3]) + "..."
	}
	if line == "" {
		line = "(no subject)"
	}
	return line
}

// emailHTML renders the content as paragraphs with an optional inline image.
func emailHTML(text, mediaRef string) string {
	var b strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	if mediaRef != "" {
		b.WriteString(`<p><img src="`)
		b.WriteString(html.EscapeString(mediaRef))
		b.WriteString(`" alt=""></p>` + "\n")
	}
	return b.String()
}
