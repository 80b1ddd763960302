// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package channels

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"golang.org/x/time/rate"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/validation"
)

// SNSClient is the slice of the SNS API the SMS adapter uses.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSConfig holds the SNS sender settings.
type SMSConfig struct {
	SenderID string
}

// SMS delivers messages over Amazon SNS direct publish. SMS cannot carry
// media, so a media reference is appended to the body as a plain URL.
type SMS struct {
	sns      SNSClient
	senderID string
	limiter  *rate.Limiter
}

// NewSMS creates the SMS adapter.
func NewSMS(client SNSClient, cfg SMSConfig) *SMS {
	return &SMS{
		sns:      client,
		senderID: cfg.SenderID,
		limiter:  rate.NewLimiter(rate.Limit(20), 20),
	}
}

// Kind implements Adapter.
func (s *SMS) Kind() domain.ChannelKind { return domain.ChannelSMS }

// Validate implements Adapter.
func (s *SMS) Validate(req *SendRequest) error {
	if !validation.IsE164(req.Recipient) {
		return domain.NewError(domain.CategoryValidation,
			"sms recipient must be an E.164 phone number")
	}
	return checkLength(domain.ChannelSMS, smsBody(req))
}

// Send publishes one SMS to the recipient phone number.
func (s *SMS) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(req.Recipient),
		Message:     aws.String(smsBody(req)),
	}
	if s.senderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.senderID),
			},
		}
	}

	out, err := s.sns.Publish(ctx, input)
	if err != nil {
		return &SendResult{
			ErrorMessage: err.Error(),
			ErrorCode:    ErrCodeEndpointError,
			IsTransient:  true,
		}, nil
	}

	return succeededNow(aws.ToString(out.MessageId), http.StatusOK), nil
}

// smsBody appends the media reference to the text, SMS being text-only.
func smsBody(req *SendRequest) string {
	if req.MediaRef == "" {
		return req.Text
	}
	return req.Text + "\n\nMedia: " + req.MediaRef
}
