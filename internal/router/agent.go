// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"

	"github.com/mkarlsen/omnicast/internal/channels"
	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/guardrail"
	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/metrics"
)

// maxToolTurns bounds the tool loop so a misbehaving model cannot spin.
const maxToolTurns = 8

// MessagesClient is the slice of the Anthropic API the agent router uses.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AgentConfig holds agent router settings.
type AgentConfig struct {
	Model     string
	MaxTokens int64
}

// Agent adapts message content per platform by running a model with one
// delivery tool per target channel. The model rewrites the content for each
// platform's conventions and calls the tools; the guardrail filters both the
// incoming content and everything the model hands to an endpoint.
type Agent struct {
	client   MessagesClient
	registry *channels.Registry
	filter   *guardrail.Filter
	cfg      AgentConfig
}

// NewAgent creates the agent router.
func NewAgent(client MessagesClient, registry *channels.Registry, filter *guardrail.Filter, cfg AgentConfig) *Agent {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Agent{
		client:   client,
		registry: registry,
		filter:   filter,
		cfg:      cfg,
	}
}

// toolNames maps channel kinds onto tool names and back.
var toolNames = map[domain.ChannelKind]string{
	domain.ChannelWhatsApp:  "send_whatsapp",
	domain.ChannelFacebook:  "post_to_facebook",
	domain.ChannelInstagram: "post_to_instagram",
	domain.ChannelLinkedIn:  "post_to_linkedin",
	domain.ChannelEmail:     "send_email",
	domain.ChannelSMS:       "send_sms",
}

func kindForTool(name string) (domain.ChannelKind, bool) {
	for kind, tool := range toolNames {
		if tool == name {
			return kind, true
		}
	}
	return "", false
}

// toolInput is the argument shape shared by all delivery tools.
type toolInput struct {
	Content  string `json:"content"`
	MediaURL string `json:"media_url,omitempty"`
}

// Publish implements Router.
func (a *Agent) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	metrics.RouterInvocations.WithLabelValues("agent").Inc()
	log := logging.Ctx(ctx)

	verdict := a.filter.FilterInput(req.Text)
	metrics.RecordGuardrail("input", verdict.Risk.String())
	if !verdict.Safe {
		log.Warn().
			Str("message_id", req.MessageID).
			Str("risk", verdict.Risk.String()).
			Str("reason", verdict.Reason).
			Msg("content blocked by guardrail")
		return blockedResult(req.Channels, verdict.Reason), nil
	}

	outcomes := make(map[domain.ChannelKind]ChannelResult, len(req.Channels))
	messages := []sdk.MessageParam{
		sdk.NewUserMessage(sdk.NewTextBlock(a.userPrompt(req, verdict.Sanitized))),
	}

	var summary strings.Builder
	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := a.client.New(ctx, sdk.MessageNewParams{
			Model:       sdk.Model(a.cfg.Model),
			MaxTokens:   a.cfg.MaxTokens,
			System:      []sdk.TextBlockParam{{Text: systemPrompt}},
			Messages:    messages,
			Tools:       a.tools(req.Channels),
			Temperature: sdk.Float(0.7),
		})
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		messages = append(messages, resp.ToParam())

		var toolResults []sdk.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if summary.Len() > 0 {
					summary.WriteString("\n")
				}
				summary.WriteString(block.Text)
			case "tool_use":
				result, isError := a.executeTool(ctx, req, block.Name, block.Input, outcomes)
				toolResults = append(toolResults,
					sdk.NewToolResultBlock(block.ID, result, isError))
			}
		}

		if resp.StopReason != sdk.StopReasonToolUse || len(toolResults) == 0 {
			break
		}
		messages = append(messages, sdk.NewUserMessage(toolResults...))
	}

	results := make([]ChannelResult, len(req.Channels))
	for i, ch := range req.Channels {
		if outcome, ok := outcomes[ch]; ok {
			results[i] = outcome
			continue
		}
		results[i] = ChannelResult{
			Channel:   ch,
			Error:     "channel not attempted by router",
			ErrorCode: "skipped",
		}
	}

	summaryText := summary.String()
	outVerdict := a.filter.FilterOutput(summaryText)
	metrics.RecordGuardrail("output", outVerdict.Risk.String())
	if !outVerdict.Safe {
		summaryText = "Content blocked: " + outVerdict.Reason
	} else {
		summaryText = outVerdict.Sanitized
	}

	return &PublishResult{
		Results: results,
		Summary: summaryText,
	}, nil
}

// executeTool validates and runs one delivery tool call, records the channel
// outcome, and returns the JSON result handed back to the model.
func (a *Agent) executeTool(ctx context.Context, req *PublishRequest, name string, input []byte, outcomes map[domain.ChannelKind]ChannelResult) (string, bool) {
	kind, ok := kindForTool(name)
	if !ok {
		return toolError(fmt.Sprintf("unknown tool %q", name))
	}
	if !containsKind(req.Channels, kind) {
		return toolError(fmt.Sprintf("channel %s is not a target of this message", kind))
	}
	if prior, done := outcomes[kind]; done && prior.Success {
		return toolError(fmt.Sprintf("channel %s already delivered", kind))
	}

	var args toolInput
	if err := json.Unmarshal(input, &args); err != nil {
		return toolError(fmt.Sprintf("invalid tool input: %v", err))
	}

	verdict := a.filter.FilterOutput(args.Content)
	metrics.RecordGuardrail("output", verdict.Risk.String())
	if !verdict.Safe {
		outcomes[kind] = ChannelResult{
			Channel:   kind,
			Error:     "content blocked by guardrail: " + verdict.Reason,
			ErrorCode: "guardrail_blocked",
		}
		return toolError("content blocked by guardrail: " + verdict.Reason)
	}
	args.Content = verdict.Sanitized

	mediaRef := args.MediaURL
	if mediaRef == "" {
		mediaRef = req.MediaRef
	}
	sendReq := &channels.SendRequest{
		MessageID: req.MessageID,
		Text:      args.Content,
		MediaRef:  mediaRef,
		Recipient: req.Recipient,
	}

	adapter, ok := a.registry.Get(kind)
	if !ok {
		outcomes[kind] = ChannelResult{
			Channel:   kind,
			Error:     fmt.Sprintf("no adapter configured for channel %q", kind),
			ErrorCode: "skipped",
		}
		return toolError("no adapter configured for " + string(kind))
	}
	if err := adapter.Validate(sendReq); err != nil {
		outcomes[kind] = ChannelResult{
			Channel:   kind,
			Error:     err.Error(),
			ErrorCode: "invalid_request",
		}
		return toolError(err.Error())
	}

	start := time.Now()
	res, err := adapter.Send(ctx, sendReq)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordDelivery(string(kind), false, elapsed)
		outcomes[kind] = ChannelResult{
			Channel:   kind,
			Error:     err.Error(),
			ErrorCode: channels.ErrCodeEndpointError,
			Transient: true,
		}
		return toolError(err.Error())
	}

	metrics.RecordDelivery(string(kind), res.Success, elapsed)
	outcomes[kind] = ChannelResult{
		Channel:    kind,
		Success:    res.Success,
		ExternalID: res.ExternalID,
		Error:      res.ErrorMessage,
		ErrorCode:  res.ErrorCode,
		Transient:  res.IsTransient,
	}

	if !res.Success {
		return toolError(res.ErrorMessage)
	}
	payload, _ := json.Marshal(map[string]any{
		"success":     true,
		"external_id": res.ExternalID,
	})
	return string(payload), false
}

func toolError(msg string) (string, bool) {
	payload, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	return string(payload), true
}

func containsKind(kinds []domain.ChannelKind, kind domain.ChannelKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// tools builds one delivery tool per target channel.
func (a *Agent) tools(kinds []domain.ChannelKind) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, 0, len(kinds))
	for _, kind := range kinds {
		name, ok := toolNames[kind]
		if !ok {
			continue
		}
		schema := sdk.ToolInputSchemaParam{
			ExtraFields: map[string]any{
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "The message content adapted for this platform.",
					},
					"media_url": map[string]any{
						"type":        "string",
						"description": "Optional media URL to attach.",
					},
				},
				"required": []string{"content"},
			},
		}
		tool := sdk.ToolUnionParamOfTool(schema, name)
		if tool.OfTool != nil {
			tool.OfTool.Description = sdk.String(toolDescription(kind))
		}
		tools = append(tools, tool)
	}
	return tools
}

func toolDescription(kind domain.ChannelKind) string {
	info, _ := domain.KindInfo(kind)
	desc := fmt.Sprintf("Deliver the message via %s.", info.DisplayName)
	if info.MaxContentLength > 0 {
		desc += fmt.Sprintf(" Content must stay under %d characters.", info.MaxContentLength)
	}
	if info.RequiresMedia {
		desc += " Requires a media URL; skip this channel when none is available."
	}
	return desc
}

const systemPrompt = `You are a delivery assistant that adapts one message for multiple platforms and sends it using the provided tools.

Platform guidelines:
- Facebook: conversational tone, under 500 characters, emojis and hashtags are fine.
- Instagram: requires an image, caption under 300 characters, hashtag friendly. Skip Instagram when no image is available.
- LinkedIn: professional tone, no emojis, well-structured text.
- WhatsApp: short and personal, under 200 characters.
- Email: a clear subject in the first line, then full detail.
- SMS: plain text, under 160 characters, no formatting.

Rules:
- Preserve the meaning of the original message. Never invent facts, links, or claims.
- Call each delivery tool at most once per channel.
- After all tool calls, reply with one short sentence summarizing what was sent where.`

// userPrompt renders the delivery instruction for the model.
func (a *Agent) userPrompt(req *PublishRequest, text string) string {
	var b strings.Builder
	b.WriteString("Deliver this message to the following channels: ")
	names := make([]string, len(req.Channels))
	for i, ch := range req.Channels {
		names[i] = string(ch)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\n\nMessage content:\n")
	b.WriteString(text)
	if req.MediaRef != "" {
		b.WriteString("\n\nMedia URL: ")
		b.WriteString(req.MediaRef)
	} else {
		b.WriteString("\n\nNo media is available.")
	}
	return b.String()
}

// NewAnthropicClient builds the real Messages client from an API key.
func NewAnthropicClient(apiKey string) MessagesClient {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &client.Messages
}
