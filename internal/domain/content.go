// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxContentTextLength is the upper bound on message text, applied before
// any per-channel limit.
const MaxContentTextLength = 4096

// MessageContent is the immutable content value object. Construct it with
// NewMessageContent; a zero MessageContent is invalid.
type MessageContent struct {
	Text     string `json:"text"`
	MediaRef string `json:"media_ref,omitempty"`
}

// NewMessageContent validates and builds message content. Text is trimmed of
// surrounding whitespace; the trimmed text must be non-blank and at most
// MaxContentTextLength characters, counted in runes so multi-byte text is not
// penalized. MediaRef is optional; when present it must use the https or s3
// scheme.
func NewMessageContent(text, mediaRef string) (MessageContent, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return MessageContent{}, NewError(CategoryValidation, "message text cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > MaxContentTextLength {
		return MessageContent{}, NewError(CategoryValidation,
			fmt.Sprintf("message text cannot exceed %d characters", MaxContentTextLength))
	}
	if mediaRef != "" && !HasAllowedMediaScheme(mediaRef) {
		return MessageContent{}, NewError(CategoryValidation, "media reference must use https or s3 scheme")
	}
	return MessageContent{Text: trimmed, MediaRef: mediaRef}, nil
}

// HasAllowedMediaScheme reports whether ref uses an accepted media scheme.
func HasAllowedMediaScheme(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "s3://")
}

// HasMedia reports whether the content carries a media reference.
func (c MessageContent) HasMedia() bool {
	return c.MediaRef != ""
}
