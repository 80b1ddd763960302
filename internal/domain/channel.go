// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package domain

import (
	"fmt"
	"sort"
)

// ChannelKind identifies a delivery channel. Serialized as snake_case
// strings everywhere (API, events, database).
type ChannelKind string

const (
	ChannelWhatsApp  ChannelKind = "whatsapp"
	ChannelFacebook  ChannelKind = "facebook"
	ChannelInstagram ChannelKind = "instagram"
	ChannelLinkedIn  ChannelKind = "linkedin"
	ChannelEmail     ChannelKind = "email"
	ChannelSMS       ChannelKind = "sms"
)

// AllChannelKinds lists every supported channel kind in stable order.
func AllChannelKinds() []ChannelKind {
	return []ChannelKind{
		ChannelWhatsApp,
		ChannelFacebook,
		ChannelInstagram,
		ChannelLinkedIn,
		ChannelEmail,
		ChannelSMS,
	}
}

// ParseChannelKind converts a string to a ChannelKind.
func ParseChannelKind(s string) (ChannelKind, error) {
	kind := ChannelKind(s)
	switch kind {
	case ChannelWhatsApp, ChannelFacebook, ChannelInstagram,
		ChannelLinkedIn, ChannelEmail, ChannelSMS:
		return kind, nil
	}
	return "", NewError(CategoryValidation, fmt.Sprintf("unknown channel kind: %q", s))
}

// String returns the wire representation.
func (k ChannelKind) String() string {
	return string(k)
}

// ChannelKindInfo describes the per-channel contract for API consumers.
type ChannelKindInfo struct {
	Kind              ChannelKind `json:"kind"`
	DisplayName       string      `json:"display_name"`
	RequiresRecipient bool        `json:"requires_recipient"`
	RequiresMedia     bool        `json:"requires_media"`
	SupportsHTML      bool        `json:"supports_html"`
	MaxContentLength  int         `json:"max_content_length"`
}

// channelKindInfos holds the static per-channel contracts. Length limits are
// the platform caps enforced by each external endpoint.
var channelKindInfos = map[ChannelKind]ChannelKindInfo{
	ChannelWhatsApp: {
		Kind:              ChannelWhatsApp,
		DisplayName:       "WhatsApp",
		RequiresRecipient: true,
		MaxContentLength:  4096,
	},
	ChannelFacebook: {
		Kind:             ChannelFacebook,
		DisplayName:      "Facebook Page",
		MaxContentLength: 63206,
	},
	ChannelInstagram: {
		Kind:             ChannelInstagram,
		DisplayName:      "Instagram",
		RequiresMedia:    true,
		MaxContentLength: 2200,
	},
	ChannelLinkedIn: {
		Kind:             ChannelLinkedIn,
		DisplayName:      "LinkedIn Company Page",
		MaxContentLength: 3000,
	},
	ChannelEmail: {
		Kind:              ChannelEmail,
		DisplayName:       "Email",
		RequiresRecipient: true,
		SupportsHTML:      true,
	},
	ChannelSMS: {
		Kind:              ChannelSMS,
		DisplayName:       "SMS",
		RequiresRecipient: true,
		MaxContentLength:  1600,
	},
}

// KindInfo returns the contract metadata for a channel kind.
func KindInfo(kind ChannelKind) (ChannelKindInfo, bool) {
	info, ok := channelKindInfos[kind]
	return info, ok
}

// ListChannelKindInfos returns contract metadata for all channel kinds,
// sorted by kind for a stable API response.
func ListChannelKindInfos() []ChannelKindInfo {
	infos := make([]ChannelKindInfo, 0, len(channelKindInfos))
	for _, info := range channelKindInfos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

// NormalizeChannels validates a channel list: non-empty, all known, no
// duplicates. Returns the parsed kinds in input order.
func NormalizeChannels(raw []string) ([]ChannelKind, error) {
	if len(raw) == 0 {
		return nil, NewError(CategoryValidation, "at least one target channel is required")
	}

	seen := make(map[ChannelKind]struct{}, len(raw))
	kinds := make([]ChannelKind, 0, len(raw))
	for _, s := range raw {
		kind, err := ParseChannelKind(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[kind]; dup {
			return nil, NewError(CategoryValidation, fmt.Sprintf("duplicate channel kind: %q", kind))
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// ChannelStrings converts kinds back to their wire strings.
func ChannelStrings(kinds []ChannelKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
