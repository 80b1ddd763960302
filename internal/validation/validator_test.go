// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package validation

import (
	"testing"

	"github.com/mkarlsen/omnicast/internal/domain"
)

type scheduleForm struct {
	Text     string `validate:"required,max=4096"`
	MediaRef string `validate:"omitempty,media_ref"`
	Channel  string `validate:"required,channel_kind"`
}

func TestStructValid(t *testing.T) {
	form := scheduleForm{Text: "hello", MediaRef: "https://cdn.example.com/a.png", Channel: "email"}
	if err := Struct(form); err != nil {
		t.Fatalf("Struct: %v", err)
	}
}

func TestStructInvalid(t *testing.T) {
	tests := []struct {
		name string
		form scheduleForm
	}{
		{"missing text", scheduleForm{Channel: "email"}},
		{"bad channel", scheduleForm{Text: "hi", Channel: "pigeon"}},
		{"bad media scheme", scheduleForm{Text: "hi", Channel: "email", MediaRef: "http://x.com/a.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.form)
			if err == nil {
				t.Fatal("expected error")
			}
			if !domain.IsValidation(err) {
				t.Errorf("category = %s, want validation", domain.CategoryOf(err))
			}
		})
	}
}

func TestIsE164(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"+14155552671", true},
		{"+442071838750", true},
		{"14155552671", false},
		{"+0415555267", false},
		{"+1", false},
		{"+1415555267112345678", false},
		{"not-a-number", false},
	}

	for _, tt := range tests {
		if got := IsE164(tt.number); got != tt.want {
			t.Errorf("IsE164(%q) = %v, want %v", tt.number, got, tt.want)
		}
	}
}
