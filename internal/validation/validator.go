// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package validation wraps go-playground/validator behind a process-wide
// singleton and registers the Omnicast custom tags:
//
//   - channel_kind: a supported delivery channel name
//   - media_ref: an https:// or s3:// media reference
//   - e164: an E.164 phone number (WhatsApp and SMS recipients)
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mkarlsen/omnicast/internal/domain"
)

var (
	instance *validator.Validate
	once     sync.Once
)

// e164Pattern accepts a leading + followed by 8 to 15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// Get returns the shared validator instance.
func Get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())

		// Registration only fails for empty tags or nil funcs, which would
		// be a programming error.
		mustRegister(instance, "channel_kind", validateChannelKind)
		mustRegister(instance, "media_ref", validateMediaRef)
		mustRegister(instance, "e164", validateE164)
	})
	return instance
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

func validateChannelKind(fl validator.FieldLevel) bool {
	_, err := domain.ParseChannelKind(fl.Field().String())
	return err == nil
}

func validateMediaRef(fl validator.FieldLevel) bool {
	ref := fl.Field().String()
	if ref == "" {
		return true
	}
	return domain.HasAllowedMediaScheme(ref)
}

func validateE164(fl validator.FieldLevel) bool {
	return e164Pattern.MatchString(fl.Field().String())
}

// IsE164 reports whether s is an E.164 phone number. Exposed for the
// channel adapters, which validate recipients outside struct tags.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// Struct validates a struct and converts validator errors into the domain
// validation category with one readable message per failed field.
func Struct(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.WrapError(domain.CategoryValidation, "invalid request", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return domain.NewError(domain.CategoryValidation, strings.Join(msgs, "; "))
}

// fieldMessage renders one validator error as a human-readable message.
func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s exceeds maximum length %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s is below minimum %s", field, fe.Param())
	case "channel_kind":
		return fmt.Sprintf("%s is not a supported channel kind", field)
	case "media_ref":
		return fmt.Sprintf("%s must use https or s3 scheme", field)
	case "e164":
		return fmt.Sprintf("%s must be an E.164 phone number", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
