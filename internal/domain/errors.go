// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package domain

import (
	"errors"
	"fmt"
)

// Category classifies every error the pipeline can surface. Callers branch
// on the category, never on error text.
type Category string

const (
	// CategoryValidation marks malformed input (empty text, bad media scheme,
	// unknown channel kind). Never retried.
	CategoryValidation Category = "validation"

	// CategoryAuthorization marks ownership violations. Surfaced to callers
	// as not-found so that foreign message IDs are indistinguishable from
	// nonexistent ones.
	CategoryAuthorization Category = "authorization"

	// CategoryTransient marks recoverable infrastructure failures (store
	// unavailable, broker unavailable). Safe to retry.
	CategoryTransient Category = "transient"

	// CategoryGuardrailBlocked marks content rejected by the content
	// guardrail. Never retried.
	CategoryGuardrailBlocked Category = "guardrail_blocked"

	// CategoryChannelTransport marks a failure reported by an external
	// channel endpoint. Recorded per delivery; not retried by the worker.
	CategoryChannelTransport Category = "channel_transport"

	// CategoryInvariant marks a broken internal invariant, such as an
	// illegal status transition. Indicates a bug, not bad input.
	CategoryInvariant Category = "invariant"
)

// Error is the taxonomy error type used across the pipeline.
type Error struct {
	Cat Category
	Msg string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Cat, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Cat, e.Msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a taxonomy error with the given category.
func NewError(cat Category, msg string) *Error {
	return &Error{Cat: cat, Msg: msg}
}

// WrapError wraps an underlying error with a taxonomy category.
func WrapError(cat Category, msg string, err error) *Error {
	return &Error{Cat: cat, Msg: msg, Err: err}
}

// CategoryOf extracts the taxonomy category from an error chain.
// Unclassified errors report as transient, the only safe default for
// at-least-once processing.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Cat
	}
	return CategoryTransient
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return CategoryOf(err) == CategoryValidation
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return CategoryOf(err) == CategoryTransient
}

// IsInvariant reports whether err is a broken internal invariant.
func IsInvariant(err error) bool {
	return CategoryOf(err) == CategoryInvariant
}

// ErrNotFound is returned when a message does not exist or is owned by a
// different owner. Both cases share one error so lookups cannot be used to
// probe for foreign message IDs.
var ErrNotFound = NewError(CategoryAuthorization, "message not found")

// ErrDeliveryFinal is returned when a write targets a delivery that already
// reached a terminal status. The existing record is preserved.
var ErrDeliveryFinal = NewError(CategoryInvariant, "delivery already in terminal status")
