// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mkarlsen/omnicast/internal/command"
	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/logging"
)

// ownerHeader carries the authenticated caller identity, set by the edge.
const ownerHeader = "X-Owner-ID"

// maxBodySize bounds request bodies well above the 4096-char content cap.
const maxBodySize = 64 << 10

type scheduleRequest struct {
	Text         string    `json:"text"`
	MediaRef     string    `json:"media_ref,omitempty"`
	Channels     []string  `json:"channels"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	RecipientRef string    `json:"recipient_ref,omitempty"`
}

type certificationRequest struct {
	MemberName        string    `json:"member_name"`
	CertificationType string    `json:"certification_type"`
	Channels          []string  `json:"channels"`
	ScheduledAt       time.Time `json:"scheduled_at,omitempty"`
	MediaRef          string    `json:"media_ref,omitempty"`
	RecipientRef      string    `json:"recipient_ref,omitempty"`
}

type scheduleResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "X-Owner-ID header is required")
		return
	}

	var req scheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed_body", err.Error())
		return
	}

	id, err := s.service.Schedule(r.Context(), command.ScheduleCommand{
		OwnerID:      ownerID,
		Text:         req.Text,
		MediaRef:     req.MediaRef,
		Channels:     req.Channels,
		ScheduledAt:  req.ScheduledAt,
		RecipientRef: req.RecipientRef,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, scheduleResponse{ID: id.String()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "X-Owner-ID header is required")
		return
	}

	m, err := s.service.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.service.ListChannelKinds())
}

func (s *Server) handleSubmitCertification(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "X-Owner-ID header is required")
		return
	}

	var req certificationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed_body", err.Error())
		return
	}

	id, err := s.service.SubmitCertification(r.Context(), command.CertificationCommand{
		OwnerID:           ownerID,
		MemberName:        req.MemberName,
		CertificationType: req.CertificationType,
		Channels:          req.Channels,
		ScheduledAt:       req.ScheduledAt,
		MediaRef:          req.MediaRef,
		RecipientRef:      req.RecipientRef,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, scheduleResponse{ID: id.String()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Code: code, Message: message})
}

// respondDomainError maps the error taxonomy onto status codes. Authorization
// errors read as not-found so foreign message IDs are indistinguishable from
// nonexistent ones.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}

	cat := domain.CategoryOf(err)
	switch cat {
	case domain.CategoryValidation:
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case domain.CategoryAuthorization:
		respondError(w, http.StatusNotFound, "not_found", "message not found")
	case domain.CategoryGuardrailBlocked:
		respondError(w, http.StatusUnprocessableEntity, "content_blocked", err.Error())
	case domain.CategoryInvariant:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Invariant violation in request path")
		respondError(w, http.StatusConflict, "conflict", "request conflicts with current state")
	case domain.CategoryTransient:
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Transient failure in request path")
		respondError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Unhandled error in request path")
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
