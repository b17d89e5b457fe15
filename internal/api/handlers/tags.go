// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/tags"
)

type TagsHandler struct {
	service     *tags.Service
	credentials Credentials
}

func NewTagsHandler(service *tags.Service, credentials Credentials) *TagsHandler {
	return &TagsHandler{
		service:     service,
		credentials: credentials,
	}
}

func (h *TagsHandler) Routes(r chi.Router) {
	r.Post("/tags", h.Vocabulary)
	r.Post("/tags/status", h.Status)
}

type tagsRequest struct {
	connection
	UserID    looseString `json:"userId"`
	LibraryID looseString `json:"libraryId"`
	Types     stringList  `json:"types"`
}

func (h *TagsHandler) request(body tagsRequest) tags.Request {
	base, apiKey := body.resolve(h.credentials)
	return tags.Request{
		Base:      base,
		APIKey:    apiKey,
		UserID:    string(body.UserID),
		LibraryID: string(body.LibraryID),
		Types:     body.Types,
	}
}

// Vocabulary returns the cached tag list, or 202 while it is still being gathered.
func (h *TagsHandler) Vocabulary(w http.ResponseWriter, r *http.Request) {
	var body tagsRequest
	if err := decodeJSON(r, &body); err != nil {
		log.Warn().Err(err).Msg("failed to decode tags request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req := h.request(body)

	outcome, err := h.service.Get(r.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("library", req.LibraryID).Msg("tags request rejected")
		respondServiceError(w, err)
		return
	}

	if outcome.Pending != nil {
		log.Info().Str("library", req.LibraryID).Str("user", req.UserID).Msg("tag cache pending")
		RespondJSON(w, http.StatusAccepted, outcome.Pending)
		return
	}

	log.Info().
		Int("tags", len(outcome.Response.Tags)).
		Str("source", string(outcome.Response.Source)).
		Bool("loading", outcome.Response.Loading).
		Msg("returning tags")
	RespondJSON(w, http.StatusOK, outcome.Response)
}

func (h *TagsHandler) Status(w http.ResponseWriter, r *http.Request) {
	var body tagsRequest
	if err := decodeJSON(r, &body); err != nil {
		log.Warn().Err(err).Msg("failed to decode tag status request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	RespondJSON(w, http.StatusOK, h.service.Status(h.request(body)))
}
