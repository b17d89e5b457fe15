// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/jellyfin"
	"github.com/autobrr/jellytag/internal/tags"
)

type ApplyHandler struct {
	editor      *tags.Editor
	pool        *jellyfin.ClientPool
	catalog     *catalog.Service
	credentials Credentials
}

func NewApplyHandler(editor *tags.Editor, pool *jellyfin.ClientPool, service *catalog.Service, credentials Credentials) *ApplyHandler {
	return &ApplyHandler{
		editor:      editor,
		pool:        pool,
		catalog:     service,
		credentials: credentials,
	}
}

func (h *ApplyHandler) Routes(r chi.Router) {
	r.Post("/apply", h.Apply)
}

type applyRequest struct {
	connection
	UserID  looseString   `json:"userId"`
	Changes []tags.Change `json:"changes"`
}

type applyResponse struct {
	Updated []tags.ChangeResult `json:"updated"`
}

// Apply runs a batch of tag changes. Per-item failures are reported in the
// results; the request itself only fails on invalid input.
func (h *ApplyHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var body applyRequest
	if err := decodeJSON(r, &body); err != nil {
		log.Warn().Err(err).Msg("failed to decode apply request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	base, apiKey := body.resolve(h.credentials)
	if err := requireBase(base); err != nil {
		respondServiceError(w, err)
		return
	}
	if body.UserID == "" {
		log.Warn().Msg("apply request missing userId")
		RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	log.Info().Str("base", base).Str("user", string(body.UserID)).Int("changes", len(body.Changes)).Msg("applying tag changes")

	results := h.editor.Apply(r.Context(), h.pool.Get(base, apiKey), string(body.UserID), body.Changes)

	for _, result := range results {
		if len(result.Errors) == 0 && (len(result.Added) > 0 || len(result.Removed) > 0) {
			h.catalog.Invalidate()
			break
		}
	}

	log.Info().Int("results", len(results)).Msg("finished applying tag changes")
	RespondJSON(w, http.StatusOK, applyResponse{Updated: results})
}
