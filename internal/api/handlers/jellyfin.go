// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

// JellyfinHandler passes server metadata through to the UI untouched.
type JellyfinHandler struct {
	pool        *jellyfin.ClientPool
	credentials Credentials
}

func NewJellyfinHandler(pool *jellyfin.ClientPool, credentials Credentials) *JellyfinHandler {
	return &JellyfinHandler{
		pool:        pool,
		credentials: credentials,
	}
}

func (h *JellyfinHandler) Routes(r chi.Router) {
	r.Post("/users", h.Users)
	r.Post("/libraries", h.Libraries)
}

func (h *JellyfinHandler) Users(w http.ResponseWriter, r *http.Request) {
	h.passThrough(w, r, "users", func(ctx context.Context, c *jellyfin.Client) (json.RawMessage, error) {
		return c.Users(ctx)
	})
}

func (h *JellyfinHandler) Libraries(w http.ResponseWriter, r *http.Request) {
	h.passThrough(w, r, "libraries", func(ctx context.Context, c *jellyfin.Client) (json.RawMessage, error) {
		return c.VirtualFolders(ctx)
	})
}

func (h *JellyfinHandler) passThrough(w http.ResponseWriter, r *http.Request, name string, fetch func(context.Context, *jellyfin.Client) (json.RawMessage, error)) {
	var req connection
	if err := decodeJSON(r, &req); err != nil {
		log.Warn().Err(err).Msgf("failed to decode %s request", name)
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	base, apiKey := req.resolve(h.credentials)
	if err := requireBase(base); err != nil {
		log.Warn().Str("endpoint", name).Msg("missing Jellyfin base URL")
		respondServiceError(w, err)
		return
	}

	payload, err := fetch(r.Context(), h.pool.Get(base, apiKey))
	if err != nil {
		log.Error().Err(err).Str("base", base).Msgf("failed to fetch %s", name)
		respondServiceError(w, err)
		return
	}

	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	RespondJSON(w, http.StatusOK, payload)
}
