// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/catalog"
)

const (
	defaultItemsLimit = 100
	maxItemsLimit     = 100
)

type ItemsHandler struct {
	catalog     *catalog.Service
	credentials Credentials
	baseURL     string
}

func NewItemsHandler(service *catalog.Service, credentials Credentials, baseURL string) *ItemsHandler {
	return &ItemsHandler{
		catalog:     service,
		credentials: credentials,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}
}

func (h *ItemsHandler) Routes(r chi.Router) {
	r.Post("/items", h.Query)
	r.Get("/items/prefetch/{jobID}", h.PrefetchStatus)
}

// itemsRequest is shared by listing and export.
type itemsRequest struct {
	connection
	UserID             looseString `json:"userId"`
	LibraryID          looseString `json:"libraryId"`
	Types              stringList  `json:"types"`
	IncludeTags        stringList  `json:"includeTags"`
	ExcludeTags        stringList  `json:"excludeTags"`
	ExcludeCollections bool        `json:"excludeCollections"`
	TitleQuery         looseString `json:"titleQuery"`
	SortBy             string      `json:"sortBy"`
	SortOrder          string      `json:"sortOrder"`
	StartIndex         optionalInt `json:"startIndex"`
	Limit              optionalInt `json:"limit"`
}

func (req itemsRequest) query(credentials Credentials) catalog.Query {
	base, apiKey := req.resolve(credentials)

	q := catalog.Query{
		Base:         base,
		APIKey:       apiKey,
		UserID:       string(req.UserID),
		LibraryID:    string(req.LibraryID),
		IncludeTypes: catalog.NormalizeItemTypes(req.Types...),
		IncludeTags:  catalog.NormalizeTags(req.IncludeTags...),
		ExcludeTags:  catalog.NormalizeTags(req.ExcludeTags...),
		TitleQuery:   strings.TrimSpace(string(req.TitleQuery)),
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
		Start:        clamp(req.StartIndex.or(0), 0, -1),
		Limit:        clamp(req.Limit.or(defaultItemsLimit), 0, maxItemsLimit),
	}
	if req.ExcludeCollections {
		q.ExcludeTypes = catalog.CollectionItemTypes
	}
	return q
}

// clamp bounds v to [lo, hi]; a negative hi means unbounded.
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi >= 0 && v > hi {
		return hi
	}
	return v
}

// Query serves one window of a filtered listing. Deep windows that need a
// prefetch respond 202 with the job to poll.
func (h *ItemsHandler) Query(w http.ResponseWriter, r *http.Request) {
	var body itemsRequest
	if err := decodeJSON(r, &body); err != nil {
		log.Warn().Err(err).Msg("failed to decode items request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	q := body.query(h.credentials)

	log.Info().
		Str("base", q.Base).
		Str("library", q.LibraryID).
		Str("user", q.UserID).
		Strs("include", q.IncludeTags).
		Strs("exclude", q.ExcludeTags).
		Int("start", q.Start).
		Int("limit", q.Limit).
		Msg("items request")

	outcome, err := h.catalog.QueryItems(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("library", q.LibraryID).Msg("items query failed")
		respondServiceError(w, err)
		return
	}

	if outcome.Deferred != nil {
		w.Header().Set("Location", h.baseURL+outcome.Deferred.PollLocation)
		RespondJSON(w, http.StatusAccepted, outcome.Deferred)
		return
	}

	log.Info().
		Int("returned", outcome.Result.ReturnedCount).
		Int("matches", outcome.Result.TotalMatchCount).
		Bool("complete", outcome.Result.Complete).
		Str("source", string(outcome.Result.Source)).
		Msg("returning items")
	RespondJSON(w, http.StatusOK, outcome.Result)
}

func (h *ItemsHandler) PrefetchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		RespondError(w, http.StatusBadRequest, "jobID is required")
		return
	}

	snapshot, err := h.catalog.PrefetchStatus(jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, snapshot)
}
