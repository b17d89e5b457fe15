// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/export"
)

type ExportHandler struct {
	catalog     *catalog.Service
	credentials Credentials
}

func NewExportHandler(service *catalog.Service, credentials Credentials) *ExportHandler {
	return &ExportHandler{
		catalog:     service,
		credentials: credentials,
	}
}

func (h *ExportHandler) Routes(r chi.Router) {
	r.Post("/export", h.Export)
}

// Export streams every match of the filters as a CSV attachment.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	var body itemsRequest
	if err := decodeJSON(r, &body); err != nil {
		log.Warn().Err(err).Msg("failed to decode export request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	q := body.query(h.credentials)

	items, err := h.catalog.Collect(r.Context(), q, export.FetchSize)
	if err != nil {
		log.Error().Err(err).Str("library", q.LibraryID).Msg("export failed")
		respondServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, items); err != nil {
		log.Error().Err(err).Msg("failed to render export")
		RespondError(w, http.StatusInternalServerError, "Failed to render export")
		return
	}

	log.Info().Int("rows", len(items)).Str("library", q.LibraryID).Msg("export ready")

	w.Header().Set("Content-Type", export.ContentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("client went away during export")
	}
}
