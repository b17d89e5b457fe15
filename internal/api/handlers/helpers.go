// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/jellyfin"
)

const maxRequestBody = 4 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	var validation *catalog.ValidationError
	var remote *jellyfin.RemoteError

	switch {
	case errors.As(err, &validation):
		RespondError(w, http.StatusBadRequest, validation.Message)
	case errors.Is(err, catalog.ErrJobNotFound):
		RespondError(w, http.StatusNotFound, "Prefetch job not found")
	case errors.As(err, &remote):
		RespondError(w, http.StatusBadGateway, remote.Error())
	case errors.Is(err, catalog.ErrClosed):
		RespondError(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		RespondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads an optional JSON object body. An empty body decodes as {}.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errors.Wrap(err, "read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// Credentials yields the server address and API key used when a request omits them.
type Credentials interface {
	Defaults() (baseURL, apiKey string)
}

// connection is embedded in every request body that talks to Jellyfin.
type connection struct {
	Base   string `json:"base"`
	APIKey string `json:"apiKey"`
}

// resolve prefers request values and falls back to configured defaults.
func (c connection) resolve(defaults Credentials) (string, string) {
	base := strings.TrimRight(strings.TrimSpace(c.Base), "/")
	apiKey := strings.TrimSpace(c.APIKey)
	if defaults == nil {
		return base, apiKey
	}

	defaultBase, defaultKey := defaults.Defaults()
	if base == "" {
		base = strings.TrimRight(strings.TrimSpace(defaultBase), "/")
	}
	if apiKey == "" {
		apiKey = strings.TrimSpace(defaultKey)
	}
	return base, apiKey
}

func requireBase(base string) error {
	if base == "" {
		return &catalog.ValidationError{Field: "base", Message: "Jellyfin base URL is required"}
	}
	return nil
}

// looseString accepts JSON strings and numbers; ids are sometimes sent unquoted.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		*s = looseString(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return errors.Errorf("expected string or number, got %s", trimmed)
	}
	*s = looseString(n.String())
	return nil
}

// stringList accepts a single string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		*l = stringList{single}
		return nil
	}
	var values []any
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return errors.Errorf("expected string or list, got %s", trimmed)
	}
	out := make(stringList, 0, len(values))
	for _, v := range values {
		switch typed := v.(type) {
		case string:
			out = append(out, typed)
		case float64:
			out = append(out, strconv.FormatFloat(typed, 'f', -1, 64))
		}
	}
	*l = out
	return nil
}

// optionalInt keeps whatever the client sent so the handler can apply its own fallback.
type optionalInt struct {
	value int
	valid bool
}

func (o *optionalInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if v, err := n.Int64(); err == nil {
		o.value, o.valid = boundedInt(float64(v)), true
		return nil
	}
	if f, err := n.Float64(); err == nil && !math.IsNaN(f) {
		o.value, o.valid = boundedInt(f), true
	}
	return nil
}

// boundedInt truncates f into the int32 range so oversized input cannot overflow.
func boundedInt(f float64) int {
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

func (o optionalInt) or(fallback int) int {
	if !o.valid {
		return fallback
	}
	return o.value
}
