// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tags

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/jellyfin"
	"github.com/autobrr/jellytag/internal/nfo"
)

// updateFields are copied from the fetched item into the update payload.
var updateFields = []string{
	"Id",
	"Name",
	"SortName",
	"Overview",
	"Genres",
	"Tags",
	"ProviderIds",
	"CommunityRating",
	"CriticRating",
	"OfficialRating",
	"ProductionYear",
	"PremiereDate",
	"EndDate",
	"Taglines",
	"People",
	"Studios",
}

// ItemEditor reads and writes single items.
type ItemEditor interface {
	GetItem(ctx context.Context, itemID, userID string) (*jellyfin.ItemDetails, error)
	UpdateItem(ctx context.Context, itemID string, payload any) (json.RawMessage, error)
}

// Change adds and removes tags on one item.
type Change struct {
	ID     string   `json:"id"`
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type ChangeResult struct {
	ID      string   `json:"id"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Errors  []string `json:"errors"`
	Tags    []string `json:"tags,omitempty"`
}

// Editor applies tag changes and mirrors them into .nfo sidecars.
type Editor struct {
	sidecars *nfo.Writer
	log      zerolog.Logger
}

func NewEditor(sidecars *nfo.Writer) *Editor {
	return &Editor{
		sidecars: sidecars,
		log:      log.With().Str("module", "editor").Logger(),
	}
}

// Apply processes every change in order. A failing item is reported in its
// result and never stops the batch.
func (e *Editor) Apply(ctx context.Context, client ItemEditor, userID string, changes []Change) []ChangeResult {
	results := make([]ChangeResult, 0, len(changes))

	for _, change := range changes {
		adds := nonEmpty(change.Add)
		removes := nonEmpty(change.Remove)

		result := ChangeResult{
			ID:      change.ID,
			Added:   []string{},
			Removed: []string{},
			Errors:  []string{},
		}

		switch {
		case strings.TrimSpace(change.ID) == "":
			result.Errors = append(result.Errors, "Missing item id")
		case len(adds) == 0 && len(removes) == 0:
			e.log.Debug().Str("item", change.ID).Msg("no tag changes for item")
		default:
			e.log.Info().Str("item", change.ID).Strs("add", adds).Strs("remove", removes).Msg("applying tag changes")

			final, err := e.update(ctx, client, userID, change.ID, adds, removes)
			if err != nil {
				e.log.Error().Err(err).Str("item", change.ID).Msg("could not update tags")
				result.Errors = append(result.Errors, err.Error())
				break
			}
			result.Added = adds
			result.Removed = removes
			result.Tags = final
		}

		results = append(results, result)
	}

	return results
}

func (e *Editor) update(ctx context.Context, client ItemEditor, userID, itemID string, adds, removes []string) ([]string, error) {
	item, err := client.GetItem(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}

	final := MergeTags(item.TagNames(), adds, removes)

	payload := updatePayload(item.Raw)
	if _, ok := payload["Id"]; !ok {
		payload["Id"] = itemID
	}
	payload["Tags"] = final

	if _, err := client.UpdateItem(ctx, itemID, payload); err != nil {
		return nil, err
	}

	if item.Path == "" || e.sidecars == nil {
		return final, nil
	}

	path, err := e.sidecars.Write(item.Path, sidecarMetadata(item, final))
	if err != nil {
		return nil, errors.Wrap(err, "tags updated but sidecar write failed")
	}
	e.log.Debug().Str("item", itemID).Str("path", path).Msg("wrote nfo sidecar")

	return final, nil
}

// MergeTags applies adds then removes by lowercase key and sorts the result
// case-insensitively. Adds replace the casing of an existing tag.
func MergeTags(existing, adds, removes []string) []string {
	merged := make(map[string]string, len(existing)+len(adds))
	for _, tag := range existing {
		if tag != "" {
			merged[strings.ToLower(tag)] = tag
		}
	}
	for _, tag := range adds {
		if tag != "" {
			merged[strings.ToLower(tag)] = tag
		}
	}
	for _, tag := range removes {
		delete(merged, strings.ToLower(tag))
	}

	out := make([]string, 0, len(merged))
	for _, tag := range merged {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i]), strings.ToLower(out[j])
		if a != b {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// updatePayload copies the editable fields the server sent, dropping empty ones.
func updatePayload(raw map[string]json.RawMessage) map[string]any {
	payload := make(map[string]any, len(updateFields))
	for _, field := range updateFields {
		if field == "Tags" {
			continue
		}
		value, ok := raw[field]
		if !ok || isEmptyJSON(value) {
			continue
		}
		payload[field] = value
	}
	return payload
}

func isEmptyJSON(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		return true
	case bytes.Equal(trimmed, []byte("[]")), bytes.Equal(trimmed, []byte("{}")):
		return true
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return strings.TrimSpace(s) == ""
		}
	case trimmed[0] == '[' || trimmed[0] == '{':
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			switch t := v.(type) {
			case []any:
				return len(t) == 0
			case map[string]any:
				return len(t) == 0
			}
		}
	}
	return false
}

func sidecarMetadata(item *jellyfin.ItemDetails, tags []string) nfo.Metadata {
	m := nfo.Metadata{
		Title:           item.Name,
		SortTitle:       item.SortName,
		Plot:            item.Overview,
		Taglines:        item.Taglines,
		CommunityRating: item.CommunityRating,
		CriticRating:    item.CriticRating,
		MPAA:            item.OfficialRating,
		Year:            item.ProductionYear,
		Premiered:       item.PremiereDate,
		Ended:           item.EndDate,
		Genres:          item.Genres,
		Tags:            tags,
		UniqueIDs:       item.ProviderIDs,
	}
	for _, p := range item.People {
		m.People = append(m.People, nfo.Person{Name: p.Name, Type: p.Type, Role: p.Role})
	}
	for _, studio := range item.Studios {
		m.Studios = append(m.Studios, studio.Name)
	}
	return m
}
