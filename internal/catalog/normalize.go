// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// CollectionItemTypes are dropped when a request asks to hide collections.
var CollectionItemTypes = []string{"BoxSet", "CollectionFolder"}

var knownItemTypes = map[string]string{
	"movie":            "Movie",
	"series":           "Series",
	"season":           "Season",
	"episode":          "Episode",
	"audio":            "Audio",
	"audiobook":        "AudioBook",
	"musicvideo":       "MusicVideo",
	"musicalbum":       "MusicAlbum",
	"musicartist":      "MusicArtist",
	"playlist":         "Playlist",
	"boxset":           "BoxSet",
	"collectionfolder": "CollectionFolder",
	"folder":           "Folder",
	"photo":            "Photo",
	"photoalbum":       "PhotoAlbum",
	"book":             "Book",
	"video":            "Video",
	"program":          "Program",
	"recording":        "Recording",
	"tvchannel":        "TvChannel",
	"trailer":          "Trailer",
}

// Fold returns the Unicode case-folded form used for every case-insensitive comparison.
// A Caser is not safe for concurrent use, so one is created per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeItemTypes splits comma separated values, maps known Jellyfin type
// names to their canonical casing and drops case-insensitive duplicates.
// Order of first appearance is kept.
func NormalizeItemTypes(raw ...string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			candidate := strings.TrimSpace(part)
			if candidate == "" {
				continue
			}
			canonical, ok := knownItemTypes[Fold(candidate)]
			if !ok {
				canonical = candidate
			}
			key := Fold(canonical)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, canonical)
		}
	}
	return out
}

// NormalizeTags splits on commas and semicolons, trims, drops case-insensitive
// duplicates (first casing wins) and sorts case-insensitively. The result is
// stable under repeated application.
func NormalizeTags(raw ...string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, value := range raw {
		for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' }) {
			tag := strings.TrimSpace(part)
			if tag == "" {
				continue
			}
			key := Fold(tag)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, tag)
		}
	}

	SortCaseInsensitive(out)
	return out
}

// SortCaseInsensitive orders by folded value, then by the literal string.
func SortCaseInsensitive(values []string) {
	sort.SliceStable(values, func(i, j int) bool {
		a, b := Fold(values[i]), Fold(values[j])
		if a != b {
			return a < b
		}
		return values[i] < values[j]
	})
}

// canonicalSet folds, de-duplicates and sorts values so equal sets compare equal.
func canonicalSet(values []string, fold bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		v := strings.TrimSpace(value)
		if v == "" {
			continue
		}
		key := Fold(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if fold {
			out = append(out, key)
		} else {
			out = append(out, v)
		}
	}
	SortCaseInsensitive(out)
	return out
}
