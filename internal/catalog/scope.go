// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"strings"
)

// listSep joins canonical sets into comparable strings; tags can never contain it.
const listSep = "\x1f"

func joinSet(values []string) string { return strings.Join(values, listSep) }

func splitSet(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, listSep)
}

// ScopeKey identifies the slice of a Jellyfin catalog a query runs against.
// It is comparable and safe to use as a map or cache key.
type ScopeKey struct {
	Base      string
	UserID    string
	LibraryID string

	includeTypes string
	excludeTypes string
}

func NewScopeKey(base, userID, libraryID string, includeTypes, excludeTypes []string) ScopeKey {
	return ScopeKey{
		Base:         strings.TrimRight(strings.TrimSpace(base), "/"),
		UserID:       strings.TrimSpace(userID),
		LibraryID:    strings.TrimSpace(libraryID),
		includeTypes: joinSet(canonicalSet(NormalizeItemTypes(includeTypes...), false)),
		excludeTypes: joinSet(canonicalSet(NormalizeItemTypes(excludeTypes...), false)),
	}
}

func (s ScopeKey) IncludeTypes() []string { return splitSet(s.includeTypes) }
func (s ScopeKey) ExcludeTypes() []string { return splitSet(s.excludeTypes) }

func (s ScopeKey) excludes(itemType string) bool {
	if s.excludeTypes == "" || itemType == "" {
		return false
	}
	folded := Fold(itemType)
	for _, t := range s.ExcludeTypes() {
		if Fold(t) == folded {
			return true
		}
	}
	return false
}

// Validate reports the first missing required field.
func (s ScopeKey) Validate() error {
	switch {
	case s.Base == "":
		return &ValidationError{Field: "base", Message: "Jellyfin base URL is required"}
	case s.UserID == "":
		return &ValidationError{Field: "userId", Message: "userId is required"}
	case s.LibraryID == "":
		return &ValidationError{Field: "libraryId", Message: "libraryId is required"}
	}
	return nil
}

// FilterSet holds the filters the server cannot apply for us.
type FilterSet struct {
	requiredTags  string
	forbiddenTags string
	title         string
}

func NewFilterSet(requiredTags, forbiddenTags []string, titleQuery string) FilterSet {
	return FilterSet{
		requiredTags:  joinSet(canonicalSet(requiredTags, true)),
		forbiddenTags: joinSet(canonicalSet(forbiddenTags, true)),
		title:         strings.TrimSpace(titleQuery),
	}
}

func (f FilterSet) RequiredTags() []string  { return splitSet(f.requiredTags) }
func (f FilterSet) ForbiddenTags() []string { return splitSet(f.forbiddenTags) }
func (f FilterSet) TitleQuery() string      { return f.title }

// HasTagFilters reports whether any tag inclusion or exclusion is requested.
func (f FilterSet) HasTagFilters() bool {
	return f.requiredTags != "" || f.forbiddenTags != ""
}

// IsEmpty reports whether every item passes.
func (f FilterSet) IsEmpty() bool {
	return !f.HasTagFilters() && f.title == ""
}

type SortField string

const (
	SortBySortName     SortField = "SortName"
	SortByPremiereDate SortField = "PremiereDate"
)

type SortOrder string

const (
	Ascending  SortOrder = "Ascending"
	Descending SortOrder = "Descending"
)

type SortSpec struct {
	By    SortField
	Order SortOrder
}

// NewSortSpec maps free-form input onto a supported sort, defaulting to SortName ascending.
func NewSortSpec(by, order string) SortSpec {
	spec := SortSpec{By: SortBySortName, Order: Ascending}

	switch SortField(strings.TrimSpace(by)) {
	case SortByPremiereDate:
		spec.By = SortByPremiereDate
	}

	switch strings.ToLower(strings.TrimSpace(order)) {
	case "descending", "desc":
		spec.Order = Descending
	}
	return spec
}

func (s SortSpec) Descending() bool { return s.Order == Descending }
