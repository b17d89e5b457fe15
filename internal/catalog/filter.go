// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"strings"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

// Matches reports whether item passes every local filter.
// Tag comparison and title search are case-insensitive.
func (f FilterSet) Matches(item jellyfin.Item) bool {
	if f.HasTagFilters() {
		tags := make(map[string]struct{})
		for _, name := range item.TagNames() {
			tags[Fold(name)] = struct{}{}
		}
		for _, required := range f.RequiredTags() {
			if _, ok := tags[required]; !ok {
				return false
			}
		}
		for _, forbidden := range f.ForbiddenTags() {
			if _, ok := tags[forbidden]; ok {
				return false
			}
		}
	}

	if f.title == "" {
		return true
	}

	query := Fold(f.title)
	for _, candidate := range []string{item.Name, item.SortName} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if strings.Contains(Fold(candidate), query) {
			return true
		}
	}
	return false
}

// keep reports whether an item survives scope exclusions and filters.
func keep(scope ScopeKey, filters FilterSet, item jellyfin.Item) bool {
	if scope.excludes(item.Type) {
		return false
	}
	return filters.Matches(item)
}
