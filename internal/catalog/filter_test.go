// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

func TestFilterSetMatches(t *testing.T) {
	item := jellyfin.Item{
		Name:     "The Straße Movie",
		SortName: "Strasse Movie, The",
		TagItems: []jellyfin.NameRef{{Name: "Drama"}},
		Tags:     []string{"Family"},
	}

	tests := []struct {
		name     string
		filters  FilterSet
		expected bool
	}{
		{name: "no_filters", filters: NewFilterSet(nil, nil, ""), expected: true},
		{name: "required_present", filters: NewFilterSet([]string{"drama", "FAMILY"}, nil, ""), expected: true},
		{name: "required_missing", filters: NewFilterSet([]string{"drama", "horror"}, nil, ""), expected: false},
		{name: "forbidden_present", filters: NewFilterSet(nil, []string{"family"}, ""), expected: false},
		{name: "forbidden_absent", filters: NewFilterSet(nil, []string{"horror"}, ""), expected: true},
		{name: "title_in_name", filters: NewFilterSet(nil, nil, "STRASSE"), expected: true},
		{name: "title_in_sort_name", filters: NewFilterSet(nil, nil, "movie, the"), expected: true},
		{name: "title_missing", filters: NewFilterSet(nil, nil, "heat"), expected: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.filters.Matches(item))
		})
	}
}

func TestFilterIgnoresBlankNames(t *testing.T) {
	item := jellyfin.Item{Name: "  ", SortName: ""}
	assert.False(t, NewFilterSet(nil, nil, "a").Matches(item))
}
