// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemDecodingIsDefensive(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected Item
	}{
		{
			name:    "well_formed",
			payload: `{"Id":"1","Name":"Heat","SortName":"heat","Type":"Movie","Path":"/m/heat.mkv","PremiereDate":"1995-12-15T00:00:00.0000000Z","ProductionYear":1995,"Tags":["Crime"],"TagItems":[{"Name":"Classic","Id":"t1"}],"InheritedTags":["Collection"]}`,
			expected: Item{
				ID: "1", Name: "Heat", SortName: "heat", Type: "Movie", Path: "/m/heat.mkv",
				PremiereDate: "1995-12-15T00:00:00.0000000Z", ProductionYear: 1995,
				Tags: []string{"Crime"}, TagItems: []NameRef{{Name: "Classic", ID: "t1"}}, InheritedTags: []string{"Collection"},
			},
		},
		{
			name:    "wrong_types",
			payload: `{"Id":7,"Name":null,"ProductionYear":"2001","Tags":"not-a-list","TagItems":[null,"Loose",{"Name":3}],"InheritedTags":[1,"Kept"]}`,
			expected: Item{
				ID: "7", ProductionYear: 2001,
				TagItems:      []NameRef{{Name: "Loose"}, {Name: "3"}},
				InheritedTags: []string{"Kept"},
			},
		},
		{
			name:     "garbage_year",
			payload:  `{"Id":"x","ProductionYear":{"a":1}}`,
			expected: Item{ID: "x"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var item Item
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &item))
			assert.Equal(t, tt.expected, item)
		})
	}
}

func TestItemTagNames(t *testing.T) {
	item := Item{
		TagItems:      []NameRef{{Name: " Drama "}, {Name: ""}},
		Tags:          []string{"drama", "Family", "  "},
		InheritedTags: []string{"FAMILY", "Kids"},
	}

	assert.Equal(t, []string{"Drama", "Family", "Kids"}, item.TagNames())
}

func TestItemsPageSkipsInvalidEntries(t *testing.T) {
	var page ItemsPage
	require.NoError(t, json.Unmarshal([]byte(`{"Items":[{"Id":"a"},5,"x",{"Id":"b"}]}`), &page))

	require.Len(t, page.Items, 2)
	assert.Equal(t, "a", page.Items[0].ID)
	assert.Equal(t, "b", page.Items[1].ID)
	assert.Equal(t, 4, page.Received)
	assert.Equal(t, 4, page.Len(), "skipped elements still advance paging")
	assert.False(t, page.HasTotal)
}

func TestTagPageValidity(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		valid    bool
		entries  int
		total    int
		hasTotal bool
	}{
		{name: "list", payload: `{"Items":[{"Name":"a"}],"TotalRecordCount":4}`, valid: true, entries: 1, total: 4, hasTotal: true},
		{name: "total_count_fallback", payload: `{"Items":[],"TotalCount":9}`, valid: true, total: 9, hasTotal: true},
		{name: "missing_items", payload: `{}`, valid: true},
		{name: "object_items", payload: `{"Items":{"Name":"a"}}`, valid: false},
		{name: "string_items", payload: `{"Items":"a"}`, valid: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var page TagPage
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &page))
			assert.Equal(t, tt.valid, page.ItemsValid)
			assert.Len(t, page.Entries, tt.entries)
			assert.Equal(t, tt.total, page.Total)
			assert.Equal(t, tt.hasTotal, page.HasTotal)
		})
	}
}

func TestItemDetailsKeepsRawFields(t *testing.T) {
	payload := `{
		"Id":"42","Name":"Heat","Overview":"LA crime","Genres":["Crime","Drama"],
		"Taglines":["A Los Angeles crime saga"],"CommunityRating":7.9,"OfficialRating":"R",
		"People":[{"Name":"Al Pacino","Type":"Actor","Role":"Vincent Hanna","PrimaryImageTag":"abc"}],
		"Studios":[{"Name":"Warner Bros.","Id":"s1"}],"ProviderIds":{"Imdb":"tt0113277","Tmdb":null},
		"LockData":true
	}`

	var details ItemDetails
	require.NoError(t, json.Unmarshal([]byte(payload), &details))

	assert.Equal(t, "42", details.ID)
	assert.Equal(t, "LA crime", details.Overview)
	assert.Equal(t, []string{"Crime", "Drama"}, details.Genres)
	require.NotNil(t, details.CommunityRating)
	assert.InDelta(t, 7.9, *details.CommunityRating, 0.0001)
	assert.Nil(t, details.CriticRating)
	assert.Equal(t, []Person{{Name: "Al Pacino", Type: "Actor", Role: "Vincent Hanna"}}, details.People)
	assert.Equal(t, map[string]string{"Imdb": "tt0113277"}, details.ProviderIDs)
	assert.Contains(t, details.Raw, "LockData")
	assert.Contains(t, string(details.Raw["People"]), "PrimaryImageTag")
}
