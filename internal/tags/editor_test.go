// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tags

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/jellytag/internal/jellyfin"
	"github.com/autobrr/jellytag/internal/nfo"
)

type fakeEditor struct {
	items    map[string]string
	updates  map[string]map[string]any
	failFor  string
	userSeen []string
}

func (f *fakeEditor) GetItem(_ context.Context, itemID, userID string) (*jellyfin.ItemDetails, error) {
	f.userSeen = append(f.userSeen, userID)
	raw, ok := f.items[itemID]
	if !ok {
		return nil, &jellyfin.RemoteError{StatusCode: http.StatusNotFound, Method: http.MethodGet, URL: "http://jf/Items/" + itemID}
	}
	var details jellyfin.ItemDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (f *fakeEditor) UpdateItem(_ context.Context, itemID string, payload any) (json.RawMessage, error) {
	if itemID == f.failFor {
		return nil, &jellyfin.RemoteError{StatusCode: http.StatusInternalServerError, Method: http.MethodPut, URL: "http://jf/Items/" + itemID}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	if f.updates == nil {
		f.updates = make(map[string]map[string]any)
	}
	f.updates[itemID] = decoded
	return nil, nil
}

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		add      []string
		remove   []string
		expected []string
	}{
		{name: "add", existing: []string{"b"}, add: []string{"A"}, expected: []string{"A", "b"}},
		{name: "add_overrides_casing", existing: []string{"drama"}, add: []string{"Drama"}, expected: []string{"Drama"}},
		{name: "remove_case_insensitive", existing: []string{"Drama", "Kids"}, remove: []string{"KIDS"}, expected: []string{"Drama"}},
		{name: "remove_wins_over_add", existing: nil, add: []string{"x"}, remove: []string{"X"}, expected: []string{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeTags(tt.existing, tt.add, tt.remove))
		})
	}
}

func TestApply(t *testing.T) {
	client := &fakeEditor{
		items: map[string]string{
			"heat": `{"Id":"heat","Name":"Heat","Overview":"","Genres":[],"Tags":["Crime"],"TagItems":[{"Name":"Classic"}],
				"ProviderIds":{"Imdb":"tt0113277"},"Path":"/media/Heat/Heat.mkv","LockData":true}`,
			"nopath": `{"Id":"nopath","Name":"No Path","Tags":["a"]}`,
			"broken": `{"Id":"broken","Name":"Broken"}`,
		},
		failFor: "broken",
	}
	fs := afero.NewMemMapFs()
	editor := NewEditor(nfo.NewWriter(fs))

	results := editor.Apply(context.Background(), client, "user", []Change{
		{ID: "heat", Add: []string{"Heist", ""}, Remove: []string{"crime"}},
		{ID: "", Add: []string{"x"}},
		{ID: "nopath"},
		{ID: "broken", Add: []string{"y"}},
		{ID: "missing", Add: []string{"z"}},
		{ID: "nopath", Add: []string{"b"}},
	})
	require.Len(t, results, 6)

	heat := results[0]
	assert.Empty(t, heat.Errors)
	assert.Equal(t, []string{"Heist"}, heat.Added)
	assert.Equal(t, []string{"crime"}, heat.Removed)
	assert.Equal(t, []string{"Classic", "Heist"}, heat.Tags)

	payload := client.updates["heat"]
	assert.Equal(t, "heat", payload["Id"])
	assert.Equal(t, "Heat", payload["Name"])
	assert.Equal(t, []any{"Classic", "Heist"}, payload["Tags"])
	assert.NotContains(t, payload, "Overview", "empty values are not sent")
	assert.NotContains(t, payload, "Genres")
	assert.NotContains(t, payload, "LockData", "only editable fields are sent")
	assert.Equal(t, map[string]any{"Imdb": "tt0113277"}, payload["ProviderIds"])

	sidecar, err := afero.ReadFile(fs, "/media/Heat/Heat.nfo")
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), "<tag>Classic</tag><tag>Heist</tag>")
	assert.Contains(t, string(sidecar), `<uniqueid type="Imdb">tt0113277</uniqueid>`)

	assert.Equal(t, []string{"Missing item id"}, results[1].Errors)

	assert.Empty(t, results[2].Errors)
	assert.Empty(t, results[2].Added)
	assert.Nil(t, results[2].Tags)

	require.Len(t, results[3].Errors, 1)
	assert.Contains(t, results[3].Errors[0], "HTTP 500")

	require.Len(t, results[4].Errors, 1)
	assert.Contains(t, results[4].Errors[0], "HTTP 404")

	assert.Equal(t, []string{"a", "b"}, results[5].Tags)
	exists, err := afero.Exists(fs, "/media/No Path.nfo")
	require.NoError(t, err)
	assert.False(t, exists)

	for _, user := range client.userSeen {
		assert.Equal(t, "user", user)
	}
}
