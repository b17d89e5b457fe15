// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"sort"
	"strings"
	"time"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

var premiereLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type nameKey struct {
	sortName string
	name     string
	id       string
}

func newNameKey(item jellyfin.Item) nameKey {
	return nameKey{
		sortName: Fold(item.DisplaySortName()),
		name:     Fold(item.Name),
		id:       item.ID,
	}
}

func (a nameKey) less(b nameKey) bool {
	if a.sortName != b.sortName {
		return a.sortName < b.sortName
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.id < b.id
}

// premiereTime parses PremiereDate, falling back to January 1st of
// ProductionYear. Naive timestamps are read as UTC.
func premiereTime(item jellyfin.Item) (time.Time, bool) {
	if raw := strings.TrimSpace(item.PremiereDate); raw != "" {
		for _, layout := range premiereLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), true
			}
		}
	}
	if item.ProductionYear >= 1 && item.ProductionYear <= 9999 {
		return time.Date(item.ProductionYear, time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// SortItems orders items in place.
//
// SortName sorts by folded sort name, folded name and id; descending reverses
// the whole order. PremiereDate sorts by date with undated items last in both
// directions and ties broken by the ascending name order.
func SortItems(items []jellyfin.Item, spec SortSpec) {
	keys := make([]nameKey, len(items))
	for i := range items {
		keys[i] = newNameKey(items[i])
	}

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}

	switch spec.By {
	case SortByPremiereDate:
		times := make([]time.Time, len(items))
		dated := make([]bool, len(items))
		for i := range items {
			times[i], dated[i] = premiereTime(items[i])
		}
		sort.SliceStable(idx, func(a, b int) bool {
			i, j := idx[a], idx[b]
			if dated[i] != dated[j] {
				return dated[i]
			}
			if dated[i] && !times[i].Equal(times[j]) {
				if spec.Descending() {
					return times[i].After(times[j])
				}
				return times[i].Before(times[j])
			}
			return keys[i].less(keys[j])
		})
	default:
		sort.SliceStable(idx, func(a, b int) bool {
			i, j := idx[a], idx[b]
			if spec.Descending() {
				return keys[j].less(keys[i])
			}
			return keys[i].less(keys[j])
		})
	}

	sorted := make([]jellyfin.Item, len(items))
	for pos, i := range idx {
		sorted[pos] = items[i]
	}
	copy(items, sorted)
}
