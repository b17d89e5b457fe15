// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tags

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/jellyfin"
)

const (
	DefaultPageLimit = 200
	DefaultMaxPages  = 100
)

// counter accumulates tag counts keyed by folded name, remembering the first casing seen.
type counter struct {
	counts    map[string]int
	canonical map[string]string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int), canonical: make(map[string]string)}
}

func (c *counter) add(name string, count int) {
	if count <= 0 {
		return
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return
	}
	key := catalog.Fold(trimmed)
	if _, ok := c.canonical[key]; !ok {
		c.canonical[key] = trimmed
	}
	c.counts[key] += count
}

func (c *counter) empty() bool { return len(c.counts) == 0 }

// sorted orders names by descending count, then folded name, then literal name.
func (c *counter) sorted() []string {
	type row struct {
		name  string
		fold  string
		count int
	}

	rows := make([]row, 0, len(c.counts))
	for key, count := range c.counts {
		rows = append(rows, row{name: c.canonical[key], fold: key, count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		if rows[i].fold != rows[j].fold {
			return rows[i].fold < rows[j].fold
		}
		return rows[i].name < rows[j].name
	})

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.name
	}
	return names
}

// entryCount prefers ItemCount, then Count, then 1.
func entryCount(entry jellyfin.TagEntry) int {
	if entry.ItemCount != nil {
		return *entry.ItemCount
	}
	if entry.Count != nil {
		return *entry.Count
	}
	return 1
}

func pageSignature(entries []jellyfin.TagEntry) uint64 {
	d := xxhash.New()
	for _, entry := range entries {
		_, _ = d.WriteString(entry.Name)
		_, _ = d.WriteString("\x1f")
		_, _ = d.WriteString(optionalCount(entry.ItemCount))
		_, _ = d.WriteString("\x1f")
		_, _ = d.WriteString(optionalCount(entry.Count))
		_, _ = d.WriteString("\x1e")
	}
	return d.Sum64()
}

func optionalCount(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

type tagLister interface {
	ListTags(ctx context.Context, q jellyfin.TagsQuery) (*jellyfin.TagPage, error)
}

// collectListing pages a tag listing endpoint until it is exhausted.
// Repeated identical pages and runaway pagination are reported as anomalies.
func collectListing(ctx context.Context, lister tagLister, base jellyfin.TagsQuery, endpoint string, pageLimit, maxPages int, progress func(entries int)) (*counter, error) {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	out := newCounter()
	start := 0
	var previous uint64
	havePrevious := false

	for page := 1; ; page++ {
		q := base
		q.StartIndex = start
		q.Limit = pageLimit

		resp, err := lister.ListTags(ctx, q)
		if err != nil {
			return nil, err
		}
		if !resp.ItemsValid {
			return nil, &PaginationAnomalyError{Endpoint: endpoint, Page: page, Reason: "unexpected payload"}
		}

		signature := pageSignature(resp.Entries)
		if havePrevious && signature == previous {
			return nil, &PaginationAnomalyError{Endpoint: endpoint, Page: page, Reason: "page repeated, server appears to cap pagination"}
		}
		previous, havePrevious = signature, true

		if len(resp.Entries) == 0 {
			return out, nil
		}

		for _, entry := range resp.Entries {
			out.add(entry.Name, entryCount(entry))
		}
		if progress != nil {
			progress(len(resp.Entries))
		}

		size := len(resp.Entries)
		start += size

		if size < pageLimit || (resp.HasTotal && start >= resp.Total) {
			return out, nil
		}
		if page >= maxPages {
			return nil, &PaginationAnomalyError{Endpoint: endpoint, Page: page, Reason: "exceeded maximum page count"}
		}
	}
}
