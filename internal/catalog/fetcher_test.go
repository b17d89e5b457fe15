// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

// fakeFetcher serves a fixed item list, optionally capping page sizes the way
// some servers do.
type fakeFetcher struct {
	mu        sync.Mutex
	items     []jellyfin.Item
	pageCap   int
	hideTotal bool
	err       error
	block     chan struct{}
	// delay, when set, holds each response back by a per-offset latency.
	delay func(offset int) time.Duration
	// malformed marks item indexes the server sends but that fail to decode.
	malformed map[int]bool
	queries   []jellyfin.ItemsQuery
}

func (f *fakeFetcher) FetchItems(ctx context.Context, q jellyfin.ItemsQuery) (*jellyfin.ItemsPage, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	block, err, delay := f.block, f.err, f.delay
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(q.StartIndex)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if f.pageCap > 0 && limit > f.pageCap {
		limit = f.pageCap
	}

	page := &jellyfin.ItemsPage{TotalRecordCount: len(f.items), HasTotal: !f.hideTotal}
	if q.StartIndex < len(f.items) {
		end := q.StartIndex + limit
		if end > len(f.items) {
			end = len(f.items)
		}
		page.Received = end - q.StartIndex
		for i := q.StartIndex; i < end; i++ {
			if f.malformed[i] {
				continue
			}
			page.Items = append(page.Items, f.items[i])
		}
	}
	return page, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// numberedItems returns n items already in ascending name order. Every item
// whose index is divisible by tagEvery carries the "Keep" tag.
func numberedItems(n, tagEvery int) []jellyfin.Item {
	items := make([]jellyfin.Item, n)
	for i := range items {
		items[i] = jellyfin.Item{
			ID:   fmt.Sprintf("id-%04d", i),
			Name: fmt.Sprintf("Item %04d", i),
			Type: "Movie",
		}
		if tagEvery > 0 && i%tagEvery == 0 {
			items[i].Tags = []string{"Keep"}
		}
	}
	return items
}
