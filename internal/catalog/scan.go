// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

const (
	DefaultScanPageSize    = 200
	DefaultScanMaxPageSize = 1000
	DefaultScanConcurrency = 8
)

// Fetcher reads one page of a library listing.
type Fetcher interface {
	FetchItems(ctx context.Context, q jellyfin.ItemsQuery) (*jellyfin.ItemsPage, error)
}

// ScanOptions bounds the adaptive scan.
type ScanOptions struct {
	PageSize    int
	MaxPageSize int
	Concurrency int
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultScanPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultScanMaxPageSize
	}
	if o.PageSize > o.MaxPageSize {
		o.PageSize = o.MaxPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultScanConcurrency
	}
	return o
}

// fetchSize is the page size requested for a window of limit matches.
func (o ScanOptions) fetchSize(limit int) int {
	size := o.PageSize
	if limit > size {
		size = limit
	}
	if size > o.MaxPageSize {
		size = o.MaxPageSize
	}
	return size
}

type scanRequest struct {
	scope    ScopeKey
	filters  FilterSet
	sort     SortSpec
	fields   []string
	start    int
	pageSize int
	// target stops the scan once this many matches were seen; 0 scans to the end.
	target int
	// visit receives matches instead of collecting them.
	visit func(jellyfin.Item)
	// progress is called after every consumed page.
	progress func(pages, processed int)
}

type scanResult struct {
	matches   []jellyfin.Item
	matched   int
	total     int
	hasTotal  bool
	complete  bool
	pages     int
	processed int
}

type pageFuture struct {
	offset int
	limit  int
	cancel context.CancelFunc
	done   chan struct{}
	page   *jellyfin.ItemsPage
	err    error
}

func (r scanRequest) query(offset, limit int) jellyfin.ItemsQuery {
	return jellyfin.ItemsQuery{
		UserID:       r.scope.UserID,
		ParentID:     r.scope.LibraryID,
		IncludeTypes: r.scope.IncludeTypes(),
		ExcludeTypes: r.scope.ExcludeTypes(),
		Fields:       r.fields,
		StartIndex:   offset,
		Limit:        limit,
		SearchTerm:   r.filters.TitleQuery(),
		SortBy:       string(r.sort.By),
		SortOrder:    string(r.sort.Order),
	}
}

// scan pages through the scope in offset order, keeping up to concurrency
// pages in flight. A short page while the server reports more records is
// treated as a server side cap and the observed size is used from then on.
func scan(ctx context.Context, fetcher Fetcher, concurrency int, req scanRequest) (*scanResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	pageSize := req.pageSize
	if pageSize <= 0 {
		pageSize = DefaultScanPageSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(concurrency)

	var queue []*pageFuture
	launch := func(offset, limit int) {
		fctx, fcancel := context.WithCancel(ctx)
		f := &pageFuture{offset: offset, limit: limit, cancel: fcancel, done: make(chan struct{})}
		queue = append(queue, f)
		g.Go(func() error {
			defer close(f.done)
			f.page, f.err = fetcher.FetchItems(fctx, req.query(offset, limit))
			return nil
		})
	}
	drop := func() {
		for _, f := range queue {
			f.cancel()
		}
		queue = nil
	}
	defer func() {
		drop()
		_ = g.Wait()
	}()

	res := &scanResult{}
	cursor := req.start

	for {
		if len(queue) == 0 || queue[0].offset != cursor || queue[0].limit != pageSize {
			drop()
			launch(cursor, pageSize)
		}

		f := queue[0]
		queue = queue[1:]

		select {
		case <-f.done:
		case <-ctx.Done():
			f.cancel()
			return nil, ctx.Err()
		}
		f.cancel()
		if f.err != nil {
			return nil, f.err
		}

		page := f.page
		res.pages++
		if page.HasTotal {
			res.total = page.TotalRecordCount
			res.hasTotal = true
		}

		count := page.Len()
		if count == 0 {
			res.complete = true
			res.report(req)
			return res, nil
		}

		for _, item := range page.Items {
			res.processed++
			if !keep(req.scope, req.filters, item) {
				continue
			}
			res.matched++
			if req.visit != nil {
				req.visit(item)
			} else {
				res.matches = append(res.matches, item)
			}
		}
		cursor += count
		res.report(req)

		if req.target > 0 && res.matched >= req.target {
			return res, nil
		}

		if count < pageSize {
			if !res.hasTotal || cursor >= res.total {
				res.complete = true
				return res, nil
			}
			pageSize = count
			drop()
		}

		for len(queue) < concurrency {
			offset := cursor + len(queue)*pageSize
			if len(queue) > 0 && (!res.hasTotal || offset >= res.total) {
				break
			}
			launch(offset, pageSize)
		}
	}
}

// records is the library size reported by the server, or the number of
// items read when the server sent no total.
func (r *scanResult) records() int {
	if r.hasTotal {
		return r.total
	}
	return r.processed
}

func (r *scanResult) report(req scanRequest) {
	if req.progress != nil {
		req.progress(r.pages, r.processed)
	}
}
