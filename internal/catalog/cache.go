// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

const (
	DefaultQueryCacheTTL        = 600 * time.Second
	DefaultQueryCacheMaxEntries = 128

	DefaultPrefetchCacheTTL        = 600 * time.Second
	DefaultPrefetchCacheMaxEntries = 16
	DefaultPrefetchCacheLimit      = 20000
	DefaultPrefetchThreshold       = 2000
)

// prefetchKey identifies a fully scanned, filtered and sorted listing.
type prefetchKey struct {
	Scope      ScopeKey
	Filters    FilterSet
	Sort       SortSpec
	TagVersion int64
}

type queryKey struct {
	prefetchKey
	Start int
	Limit int
}

// queryCache holds assembled responses for exact windows.
type queryCache struct {
	lru *expirable.LRU[queryKey, Result]
}

func newQueryCache(size int, ttl time.Duration) *queryCache {
	if size <= 0 {
		size = DefaultQueryCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	return &queryCache{lru: expirable.NewLRU[queryKey, Result](size, nil, ttl)}
}

func (c *queryCache) get(key queryKey) (Result, bool) {
	return c.lru.Get(key)
}

func (c *queryCache) put(key queryKey, result Result) {
	c.lru.Add(key, result)
}

func (c *queryCache) len() int { return c.lru.Len() }

func (c *queryCache) purge() { c.lru.Purge() }

// prefetchEntry is a completed full scan. Matches are sorted and at most the
// retained maximum long.
type prefetchEntry struct {
	matches      []jellyfin.Item
	totalMatches int
	totalRecords int
	complete     bool
	truncated    bool
}

// covers reports whether the window [start, start+limit) can be served.
func (e *prefetchEntry) covers(start, limit int) bool {
	if !e.complete {
		return false
	}
	if !e.truncated {
		return true
	}
	end := start + limit
	if end > e.totalMatches {
		end = e.totalMatches
	}
	return end <= len(e.matches)
}

type prefetchCache struct {
	lru   *expirable.LRU[prefetchKey, *prefetchEntry]
	limit int
}

func newPrefetchCache(size int, ttl time.Duration, limit int) *prefetchCache {
	if size <= 0 {
		size = DefaultPrefetchCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultPrefetchCacheTTL
	}
	if limit <= 0 {
		limit = DefaultPrefetchCacheLimit
	}
	return &prefetchCache{
		lru:   expirable.NewLRU[prefetchKey, *prefetchEntry](size, nil, ttl),
		limit: limit,
	}
}

func (c *prefetchCache) get(key prefetchKey) (*prefetchEntry, bool) {
	return c.lru.Get(key)
}

// put stores sorted matches, keeping at most the retained maximum.
func (c *prefetchCache) put(key prefetchKey, matches []jellyfin.Item, totalRecords int, complete bool) *prefetchEntry {
	entry := &prefetchEntry{
		totalMatches: len(matches),
		totalRecords: totalRecords,
		complete:     complete,
	}
	if len(matches) > c.limit {
		matches = matches[:c.limit]
		entry.truncated = true
	}
	entry.matches = append([]jellyfin.Item(nil), matches...)
	c.lru.Add(key, entry)
	return entry
}

func (c *prefetchCache) len() int { return c.lru.Len() }

func (c *prefetchCache) purge() { c.lru.Purge() }
