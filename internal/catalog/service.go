// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourcePrefetch Source = "prefetch"
)

// PrefetchPollPath is the route prefix clients poll for deferred results.
const PrefetchPollPath = "/api/items/prefetch/"

// FetcherFactory returns a fetcher for one set of credentials.
type FetcherFactory func(base, apiKey string) Fetcher

// TagVersioner reports the last refresh of a scope's tag vocabulary.
type TagVersioner interface {
	Version(scope ScopeKey) int64
}

// Recorder receives cache, scan and job events. All methods must be safe for concurrent use.
type Recorder interface {
	ObserveCacheLookup(cache string, hit bool)
	ObserveScan(path string, pages int, elapsed time.Duration)
	PrefetchJobStarted()
	PrefetchJobFinished(status string)
}

type Config struct {
	Scan ScanOptions

	QueryCacheTTL        time.Duration
	QueryCacheMaxEntries int

	PrefetchCacheTTL        time.Duration
	PrefetchCacheMaxEntries int
	PrefetchCacheLimit      int
	PrefetchThreshold       int
	JobRetention            time.Duration
}

// Query is one listing request.
type Query struct {
	Base         string
	APIKey       string
	UserID       string
	LibraryID    string
	IncludeTypes []string
	ExcludeTypes []string
	IncludeTags  []string
	ExcludeTags  []string
	TitleQuery   string
	SortBy       string
	SortOrder    string
	Start        int
	Limit        int
}

func (q Query) scope() ScopeKey {
	return NewScopeKey(q.Base, q.UserID, q.LibraryID, q.IncludeTypes, q.ExcludeTypes)
}

func (q Query) filters() FilterSet {
	return NewFilterSet(q.IncludeTags, q.ExcludeTags, q.TitleQuery)
}

// ItemView is the response shape of a single item.
type ItemView struct {
	ID             string   `json:"Id"`
	Type           string   `json:"Type"`
	Name           string   `json:"Name"`
	SortName       string   `json:"SortName"`
	Path           string   `json:"Path"`
	Tags           []string `json:"Tags"`
	PremiereDate   *string  `json:"PremiereDate"`
	ProductionYear *int     `json:"ProductionYear"`
}

func NewItemView(item jellyfin.Item) ItemView {
	view := ItemView{
		ID:       item.ID,
		Type:     item.Type,
		Name:     item.Name,
		SortName: item.DisplaySortName(),
		Path:     item.Path,
		Tags:     item.TagNames(),
	}
	if item.PremiereDate != "" {
		premiere := item.PremiereDate
		view.PremiereDate = &premiere
	}
	if item.ProductionYear != 0 {
		year := item.ProductionYear
		view.ProductionYear = &year
	}
	return view
}

// Result is a served window.
type Result struct {
	TotalRecordCount int        `json:"TotalRecordCount"`
	TotalMatchCount  int        `json:"TotalMatchCount"`
	ReturnedCount    int        `json:"ReturnedCount"`
	Items            []ItemView `json:"Items"`
	SortBy           SortField  `json:"SortBy"`
	SortOrder        SortOrder  `json:"SortOrder"`
	// Complete is set when the totals are exact rather than lower bounds.
	Complete bool   `json:"Complete"`
	Source   Source `json:"Source"`
}

// Deferred is returned when a prefetch job must finish before the window can be served.
type Deferred struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	PollLocation string    `json:"pollLocation"`
}

// Outcome carries exactly one of Result or Deferred.
type Outcome struct {
	Result   *Result
	Deferred *Deferred
}

type Service struct {
	cfg      Config
	fetchers FetcherFactory
	tags     TagVersioner
	recorder Recorder

	queries  *queryCache
	prefetch *prefetchCache
	jobs     *jobManager

	log zerolog.Logger
}

type Option func(*Service)

func WithTagVersioner(tags TagVersioner) Option {
	return func(s *Service) { s.tags = tags }
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

func NewService(cfg Config, fetchers FetcherFactory, opts ...Option) *Service {
	cfg.Scan = cfg.Scan.withDefaults()
	if cfg.PrefetchThreshold <= 0 {
		cfg.PrefetchThreshold = DefaultPrefetchThreshold
	}

	s := &Service{
		cfg:      cfg,
		fetchers: fetchers,
		queries:  newQueryCache(cfg.QueryCacheMaxEntries, cfg.QueryCacheTTL),
		prefetch: newPrefetchCache(cfg.PrefetchCacheMaxEntries, cfg.PrefetchCacheTTL, cfg.PrefetchCacheLimit),
		log:      log.With().Str("module", "catalog").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.jobs = newJobManager(cfg.JobRetention, s.log)
	if s.recorder != nil {
		s.jobs.onStart = s.recorder.PrefetchJobStarted
		s.jobs.onFinish = func(status JobStatus) { s.recorder.PrefetchJobFinished(string(status)) }
	}
	return s
}

// Close cancels running prefetch jobs and waits for them.
func (s *Service) Close() {
	s.jobs.close()
}

// Invalidate drops every cached listing.
func (s *Service) Invalidate() {
	s.queries.purge()
	s.prefetch.purge()
}

func (s *Service) tagVersion(scope ScopeKey) int64 {
	if s.tags == nil {
		return 0
	}
	return s.tags.Version(scope)
}

func (s *Service) observeCache(name string, hit bool) {
	if s.recorder != nil {
		s.recorder.ObserveCacheLookup(name, hit)
	}
}

func (s *Service) observeScan(path string, res *scanResult, started time.Time) {
	if s.recorder != nil && res != nil {
		s.recorder.ObserveScan(path, res.pages, time.Since(started))
	}
}

// QueryItems serves one window of a filtered, sorted listing.
func (s *Service) QueryItems(ctx context.Context, q Query) (*Outcome, error) {
	scope := q.scope()
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	filters := q.filters()
	sortSpec := NewSortSpec(q.SortBy, q.SortOrder)

	start := q.Start
	if start < 0 {
		start = 0
	}
	if q.Limit <= 0 {
		return &Outcome{Result: &Result{
			Items:     []ItemView{},
			SortBy:    sortSpec.By,
			SortOrder: sortSpec.Order,
			Complete:  false,
			Source:    SourceNetwork,
		}}, nil
	}
	limit := q.Limit

	pkey := prefetchKey{
		Scope:      scope,
		Filters:    filters,
		Sort:       sortSpec,
		TagVersion: s.tagVersion(scope),
	}
	qkey := queryKey{prefetchKey: pkey, Start: start, Limit: limit}

	if cached, ok := s.queries.get(qkey); ok {
		s.observeCache("query", true)
		cached.Source = SourceCache
		return &Outcome{Result: &cached}, nil
	}
	s.observeCache("query", false)

	fetcher := s.fetchers(scope.Base, q.APIKey)

	if filters.IsEmpty() && len(scope.ExcludeTypes()) == 0 {
		result, err := s.direct(ctx, fetcher, pkey, start, limit)
		if err != nil {
			return nil, err
		}
		s.queries.put(qkey, *result)
		return &Outcome{Result: result}, nil
	}

	entry, ok := s.prefetch.get(pkey)
	s.observeCache("prefetch", ok)
	if ok && entry.covers(start, limit) {
		result := windowResult(entry.matches, entry.totalMatches, true, sortSpec, start, limit)
		result.Source = SourcePrefetch
		s.queries.put(qkey, *result)
		return &Outcome{Result: result}, nil
	}

	if filters.HasTagFilters() && start >= s.cfg.PrefetchThreshold {
		if ok && entry.complete {
			s.log.Debug().Int("start", start).Int("retained", len(entry.matches)).Msg("prefetch entry truncated before window, scanning")
		} else {
			snap, err := s.jobs.ensure(pkey, s.prefetchRunner(fetcher, pkey))
			if err != nil {
				return nil, err
			}
			return &Outcome{Deferred: &Deferred{
				JobID:        snap.JobID,
				Status:       snap.Status,
				PollLocation: PrefetchPollPath + snap.JobID,
			}}, nil
		}
	}

	result, err := s.exhaustive(ctx, fetcher, pkey, start, limit)
	if err != nil {
		return nil, err
	}
	s.queries.put(qkey, *result)
	return &Outcome{Result: result}, nil
}

// direct delegates the window to the server; no local filter applies.
func (s *Service) direct(ctx context.Context, fetcher Fetcher, key prefetchKey, start, limit int) (*Result, error) {
	pageSize := limit
	if pageSize > s.cfg.Scan.MaxPageSize {
		pageSize = s.cfg.Scan.MaxPageSize
	}

	started := time.Now()
	res, err := scan(ctx, fetcher, s.cfg.Scan.Concurrency, scanRequest{
		scope:    key.Scope,
		filters:  key.Filters,
		sort:     key.Sort,
		start:    start,
		pageSize: pageSize,
		target:   limit,
	})
	if err != nil {
		return nil, err
	}
	s.observeScan("direct", res, started)

	items := res.matches
	if len(items) > limit {
		items = items[:limit]
	}

	total := start + res.matched
	if res.hasTotal {
		total = res.total
	}

	result := &Result{
		TotalRecordCount: total,
		TotalMatchCount:  total,
		ReturnedCount:    len(items),
		Items:            views(items),
		SortBy:           key.Sort.By,
		SortOrder:        key.Sort.Order,
		Complete:         res.hasTotal || res.complete,
		Source:           SourceNetwork,
	}
	return result, nil
}

// fullScan reads every match of key in sort order.
func (s *Service) fullScan(ctx context.Context, fetcher Fetcher, key prefetchKey, pageSize int, path string) (*scanResult, error) {
	started := time.Now()
	res, err := scan(ctx, fetcher, s.cfg.Scan.Concurrency, scanRequest{
		scope:    key.Scope,
		filters:  key.Filters,
		sort:     key.Sort,
		pageSize: pageSize,
	})
	if err != nil {
		return nil, err
	}
	s.observeScan(path, res, started)

	SortItems(res.matches, key.Sort)
	return res, nil
}

// exhaustive counts every match so the totals are exact, serves the window
// from the sorted matches and keeps them for later windows of the listing.
func (s *Service) exhaustive(ctx context.Context, fetcher Fetcher, key prefetchKey, start, limit int) (*Result, error) {
	res, err := s.fullScan(ctx, fetcher, key, s.cfg.Scan.fetchSize(limit), "filtered")
	if err != nil {
		return nil, err
	}
	s.prefetch.put(key, res.matches, res.records(), res.complete)

	result := windowResult(res.matches, res.matched, res.complete, key.Sort, start, limit)
	result.Source = SourceNetwork
	return result, nil
}

func (s *Service) prefetchRunner(fetcher Fetcher, key prefetchKey) jobRunner {
	return func(ctx context.Context) (*prefetchEntry, error) {
		res, err := s.fullScan(ctx, fetcher, key, s.cfg.Scan.PageSize, "prefetch")
		if err != nil {
			return nil, err
		}
		return s.prefetch.put(key, res.matches, res.records(), res.complete), nil
	}
}

// PrefetchStatus reports a prefetch job by id.
func (s *Service) PrefetchStatus(jobID string) (JobSnapshot, error) {
	return s.jobs.status(jobID)
}

// RunningJobs is the number of prefetch jobs not yet finished.
func (s *Service) RunningJobs() int {
	return s.jobs.running()
}

// Collect returns every match of q, sorted. Start and Limit are ignored.
func (s *Service) Collect(ctx context.Context, q Query, pageSize int) ([]jellyfin.Item, error) {
	scope := q.scope()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	sortSpec := NewSortSpec(q.SortBy, q.SortOrder)

	if pageSize <= 0 {
		pageSize = s.cfg.Scan.PageSize
	}
	if pageSize > s.cfg.Scan.MaxPageSize {
		pageSize = s.cfg.Scan.MaxPageSize
	}

	started := time.Now()
	res, err := scan(ctx, s.fetchers(scope.Base, q.APIKey), s.cfg.Scan.Concurrency, scanRequest{
		scope:    scope,
		filters:  q.filters(),
		sort:     sortSpec,
		pageSize: pageSize,
	})
	if err != nil {
		return nil, err
	}
	s.observeScan("collect", res, started)

	SortItems(res.matches, sortSpec)
	return res.matches, nil
}

// WalkStats summarises a Walk.
type WalkStats struct {
	Pages     int
	Processed int
	Total     int
}

// Walk visits every item in scope. progress, when set, is called after each page.
func Walk(ctx context.Context, fetcher Fetcher, opts ScanOptions, scope ScopeKey, visit func(jellyfin.Item), progress func(pages, processed int)) (WalkStats, error) {
	opts = opts.withDefaults()
	res, err := scan(ctx, fetcher, opts.Concurrency, scanRequest{
		scope:    scope,
		sort:     NewSortSpec("", ""),
		pageSize: opts.PageSize,
		visit:    visit,
		progress: progress,
	})
	if err != nil {
		return WalkStats{}, err
	}
	return WalkStats{Pages: res.pages, Processed: res.processed, Total: res.total}, nil
}

func windowResult(sorted []jellyfin.Item, totalMatches int, complete bool, spec SortSpec, start, limit int) *Result {
	var window []jellyfin.Item
	if start < len(sorted) {
		end := start + limit
		if end > len(sorted) {
			end = len(sorted)
		}
		window = sorted[start:end]
	}

	return &Result{
		TotalRecordCount: totalMatches,
		TotalMatchCount:  totalMatches,
		ReturnedCount:    len(window),
		Items:            views(window),
		SortBy:           spec.By,
		SortOrder:        spec.Order,
		Complete:         complete,
	}
}

func views(items []jellyfin.Item) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, item := range items {
		out = append(out, NewItemView(item))
	}
	return out
}
