// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tags

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/jellyfin"
)

const (
	DefaultTTL         = 600 * time.Second
	DefaultWaitTimeout = 5 * time.Second

	pollInterval   = 500 * time.Millisecond
	pendingMessage = "Gathering tags, please try again shortly."
)

type Source string

const (
	SourceUserTags   Source = "users-items-tags"
	SourceItemTags   Source = "items-tags"
	SourceAggregated Source = "aggregated"
)

var errNotReady = errors.New("tag cache not ready")

// Client is the subset of the Jellyfin client the tag service needs.
type Client interface {
	ListTags(ctx context.Context, q jellyfin.TagsQuery) (*jellyfin.TagPage, error)
	FetchItems(ctx context.Context, q jellyfin.ItemsQuery) (*jellyfin.ItemsPage, error)
}

type ClientFactory func(base, apiKey string) Client

// Recorder receives one event per finished refresh.
type Recorder interface {
	ObserveTagRefresh(source string, err error, elapsed time.Duration)
}

type Config struct {
	TTL         time.Duration
	PageLimit   int
	MaxPages    int
	WaitTimeout time.Duration
	Scan        catalog.ScanOptions
}

// Request selects a tag vocabulary.
type Request struct {
	Base      string
	APIKey    string
	UserID    string
	LibraryID string
	Types     []string
}

func (r Request) key() catalog.ScopeKey {
	return catalog.NewScopeKey(r.Base, r.UserID, r.LibraryID, r.Types, nil)
}

// Response is a served vocabulary.
type Response struct {
	Tags        []string `json:"tags"`
	Source      Source   `json:"source"`
	Cached      bool     `json:"cached"`
	Loading     bool     `json:"loading"`
	LastUpdated float64  `json:"lastUpdated"`
}

// Pending is returned when no vocabulary is available within the wait timeout.
type Pending struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Outcome carries exactly one of Response or Pending.
type Outcome struct {
	Response *Response
	Pending  *Pending
}

// Status reports refresh progress for a vocabulary.
type Status struct {
	Loading     bool     `json:"loading"`
	Processed   int      `json:"processed"`
	Pages       int      `json:"pages"`
	LastUpdated *float64 `json:"lastUpdated"`
}

type entry struct {
	tags      []string
	source    Source
	loading   bool
	err       string
	updated   time.Time
	processed int
	pages     int
}

func (e *entry) ready() bool {
	return len(e.tags) > 0 || (!e.loading && !e.updated.IsZero())
}

// Service caches tag vocabularies per scope and refreshes them in the background.
type Service struct {
	cfg      Config
	clients  ClientFactory
	recorder Recorder

	mu      sync.Mutex
	entries map[catalog.ScopeKey]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log zerolog.Logger
}

func NewService(cfg Config, clients ClientFactory, recorder Recorder) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		clients:  clients,
		recorder: recorder,
		entries:  make(map[catalog.ScopeKey]*entry),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With().Str("module", "tags").Logger(),
	}
}

// Close stops running refreshes and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Base) == "":
		return &catalog.ValidationError{Field: "base", Message: "Jellyfin base URL is required"}
	case strings.TrimSpace(req.LibraryID) == "":
		return &catalog.ValidationError{Field: "libraryId", Message: "libraryId is required"}
	}
	return nil
}

// Get serves the cached vocabulary, starting a refresh when it is missing or
// stale and waiting briefly for one to land.
func (s *Service) Get(ctx context.Context, req Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	key := req.key()

	s.mu.Lock()
	current := s.entries[key]
	if current == nil || current.updated.IsZero() || time.Since(current.updated) > s.cfg.TTL {
		s.refreshLocked(key, req.APIKey)
	}
	s.mu.Unlock()

	attempts := uint(s.cfg.WaitTimeout/pollInterval) + 1
	err := retry.Do(
		func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			e := s.entries[key]
			if e.ready() || (!e.loading && e.err != "") {
				return nil
			}
			return errNotReady
		},
		retry.Attempts(attempts),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errNotReady) }),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil && !errors.Is(err, errNotReady) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if !e.ready() {
		message := pendingMessage
		if e.err != "" {
			message = e.err
		}
		return &Outcome{Pending: &Pending{Status: "pending", Message: message}}, nil
	}

	tags := append([]string{}, e.tags...)
	return &Outcome{Response: &Response{
		Tags:        tags,
		Source:      e.source,
		Cached:      true,
		Loading:     e.loading,
		LastUpdated: unixSeconds(e.updated),
	}}, nil
}

// Status reports progress of the vocabulary's current or last refresh.
func (s *Service) Status(req Request) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[req.key()]
	if !ok {
		return Status{}
	}
	status := Status{Loading: e.loading, Processed: e.processed, Pages: e.pages}
	if !e.updated.IsZero() {
		updated := unixSeconds(e.updated)
		status.LastUpdated = &updated
	}
	return status
}

// Version returns the last refresh time of the scope's vocabulary in unix nanos, or 0.
func (s *Service) Version(scope catalog.ScopeKey) int64 {
	key := catalog.NewScopeKey(scope.Base, scope.UserID, scope.LibraryID, scope.IncludeTypes(), nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.updated.IsZero() {
		return e.updated.UnixNano()
	}
	return 0
}

// refreshLocked starts a refresh unless one is running. s.mu must be held.
func (s *Service) refreshLocked(key catalog.ScopeKey, apiKey string) {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	if e.loading {
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	e.loading = true
	e.err = ""
	e.processed = 0
	e.pages = 0

	s.wg.Add(1)
	go s.refresh(key, apiKey)
}

func (s *Service) refresh(key catalog.ScopeKey, apiKey string) {
	defer s.wg.Done()

	started := time.Now()
	logger := s.log.With().Str("library", key.LibraryID).Str("user", key.UserID).Logger()

	progress := func(pages, processed int) {
		s.mu.Lock()
		if e := s.entries[key]; e != nil {
			e.pages = pages
			e.processed = processed
		}
		s.mu.Unlock()
	}

	client := s.clients(key.Base, apiKey)
	tags, source, err := s.gather(s.ctx, client, key, progress)

	s.mu.Lock()
	e := s.entries[key]
	e.loading = false
	if err != nil {
		e.err = err.Error()
	} else {
		e.tags = tags
		e.source = source
		e.updated = time.Now()
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveTagRefresh(string(source), err, time.Since(started))
	}

	if err != nil {
		logger.Error().Err(err).Msg("tag refresh failed")
		return
	}
	logger.Info().Int("tags", len(tags)).Str("source", string(source)).Dur("elapsed", time.Since(started)).Msg("tag refresh finished")
}

type strategy struct {
	source Source
	run    func(ctx context.Context, client Client, key catalog.ScopeKey, progress func(pages, processed int)) (*counter, error)
}

func (s *Service) strategies(key catalog.ScopeKey) []strategy {
	var out []strategy

	listing := func(userID string) func(context.Context, Client, catalog.ScopeKey, func(int, int)) (*counter, error) {
		return func(ctx context.Context, client Client, key catalog.ScopeKey, progress func(int, int)) (*counter, error) {
			endpoint := "/Items/Tags"
			if userID != "" {
				endpoint = "/Users/{id}/Items/Tags"
			}
			pages, processed := 0, 0
			return collectListing(ctx, client, jellyfin.TagsQuery{
				UserID:       userID,
				ParentID:     key.LibraryID,
				IncludeTypes: key.IncludeTypes(),
			}, endpoint, s.cfg.PageLimit, s.cfg.MaxPages, func(entries int) {
				pages++
				processed += entries
				progress(pages, processed)
			})
		}
	}

	if key.UserID != "" {
		out = append(out, strategy{source: SourceUserTags, run: listing(key.UserID)})
	}
	out = append(out,
		strategy{source: SourceItemTags, run: listing("")},
		strategy{source: SourceAggregated, run: s.aggregate},
	)
	return out
}

func (s *Service) aggregate(ctx context.Context, client Client, key catalog.ScopeKey, progress func(pages, processed int)) (*counter, error) {
	out := newCounter()
	_, err := catalog.Walk(ctx, client, s.cfg.Scan, key, func(item jellyfin.Item) {
		for _, name := range item.TagNames() {
			out.add(name, 1)
		}
	}, progress)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// gather runs each strategy in order. A strategy that fails or finds nothing
// hands over to the next one; the last strategy's result stands.
func (s *Service) gather(ctx context.Context, client Client, key catalog.ScopeKey, progress func(pages, processed int)) ([]string, Source, error) {
	strategies := s.strategies(key)

	var lastErr error
	for i, st := range strategies {
		last := i == len(strategies)-1

		counts, err := st.run(ctx, client, key, progress)
		if err != nil {
			if ctx.Err() != nil {
				return nil, st.source, ctx.Err()
			}
			s.log.Warn().Err(err).Str("source", string(st.source)).Msg("tag strategy failed")
			lastErr = err
			if last {
				return nil, st.source, lastErr
			}
			continue
		}
		if counts.empty() && !last {
			s.log.Debug().Str("source", string(st.source)).Msg("tag strategy returned no tags")
			continue
		}
		return counts.sorted(), st.source, nil
	}
	return nil, "", lastErr
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
