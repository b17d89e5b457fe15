// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tags

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/jellyfin"
)

// fakeClient answers tag listings per endpoint and item pages from a fixed list.
type fakeClient struct {
	mu        sync.Mutex
	userTags  *jellyfin.TagPage
	userErr   error
	itemTags  *jellyfin.TagPage
	items     []jellyfin.Item
	gate      chan struct{}
	listCalls int
}

func (c *fakeClient) ListTags(ctx context.Context, q jellyfin.TagsQuery) (*jellyfin.TagPage, error) {
	c.mu.Lock()
	c.listCalls++
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if q.StartIndex > 0 {
		return &jellyfin.TagPage{ItemsValid: true}, nil
	}
	if q.UserID != "" {
		if c.userErr != nil {
			return nil, c.userErr
		}
		if c.userTags != nil {
			return c.userTags, nil
		}
	} else if c.itemTags != nil {
		return c.itemTags, nil
	}
	return &jellyfin.TagPage{ItemsValid: true}, nil
}

func (c *fakeClient) FetchItems(_ context.Context, q jellyfin.ItemsQuery) (*jellyfin.ItemsPage, error) {
	page := &jellyfin.ItemsPage{TotalRecordCount: len(c.items), HasTotal: true}
	if q.StartIndex < len(c.items) {
		end := q.StartIndex + q.Limit
		if end > len(c.items) {
			end = len(c.items)
		}
		page.Items = c.items[q.StartIndex:end]
	}
	return page, nil
}

func newTagService(t *testing.T, client *fakeClient, cfg Config) *Service {
	t.Helper()
	svc := NewService(cfg, func(string, string) Client { return client }, nil)
	t.Cleanup(svc.Close)
	return svc
}

func request() Request {
	return Request{Base: "http://jf.local", APIKey: "key", UserID: "user", LibraryID: "lib", Types: []string{"movie"}}
}

func TestGetValidation(t *testing.T) {
	svc := newTagService(t, &fakeClient{}, Config{})

	_, err := svc.Get(context.Background(), Request{Base: "http://jf.local"})
	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "libraryId is required", verr.Message)

	_, err = svc.Get(context.Background(), Request{LibraryID: "lib"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Jellyfin base URL is required", verr.Message)
}

func TestGetStrategyFallback(t *testing.T) {
	userTags := &jellyfin.TagPage{ItemsValid: true, Entries: []jellyfin.TagEntry{
		{Name: "Drama", ItemCount: intPtr(2)},
		{Name: "Action", Count: intPtr(7)},
	}}
	itemTags := &jellyfin.TagPage{ItemsValid: true, Entries: []jellyfin.TagEntry{{Name: "Global"}}}
	items := []jellyfin.Item{
		{ID: "1", Tags: []string{"Kids", "Family"}},
		{ID: "2", Tags: []string{"family"}},
	}

	tests := []struct {
		name     string
		client   *fakeClient
		req      Request
		source   Source
		expected []string
	}{
		{
			name:     "user_listing",
			client:   &fakeClient{userTags: userTags, itemTags: itemTags, items: items},
			req:      request(),
			source:   SourceUserTags,
			expected: []string{"Action", "Drama"},
		},
		{
			name:     "user_listing_fails",
			client:   &fakeClient{userErr: errors.New("forbidden"), itemTags: itemTags, items: items},
			req:      request(),
			source:   SourceItemTags,
			expected: []string{"Global"},
		},
		{
			name:     "no_user_skips_user_listing",
			client:   &fakeClient{userTags: userTags, itemTags: itemTags, items: items},
			req:      Request{Base: "http://jf.local", LibraryID: "lib"},
			source:   SourceItemTags,
			expected: []string{"Global"},
		},
		{
			name:     "listings_empty_aggregates",
			client:   &fakeClient{items: items},
			req:      request(),
			source:   SourceAggregated,
			expected: []string{"Family", "Kids"},
		},
		{
			name:     "nothing_anywhere",
			client:   &fakeClient{},
			req:      request(),
			source:   SourceAggregated,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc := newTagService(t, tt.client, Config{})

			out, err := svc.Get(context.Background(), tt.req)
			require.NoError(t, err)
			require.NotNil(t, out.Response)
			assert.Equal(t, tt.source, out.Response.Source)
			assert.Equal(t, tt.expected, out.Response.Tags)
			assert.True(t, out.Response.Cached)
			assert.False(t, out.Response.Loading)
			assert.NotZero(t, out.Response.LastUpdated)
		})
	}
}

func TestGetPendingWhileRefreshing(t *testing.T) {
	client := &fakeClient{
		gate:     make(chan struct{}),
		itemTags: &jellyfin.TagPage{ItemsValid: true, Entries: []jellyfin.TagEntry{{Name: "Late"}}},
	}
	svc := newTagService(t, client, Config{WaitTimeout: 600 * time.Millisecond})
	req := Request{Base: "http://jf.local", LibraryID: "lib"}

	out, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "pending", out.Pending.Status)
	assert.Equal(t, "Gathering tags, please try again shortly.", out.Pending.Message)

	status := svc.Status(req)
	assert.True(t, status.Loading)
	assert.Nil(t, status.LastUpdated)
	assert.Zero(t, svc.Version(catalog.NewScopeKey("http://jf.local", "", "lib", nil, nil)))

	close(client.gate)

	require.Eventually(t, func() bool {
		out, err := svc.Get(context.Background(), req)
		return err == nil && out.Response != nil
	}, 5*time.Second, 50*time.Millisecond)

	client.mu.Lock()
	calls := client.listCalls
	client.mu.Unlock()
	assert.Equal(t, 1, calls, "concurrent callers share one refresh")

	status = svc.Status(req)
	assert.False(t, status.Loading)
	require.NotNil(t, status.LastUpdated)
	assert.Equal(t, 1, status.Pages)
	assert.Equal(t, 1, status.Processed)
}

func TestVersionTracksRefresh(t *testing.T) {
	client := &fakeClient{itemTags: &jellyfin.TagPage{ItemsValid: true, Entries: []jellyfin.TagEntry{{Name: "A"}}}}
	svc := newTagService(t, client, Config{})

	req := Request{Base: "http://jf.local", LibraryID: "lib", Types: []string{"Movie"}}
	_, err := svc.Get(context.Background(), req)
	require.NoError(t, err)

	scope := catalog.NewScopeKey("http://jf.local", "", "lib", []string{"movie"}, catalog.CollectionItemTypes)
	assert.NotZero(t, svc.Version(scope), "excluded types do not change the vocabulary")

	other := catalog.NewScopeKey("http://jf.local", "", "other", nil, nil)
	assert.Zero(t, svc.Version(other))
}

func TestStaleEntriesRefresh(t *testing.T) {
	client := &fakeClient{itemTags: &jellyfin.TagPage{ItemsValid: true, Entries: []jellyfin.TagEntry{{Name: "A"}}}}
	svc := newTagService(t, client, Config{TTL: 50 * time.Millisecond})
	req := Request{Base: "http://jf.local", LibraryID: "lib"}

	_, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	first := svc.Version(req.key())

	time.Sleep(100 * time.Millisecond)

	out, err := svc.Get(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, out.Response, "a stale vocabulary is served while it refreshes")

	require.Eventually(t, func() bool {
		return svc.Version(req.key()) > first
	}, 5*time.Second, 20*time.Millisecond)
}
