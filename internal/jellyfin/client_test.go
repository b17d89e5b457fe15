// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchItemsRequestShape(t *testing.T) {
	tests := []struct {
		name         string
		query        ItemsQuery
		expectedPath string
		expected     map[string]string
		absent       []string
	}{
		{
			name: "user_scoped",
			query: ItemsQuery{
				UserID:       "user-1",
				ParentID:     "lib-1",
				IncludeTypes: []string{"Movie", "Series"},
				ExcludeTypes: []string{"BoxSet"},
				StartIndex:   50,
				Limit:        25,
				SearchTerm:   "alien",
				SortBy:       "SortName",
				SortOrder:    "Descending",
			},
			expectedPath: "/Users/user-1/Items",
			expected: map[string]string{
				"ParentId":         "lib-1",
				"Recursive":        "true",
				"IncludeItemTypes": "Movie,Series",
				"ExcludeItemTypes": "BoxSet",
				"StartIndex":       "50",
				"Limit":            "25",
				"SearchTerm":       "alien",
				"SortBy":           "SortName",
				"SortOrder":        "Descending",
				"Fields":           strings.Join(DefaultItemFields, ","),
			},
		},
		{
			name:         "server_wide",
			query:        ItemsQuery{ParentID: "lib-2", Limit: 10},
			expectedPath: "/Items",
			expected: map[string]string{
				"ParentId":   "lib-2",
				"StartIndex": "0",
				"Limit":      "10",
			},
			absent: []string{"IncludeItemTypes", "ExcludeItemTypes", "SearchTerm", "SortBy", "SortOrder"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.expectedPath, r.URL.Path)
				assert.Equal(t, "secret", r.Header.Get("X-Emby-Token"))
				q := r.URL.Query()
				for key, want := range tt.expected {
					assert.Equal(t, want, q.Get(key), key)
				}
				for _, key := range tt.absent {
					assert.False(t, q.Has(key), key)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, `{"Items":[{"Id":"1","Name":"Alien"}],"TotalRecordCount":1}`)
			}))
			defer srv.Close()

			client := NewClient(srv.URL+"/", " secret ", time.Second)
			page, err := client.FetchItems(context.Background(), tt.query)
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, "Alien", page.Items[0].Name)
			assert.True(t, page.HasTotal)
			assert.Equal(t, 1, page.TotalRecordCount)
		})
	}
}

func TestRemoteErrorDetails(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contains    []string
		notContains []string
	}{
		{
			name:     "message_and_error_code",
			body:     `{"Message":"Item not found","ErrorCode":"NotFound"}`,
			contains: []string{"HTTP 404 Not Found for url:", " - Item not found; ErrorCode=NotFound"},
		},
		{
			name:     "lowercase_keys",
			body:     `{"message":"boom","errorCode":42}`,
			contains: []string{"boom; ErrorCode=42"},
		},
		{
			name:     "response_status_object",
			body:     `{"ResponseStatus":{"Message":"denied","ErrorCode":"Forbidden"}}`,
			contains: []string{"denied; ResponseStatus.ErrorCode=Forbidden"},
		},
		{
			name:     "response_status_scalar",
			body:     `{"responseStatus":"broken"}`,
			contains: []string{"ResponseStatus=broken"},
		},
		{
			name:        "duplicates_collapsed",
			body:        `{"Message":"same","ResponseStatus":{"Message":"same"}}`,
			contains:    []string{" - same"},
			notContains: []string{"same; same"},
		},
		{
			name:        "not_json",
			body:        `<html>oops</html>`,
			contains:    []string{"HTTP 404 Not Found"},
			notContains: []string{" - "},
		},
		{
			name:        "json_array",
			body:        `["a"]`,
			notContains: []string{" - "},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "key", time.Second)
			_, err := client.FetchItems(context.Background(), ItemsQuery{Limit: 1})
			require.Error(t, err)

			var remoteErr *RemoteError
			require.True(t, errors.As(err, &remoteErr))
			assert.Equal(t, http.StatusNotFound, remoteErr.StatusCode)
			assert.True(t, remoteErr.IsNotFound())

			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, err.Error(), s)
			}
		})
	}
}

func TestUpdateItemFallback(t *testing.T) {
	tests := []struct {
		name          string
		putStatus     int
		expectMethods []string
		expectErr     bool
	}{
		{name: "put_succeeds", putStatus: http.StatusNoContent, expectMethods: []string{"PUT"}},
		{name: "method_not_allowed", putStatus: http.StatusMethodNotAllowed, expectMethods: []string{"PUT", "POST"}},
		{name: "not_implemented", putStatus: http.StatusNotImplemented, expectMethods: []string{"PUT", "POST"}},
		{name: "server_error_no_retry", putStatus: http.StatusInternalServerError, expectMethods: []string{"PUT"}, expectErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu      sync.Mutex
				methods []string
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				methods = append(methods, r.Method)
				mu.Unlock()

				assert.Equal(t, "/Items/item-1", r.URL.Path)
				var payload map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, "item-1", payload["Id"])

				if r.Method == http.MethodPut {
					w.WriteHeader(tt.putStatus)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "key", time.Second)
			_, err := client.UpdateItem(context.Background(), "item-1", map[string]any{"Id": "item-1"})
			if tt.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectMethods, methods)
		})
	}
}

func TestSendParsesJSONOnlyForJSONContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		expectBody  bool
	}{
		{name: "json", contentType: "application/json; charset=utf-8", body: `{"ok":true}`, expectBody: true},
		{name: "json_uppercase", contentType: "Application/JSON", body: `{"ok":true}`, expectBody: true},
		{name: "text", contentType: "text/plain", body: `{"ok":true}`},
		{name: "empty_body", contentType: "application/json", body: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "key", time.Second)
			body, err := client.UpdateItem(context.Background(), "x", map[string]any{"Id": "x"})
			require.NoError(t, err)
			if tt.expectBody {
				assert.JSONEq(t, tt.body, string(body))
			} else {
				assert.Nil(t, body)
			}
		})
	}
}

func TestTransportErrorIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, "key", time.Second)
	_, err := client.Users(context.Background())
	require.Error(t, err)

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Zero(t, remoteErr.StatusCode)
	assert.NotNil(t, remoteErr.Unwrap())
}

func TestContextCancellationPropagates(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(srv.URL, "key", time.Second)
	_, err := client.FetchItems(ctx, ItemsQuery{Limit: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestListTagsEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "lib", r.URL.Query().Get("ParentId"))
		assert.Equal(t, "200", r.URL.Query().Get("Limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Items":[{"Name":"Drama","ItemCount":"3"},{"Name":"Kids","Count":-2},{"Name":5}],"TotalRecordCount":3}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", time.Second)

	page, err := client.ListTags(context.Background(), TagsQuery{UserID: "u1", ParentID: "lib", Limit: 200})
	require.NoError(t, err)
	require.True(t, page.ItemsValid)
	require.Len(t, page.Entries, 3)
	require.NotNil(t, page.Entries[0].ItemCount)
	assert.Equal(t, 3, *page.Entries[0].ItemCount)
	require.NotNil(t, page.Entries[1].Count)
	assert.Equal(t, 0, *page.Entries[1].Count)
	assert.Equal(t, "5", page.Entries[2].Name)
	assert.True(t, page.HasTotal)

	_, err = client.ListTags(context.Background(), TagsQuery{ParentID: "lib", Limit: 200})
	require.NoError(t, err)

	assert.Equal(t, []string{"/Users/u1/Items/Tags", "/Items/Tags"}, paths)
}

func TestClientPoolReusesClients(t *testing.T) {
	pool := NewClientPool(time.Second, nil)
	defer pool.Close()

	a := pool.Get("http://one", "key")
	b := pool.Get("http://one", "key")
	c := pool.Get("http://one", "other")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) ObserveRemoteRequest(operation string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, operation+":"+http.StatusText(status))
}

func TestObserverSeesEveryRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	client := NewClient(srv.URL, "key", time.Second, WithObserver(observer))

	_, err := client.Users(context.Background())
	require.NoError(t, err)
	_, err = client.VirtualFolders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"users:OK", "libraries:OK"}, observer.calls)
}
