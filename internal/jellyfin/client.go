// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/buildinfo"
)

const (
	DefaultTimeout = 30 * time.Second

	authHeader = "X-Emby-Token"

	// error bodies are only read for diagnostics
	maxErrorBodyBytes int64 = 64 << 10
)

// RequestObserver is notified after every remote call.
type RequestObserver interface {
	ObserveRemoteRequest(operation string, statusCode int, elapsed time.Duration)
}

// Client talks to a single Jellyfin server with a single API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   RequestObserver
	log        zerolog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient shares a transport between clients.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithObserver(observer RequestObserver) ClientOption {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient creates a client for baseURL. The timeout applies to every request.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("module", "jellyfin").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// ItemsQuery describes one page of a library listing.
type ItemsQuery struct {
	UserID       string
	ParentID     string
	IncludeTypes []string
	ExcludeTypes []string
	Fields       []string
	StartIndex   int
	Limit        int
	SearchTerm   string
	SortBy       string
	SortOrder    string
}

func (q ItemsQuery) values() url.Values {
	v := url.Values{}
	if q.ParentID != "" {
		v.Set("ParentId", q.ParentID)
	}
	v.Set("Recursive", "true")
	fields := q.Fields
	if len(fields) == 0 {
		fields = DefaultItemFields
	}
	v.Set("Fields", strings.Join(fields, ","))
	v.Set("StartIndex", strconv.Itoa(q.StartIndex))
	v.Set("Limit", strconv.Itoa(q.Limit))
	if len(q.IncludeTypes) > 0 {
		v.Set("IncludeItemTypes", strings.Join(q.IncludeTypes, ","))
	}
	if len(q.ExcludeTypes) > 0 {
		v.Set("ExcludeItemTypes", strings.Join(q.ExcludeTypes, ","))
	}
	if q.SearchTerm != "" {
		v.Set("SearchTerm", q.SearchTerm)
	}
	if q.SortBy != "" {
		v.Set("SortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("SortOrder", q.SortOrder)
	}
	return v
}

// FetchItems reads one page of items, user scoped when q.UserID is set.
func (c *Client) FetchItems(ctx context.Context, q ItemsQuery) (*ItemsPage, error) {
	endpoint := "/Items"
	if q.UserID != "" {
		endpoint = "/Users/" + url.PathEscape(q.UserID) + "/Items"
	}

	var page ItemsPage
	if err := c.getJSON(ctx, "items", endpoint, q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetItem fetches a single item with all of its editable metadata.
func (c *Client) GetItem(ctx context.Context, itemID, userID string) (*ItemDetails, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, errors.New("item id is required")
	}

	endpoint := "/Items/" + url.PathEscape(itemID)
	if userID != "" {
		endpoint = "/Users/" + url.PathEscape(userID) + "/Items/" + url.PathEscape(itemID)
	}

	var details ItemDetails
	if err := c.getJSON(ctx, "item", endpoint, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// UpdateItem writes item metadata. Servers that reject PUT on this route get
// the same payload as a POST; no other retries are made.
func (c *Client) UpdateItem(ctx context.Context, itemID string, payload any) (json.RawMessage, error) {
	endpoint := "/Items/" + url.PathEscape(itemID)

	body, err := c.send(ctx, "update_item", http.MethodPut, endpoint, payload)
	if err == nil {
		return body, nil
	}

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || !remoteErr.MethodUnsupported() {
		return nil, err
	}

	c.log.Info().
		Str("url", remoteErr.URL).
		Int("status", remoteErr.StatusCode).
		Msg("PUT unsupported, falling back to POST")

	return c.send(ctx, "update_item", http.MethodPost, endpoint, payload)
}

// TagsQuery pages one of the tag listing endpoints.
type TagsQuery struct {
	// UserID selects /Users/{id}/Items/Tags; empty uses /Items/Tags.
	UserID       string
	ParentID     string
	IncludeTypes []string
	StartIndex   int
	Limit        int
}

func (c *Client) ListTags(ctx context.Context, q TagsQuery) (*TagPage, error) {
	endpoint := "/Items/Tags"
	if q.UserID != "" {
		endpoint = "/Users/" + url.PathEscape(q.UserID) + "/Items/Tags"
	}

	v := url.Values{}
	if q.ParentID != "" {
		v.Set("ParentId", q.ParentID)
	}
	v.Set("Recursive", "true")
	if len(q.IncludeTypes) > 0 {
		v.Set("IncludeItemTypes", strings.Join(q.IncludeTypes, ","))
	}
	v.Set("StartIndex", strconv.Itoa(q.StartIndex))
	v.Set("Limit", strconv.Itoa(q.Limit))

	var page TagPage
	if err := c.getJSON(ctx, "tags", endpoint, v, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Users returns the server's user list unchanged.
func (c *Client) Users(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "users", "/Users", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// VirtualFolders returns the configured libraries unchanged.
func (c *Client) VirtualFolders(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "libraries", "/Library/VirtualFolders", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) getJSON(ctx context.Context, operation, endpoint string, params url.Values, out any) error {
	resp, target, err := c.do(ctx, operation, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Method:     http.MethodGet,
			URL:        target,
			Details:    "invalid JSON response",
			Err:        err,
		}
	}
	return nil
}

// send issues a write and returns the response body when it is JSON.
func (c *Client) send(ctx context.Context, operation, method, endpoint string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode request payload")
		}
		body = bytes.NewReader(buf)
	}

	resp, _, err := c.do(ctx, operation, method, endpoint, nil, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if len(bytes.TrimSpace(data)) == 0 || !strings.HasPrefix(contentType, "application/json") {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// do performs the request and converts non-2xx answers into *RemoteError.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, operation, method, endpoint string, params url.Values, body io.Reader) (*http.Response, string, error) {
	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, target, &RemoteError{Method: method, URL: target, Err: err}
	}
	req.Header.Set(authHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", method).Str("url", target).Msg("jellyfin request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, 0, start)
		return nil, target, &RemoteError{Method: method, URL: target, Err: err}
	}
	c.observe(operation, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, target, &RemoteError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Details:    extractErrorDetails(data),
		}
	}

	return resp, target, nil
}

func (c *Client) observe(operation string, status int, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveRemoteRequest(operation, status, time.Since(start))
}

func (c *Client) String() string {
	return fmt.Sprintf("jellyfin(%s)", c.baseURL)
}
