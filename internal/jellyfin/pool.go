// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"net/http"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/cespare/xxhash/v2"
)

const idleClientTTL = 30 * time.Minute

// ClientPool hands out one Client per (server, API key) pair. All clients
// share one http.Client so connections are reused across requests.
type ClientPool struct {
	httpClient *http.Client
	timeout    time.Duration
	observer   RequestObserver

	mu      sync.Mutex
	clients *ttlcache.Cache[uint64, *Client]
}

func NewClientPool(timeout time.Duration, observer RequestObserver) *ClientPool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &ClientPool{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		observer:   observer,
		clients: ttlcache.New(ttlcache.Options[uint64, *Client]{}.
			SetDefaultTTL(idleClientTTL)),
	}
}

// Get returns the pooled client for the credentials, creating it on first use.
func (p *ClientPool) Get(baseURL, apiKey string) *Client {
	key := credentialKey(baseURL, apiKey)

	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.clients.Get(key)
	if !ok {
		client = NewClient(baseURL, apiKey, p.timeout, WithHTTPClient(p.httpClient), WithObserver(p.observer))
	}
	// refresh the idle deadline on every use
	p.clients.Set(key, client, ttlcache.DefaultTTL)
	return client
}

func (p *ClientPool) Close() {
	p.clients.Close()
	p.httpClient.CloseIdleConnections()
}

func credentialKey(baseURL, apiKey string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(baseURL)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(apiKey)
	return d.Sum64()
}
