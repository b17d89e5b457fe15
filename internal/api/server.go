// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jellytag/internal/api/handlers"
	"github.com/autobrr/jellytag/internal/api/middleware"
	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/config"
	"github.com/autobrr/jellytag/internal/domain"
	"github.com/autobrr/jellytag/internal/jellyfin"
	"github.com/autobrr/jellytag/internal/tags"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	catalog     *catalog.Service
	tags        *tags.Service
	editor      *tags.Editor
	clientPool  *jellyfin.ClientPool
	credentials *credentials
}

type Dependencies struct {
	Config     *config.AppConfig
	Version    string
	Catalog    *catalog.Service
	Tags       *tags.Service
	Editor     *tags.Editor
	ClientPool *jellyfin.ClientPool
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:      log.Logger.With().Str("module", "api").Logger(),
		config:      deps.Config,
		version:     deps.Version,
		catalog:     deps.Catalog,
		tags:        deps.Tags,
		editor:      deps.Editor,
		clientPool:  deps.ClientPool,
		credentials: newCredentials(deps.Config.Config),
	}

	// pick up a new default server or key without a restart
	deps.Config.RegisterReloadListener(s.credentials.update)

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, s.config.Config.BaseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// CSV exports and large listings compress well
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location", "Content-Disposition"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.version)
	jellyfinHandler := handlers.NewJellyfinHandler(s.clientPool, s.credentials)
	tagsHandler := handlers.NewTagsHandler(s.tags, s.credentials)
	itemsHandler := handlers.NewItemsHandler(s.catalog, s.credentials, s.config.Config.BaseURL)
	exportHandler := handlers.NewExportHandler(s.catalog, s.credentials)
	applyHandler := handlers.NewApplyHandler(s.editor, s.clientPool, s.catalog, s.credentials)

	// API routes
	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		jellyfinHandler.Routes(r)
		tagsHandler.Routes(r)
		itemsHandler.Routes(r)
		exportHandler.Routes(r)
		applyHandler.Routes(r)
	})

	baseURL := s.config.Config.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Mount(baseURL+"api", apiRouter)

	return r, nil
}

// credentials tracks the configured default server and key across reloads.
type credentials struct {
	mu      sync.RWMutex
	baseURL string
	apiKey  string
}

func newCredentials(cfg *domain.Config) *credentials {
	c := &credentials{}
	c.update(cfg)
	return c
}

func (c *credentials) update(cfg *domain.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = cfg.JellyfinBaseURL
	c.apiKey = cfg.JellyfinAPIKey
}

func (c *credentials) Defaults() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.apiKey
}
