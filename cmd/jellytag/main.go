// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/autobrr/jellytag/internal/api"
	"github.com/autobrr/jellytag/internal/buildinfo"
	"github.com/autobrr/jellytag/internal/catalog"
	"github.com/autobrr/jellytag/internal/config"
	"github.com/autobrr/jellytag/internal/domain"
	"github.com/autobrr/jellytag/internal/jellyfin"
	"github.com/autobrr/jellytag/internal/metrics"
	"github.com/autobrr/jellytag/internal/nfo"
	"github.com/autobrr/jellytag/internal/tags"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "jellytag",
		Short: "Browse and bulk edit tags on a Jellyfin library",
		Long: `jellytag - a small web service for filtering Jellyfin libraries by tag,
exporting the results and applying tag changes in bulk.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/jellytag/ or %APPDATA%\\jellytag\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of jellytag",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.String())
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/jellytag/config.toml
- Windows: %APPDATA%\jellytag\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := configDir
			if dir == "" {
				dir = config.GetDefaultConfigDir()
			}
			configPath := config.ResolveConfigPath(dir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return errors.Wrap(err, "failed to create configuration file")
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	logPath   string
}

func NewApplication(configDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.logPath != "" {
		os.Setenv("JELLYTAG__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting jellytag")
	if cfg.Config.JellyfinBaseURL == "" {
		log.Warn().Msg("No default Jellyfin server configured - every request must supply base")
	}

	recorder := metrics.NewRecorder(nil)

	clientPool := jellyfin.NewClientPool(cfg.Config.JellyfinTimeoutDuration(), recorder)
	defer clientPool.Close()

	scanOptions := catalog.ScanOptions{
		PageSize:    cfg.Config.ScanPageSize,
		MaxPageSize: cfg.Config.ScanMaxPageSize,
		Concurrency: cfg.Config.ScanConcurrency,
	}

	tagService := tags.NewService(tags.Config{
		TTL:         cfg.Config.TagCacheTTLDuration(),
		PageLimit:   cfg.Config.TagPageLimit,
		MaxPages:    cfg.Config.MaxTagPages,
		WaitTimeout: cfg.Config.TagWaitTimeoutDuration(),
		Scan:        scanOptions,
	}, func(base, apiKey string) tags.Client {
		return clientPool.Get(base, apiKey)
	}, recorder)
	defer tagService.Close()

	catalogService := catalog.NewService(catalog.Config{
		Scan:                    scanOptions,
		QueryCacheTTL:           cfg.Config.ItemQueryCacheTTLDuration(),
		QueryCacheMaxEntries:    cfg.Config.ItemQueryCacheMaxEntries,
		PrefetchCacheTTL:        cfg.Config.ItemPrefetchCacheTTLDuration(),
		PrefetchCacheMaxEntries: cfg.Config.ItemPrefetchCacheMaxEntries,
		PrefetchCacheLimit:      cfg.Config.ItemPrefetchCacheLimit,
		PrefetchThreshold:       cfg.Config.ItemPrefetchThreshold,
		JobRetention:            cfg.Config.PrefetchJobRetentionDuration(),
	}, func(base, apiKey string) catalog.Fetcher {
		return clientPool.Get(base, apiKey)
	}, catalog.WithTagVersioner(tagService), catalog.WithRecorder(recorder))
	defer catalogService.Close()

	cfg.RegisterReloadListener(func(*domain.Config) {
		log.Debug().Msg("configuration reloaded, dropping cached listings")
		catalogService.Invalidate()
	})

	editor := tags.NewEditor(nfo.NewWriter(afero.NewOsFs()))

	httpServer := api.NewServer(&api.Dependencies{
		Config:     cfg,
		Version:    buildinfo.Version,
		Catalog:    catalogService,
		Tags:       tagService,
		Editor:     editor,
		ClientPool: clientPool,
	})

	errorChannel := make(chan error, 2)
	serverReady := make(chan struct{}, 1)

	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(recorder, cfg.Config.MetricsHost, cfg.Config.MetricsPort)

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		return
	}

	log.Info().Msg("Server stopped")
}
