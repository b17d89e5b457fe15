// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/jellytag/internal/domain"
)

var envPrefix = "JELLYTAG__"

// Unprefixed names kept so existing deployments keep working.
const (
	legacyBaseURLEnv = "JELLYFIN_BASE_URL"
	legacyAPIKeyEnv  = "JELLYFIN_API_KEY"
)

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	version string

	mu        sync.RWMutex
	listeners []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.normalize()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7477)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)

	c.viper.SetDefault("jellyfinBaseUrl", "")
	c.viper.SetDefault("jellyfinApiKey", "")
	c.viper.SetDefault("jellyfinTimeout", 30)

	c.viper.SetDefault("itemQueryCacheTtl", 600)
	c.viper.SetDefault("itemQueryCacheMaxEntries", 128)
	c.viper.SetDefault("itemPrefetchCacheTtl", 600)
	c.viper.SetDefault("itemPrefetchCacheMaxEntries", 16)
	c.viper.SetDefault("itemPrefetchCacheLimit", 20000)
	c.viper.SetDefault("itemPrefetchThreshold", 2000)
	c.viper.SetDefault("prefetchJobRetention", 1800)

	c.viper.SetDefault("scanPageSize", 200)
	c.viper.SetDefault("scanMaxPageSize", 1000)
	c.viper.SetDefault("scanConcurrency", 8)

	c.viper.SetDefault("tagCacheTtl", 600)
	c.viper.SetDefault("tagPageLimit", 200)
	c.viper.SetDefault("maxTagPages", 100)
	c.viper.SetDefault("tagWaitTimeout", 5)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("failed to read config: %w", err)
			}
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
	}

	return nil
}

// isNotFound covers both viper's search miss and a missing explicit file.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts with K8s
	// Use double underscore to avoid conflicts with K8s deployment_PORT patterns
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")

	c.viper.BindEnv("jellyfinBaseUrl", envPrefix+"JELLYFIN_BASE_URL", legacyBaseURLEnv)
	c.bindOrReadFromFile("jellyfinApiKey", envPrefix+"JELLYFIN_API_KEY", legacyAPIKeyEnv)
	c.viper.BindEnv("jellyfinTimeout", envPrefix+"JELLYFIN_TIMEOUT")

	c.viper.BindEnv("itemQueryCacheTtl", envPrefix+"ITEM_QUERY_CACHE_TTL")
	c.viper.BindEnv("itemQueryCacheMaxEntries", envPrefix+"ITEM_QUERY_CACHE_MAX_ENTRIES")
	c.viper.BindEnv("itemPrefetchCacheTtl", envPrefix+"ITEM_PREFETCH_CACHE_TTL")
	c.viper.BindEnv("itemPrefetchCacheMaxEntries", envPrefix+"ITEM_PREFETCH_CACHE_MAX_ENTRIES")
	c.viper.BindEnv("itemPrefetchCacheLimit", envPrefix+"ITEM_PREFETCH_CACHE_LIMIT")
	c.viper.BindEnv("itemPrefetchThreshold", envPrefix+"ITEM_PREFETCH_THRESHOLD")
	c.viper.BindEnv("prefetchJobRetention", envPrefix+"PREFETCH_JOB_RETENTION")

	c.viper.BindEnv("scanPageSize", envPrefix+"SCAN_PAGE_SIZE")
	c.viper.BindEnv("scanMaxPageSize", envPrefix+"SCAN_MAX_PAGE_SIZE")
	c.viper.BindEnv("scanConcurrency", envPrefix+"SCAN_CONCURRENCY")

	c.viper.BindEnv("tagCacheTtl", envPrefix+"TAG_CACHE_TTL")
	c.viper.BindEnv("tagPageLimit", envPrefix+"TAG_PAGE_LIMIT")
	c.viper.BindEnv("maxTagPages", envPrefix+"MAX_TAG_PAGES")
	c.viper.BindEnv("tagWaitTimeout", envPrefix+"TAG_WAIT_TIMEOUT")
}

// normalize trims the Jellyfin defaults the same way request overrides are trimmed.
func (c *AppConfig) normalize() {
	c.Config.Version = c.version
	c.Config.JellyfinBaseURL = NormalizeBaseURL(c.Config.JellyfinBaseURL)
	c.Config.JellyfinAPIKey = strings.TrimSpace(c.Config.JellyfinAPIKey)
}

// NormalizeBaseURL trims whitespace and any trailing slash.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.normalize()
		c.ApplyLogConfig()
		c.notifyListeners()
	})
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.mu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.mu.RUnlock()

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7477
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /jellytag/ to serve in subdirectory.
# Optional
#baseUrl = "/jellytag/"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/jellytag.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Jellyfin server used when a request does not name one.
# Can also be set with JELLYFIN_BASE_URL / JELLYFIN_API_KEY.
#jellyfinBaseUrl = "http://localhost:8096"
#jellyfinApiKey = ""

# Timeout in seconds for every request to Jellyfin
# Default: {{ .jellyfinTimeout }}
#jellyfinTimeout = {{ .jellyfinTimeout }}

# Item listing caches (TTL values in seconds)
#itemQueryCacheTtl = {{ .itemQueryCacheTtl }}
#itemQueryCacheMaxEntries = {{ .itemQueryCacheMaxEntries }}
#itemPrefetchCacheTtl = {{ .itemPrefetchCacheTtl }}
#itemPrefetchCacheMaxEntries = {{ .itemPrefetchCacheMaxEntries }}

# Maximum number of matches retained per prefetched listing
#itemPrefetchCacheLimit = {{ .itemPrefetchCacheLimit }}

# Tag filtered listings starting at or beyond this offset are served by a background prefetch
#itemPrefetchThreshold = {{ .itemPrefetchThreshold }}

# How long finished prefetch jobs stay visible to status polling (seconds)
#prefetchJobRetention = {{ .prefetchJobRetention }}

# Library scanning
#scanPageSize = {{ .scanPageSize }}
#scanMaxPageSize = {{ .scanMaxPageSize }}
#scanConcurrency = {{ .scanConcurrency }}

# Tag vocabulary cache
#tagCacheTtl = {{ .tagCacheTtl }}
#tagPageLimit = {{ .tagPageLimit }}
#maxTagPages = {{ .maxTagPages }}
#tagWaitTimeout = {{ .tagWaitTimeout }}

# Prometheus Metrics
# Enable Prometheus metrics on separate port (no authentication required)
# Default: false
#metricsEnabled = false

# Metrics server host (bind address for metrics endpoint)
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port (separate from main web interface)
# Default: 9075
#metricsPort = 9075
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":                        c.viper.GetString("host"),
		"port":                        c.viper.GetInt("port"),
		"logLevel":                    c.viper.GetString("logLevel"),
		"logMaxSize":                  c.viper.GetInt("logMaxSize"),
		"logMaxBackups":               c.viper.GetInt("logMaxBackups"),
		"jellyfinTimeout":             c.viper.GetInt("jellyfinTimeout"),
		"itemQueryCacheTtl":           c.viper.GetInt("itemQueryCacheTtl"),
		"itemQueryCacheMaxEntries":    c.viper.GetInt("itemQueryCacheMaxEntries"),
		"itemPrefetchCacheTtl":        c.viper.GetInt("itemPrefetchCacheTtl"),
		"itemPrefetchCacheMaxEntries": c.viper.GetInt("itemPrefetchCacheMaxEntries"),
		"itemPrefetchCacheLimit":      c.viper.GetInt("itemPrefetchCacheLimit"),
		"itemPrefetchThreshold":       c.viper.GetInt("itemPrefetchThreshold"),
		"prefetchJobRetention":        c.viper.GetInt("prefetchJobRetention"),
		"scanPageSize":                c.viper.GetInt("scanPageSize"),
		"scanMaxPageSize":             c.viper.GetInt("scanMaxPageSize"),
		"scanConcurrency":             c.viper.GetInt("scanConcurrency"),
		"tagCacheTtl":                 c.viper.GetInt("tagCacheTtl"),
		"tagPageLimit":                c.viper.GetInt("tagPageLimit"),
		"maxTagPages":                 c.viper.GetInt("maxTagPages"),
		"tagWaitTimeout":              c.viper.GetInt("tagWaitTimeout"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "jellytag")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "jellytag")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "jellytag")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "jellytag")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := baseLogWriter(c.version)

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	return ResolveConfigPath(configDirOrPath)
}

// ResolveConfigPath accepts either a .toml file or a directory that holds config.toml.
func ResolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}
	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}
	return filepath.Join(configDirOrPath, "config.toml")
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{viper: viper.New()}
	c.defaults()
	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile sets the value from <env>_FILE when present, otherwise binds the env names.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVars ...string) {
	for _, envVar := range envVars {
		envVarFile := envVar + "_FILE"
		filePath := os.Getenv(envVarFile)
		if filePath == "" {
			continue
		}
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}

	args := append([]string{viperVar}, envVars...)
	c.viper.BindEnv(args...)
}
