// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

type Config struct {
	Version       string `toml:"-" mapstructure:"-"`
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	// Defaults used when a request does not carry its own server address or token.
	JellyfinBaseURL string `toml:"jellyfinBaseUrl" mapstructure:"jellyfinBaseUrl"`
	JellyfinAPIKey  string `toml:"jellyfinApiKey" mapstructure:"jellyfinApiKey"`
	JellyfinTimeout int    `toml:"jellyfinTimeout" mapstructure:"jellyfinTimeout"`

	ItemQueryCacheTTL           int `toml:"itemQueryCacheTtl" mapstructure:"itemQueryCacheTtl"`
	ItemQueryCacheMaxEntries    int `toml:"itemQueryCacheMaxEntries" mapstructure:"itemQueryCacheMaxEntries"`
	ItemPrefetchCacheTTL        int `toml:"itemPrefetchCacheTtl" mapstructure:"itemPrefetchCacheTtl"`
	ItemPrefetchCacheMaxEntries int `toml:"itemPrefetchCacheMaxEntries" mapstructure:"itemPrefetchCacheMaxEntries"`
	ItemPrefetchCacheLimit      int `toml:"itemPrefetchCacheLimit" mapstructure:"itemPrefetchCacheLimit"`
	ItemPrefetchThreshold       int `toml:"itemPrefetchThreshold" mapstructure:"itemPrefetchThreshold"`
	PrefetchJobRetention        int `toml:"prefetchJobRetention" mapstructure:"prefetchJobRetention"`

	ScanPageSize    int `toml:"scanPageSize" mapstructure:"scanPageSize"`
	ScanMaxPageSize int `toml:"scanMaxPageSize" mapstructure:"scanMaxPageSize"`
	ScanConcurrency int `toml:"scanConcurrency" mapstructure:"scanConcurrency"`

	TagCacheTTL    int `toml:"tagCacheTtl" mapstructure:"tagCacheTtl"`
	TagPageLimit   int `toml:"tagPageLimit" mapstructure:"tagPageLimit"`
	MaxTagPages    int `toml:"maxTagPages" mapstructure:"maxTagPages"`
	TagWaitTimeout int `toml:"tagWaitTimeout" mapstructure:"tagWaitTimeout"`
}

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

// The helpers below return zero for unset values so callers can apply their own defaults.

func (c *Config) JellyfinTimeoutDuration() time.Duration { return seconds(c.JellyfinTimeout) }
func (c *Config) ItemQueryCacheTTLDuration() time.Duration { return seconds(c.ItemQueryCacheTTL) }
func (c *Config) ItemPrefetchCacheTTLDuration() time.Duration {
	return seconds(c.ItemPrefetchCacheTTL)
}
func (c *Config) PrefetchJobRetentionDuration() time.Duration {
	return seconds(c.PrefetchJobRetention)
}
func (c *Config) TagCacheTTLDuration() time.Duration    { return seconds(c.TagCacheTTL) }
func (c *Config) TagWaitTimeoutDuration() time.Duration { return seconds(c.TagWaitTimeout) }
