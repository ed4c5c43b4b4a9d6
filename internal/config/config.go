// Package config handles configuration loading for the OMERO web client.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Requests  RequestsConfig  `yaml:"requests"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Cache     CacheConfig     `yaml:"cache"`
	Tiles     TilesConfig     `yaml:"tiles"`
}

// ServerConfig identifies the remote OMERO web server.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RequestsConfig contains HTTP request settings.
type RequestsConfig struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	PageConcurrency int `yaml:"page_concurrency"`
	OrphanBatchSize int `yaml:"orphan_batch_size"`
}

// KeepAliveConfig contains session keep-alive settings.
type KeepAliveConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MissThreshold   int `yaml:"miss_threshold"`
}

// CacheConfig contains thumbnail/icon cache settings.
type CacheConfig struct {
	ThumbnailSizeMB   int `yaml:"thumbnail_size_mb"`
	ThumbnailTTLHours int `yaml:"thumbnail_ttl_hours"`
	IconEntries       int `yaml:"icon_entries"`
}

// TilesConfig contains tile fetch and resize settings.
type TilesConfig struct {
	PreferredTileSize int  `yaml:"preferred_tile_size"`
	SmoothInterpolate bool `yaml:"smooth_interpolate"`
	JPEGQuality       int  `yaml:"jpeg_quality"`
}

// Timeout returns the request timeout as a duration.
func (r RequestsConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Interval returns the keep-alive period as a duration.
func (k KeepAliveConfig) Interval() time.Duration {
	return time.Duration(k.IntervalSeconds) * time.Second
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "http://localhost:4080",
		},
		Requests: RequestsConfig{
			TimeoutSeconds:  20,
			PageConcurrency: 8,
			OrphanBatchSize: 16,
		},
		KeepAlive: KeepAliveConfig{
			IntervalSeconds: 60,
			MissThreshold:   3,
		},
		Cache: CacheConfig{
			ThumbnailSizeMB:   128,
			ThumbnailTTLHours: 12,
			IconEntries:       64,
		},
		Tiles: TilesConfig{
			PreferredTileSize: 256,
			SmoothInterpolate: false,
			JPEGQuality:       90,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Requests.TimeoutSeconds == 0 {
		cfg.Requests.TimeoutSeconds = defaults.Requests.TimeoutSeconds
	}
	if cfg.Requests.PageConcurrency == 0 {
		cfg.Requests.PageConcurrency = defaults.Requests.PageConcurrency
	}
	if cfg.Requests.OrphanBatchSize == 0 {
		cfg.Requests.OrphanBatchSize = defaults.Requests.OrphanBatchSize
	}
	if cfg.KeepAlive.IntervalSeconds == 0 {
		cfg.KeepAlive.IntervalSeconds = defaults.KeepAlive.IntervalSeconds
	}
	if cfg.KeepAlive.MissThreshold == 0 {
		cfg.KeepAlive.MissThreshold = defaults.KeepAlive.MissThreshold
	}
	if cfg.Cache.ThumbnailSizeMB == 0 {
		cfg.Cache.ThumbnailSizeMB = defaults.Cache.ThumbnailSizeMB
	}
	if cfg.Cache.ThumbnailTTLHours == 0 {
		cfg.Cache.ThumbnailTTLHours = defaults.Cache.ThumbnailTTLHours
	}
	if cfg.Cache.IconEntries == 0 {
		cfg.Cache.IconEntries = defaults.Cache.IconEntries
	}
	if cfg.Tiles.PreferredTileSize == 0 {
		cfg.Tiles.PreferredTileSize = defaults.Tiles.PreferredTileSize
	}
	if cfg.Tiles.JPEGQuality == 0 {
		cfg.Tiles.JPEGQuality = defaults.Tiles.JPEGQuality
	}
}
