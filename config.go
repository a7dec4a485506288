package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config holds all service configuration. The file format is JWCC (JSON
// with comments and trailing commas); every field has a default so a
// minimal config only needs the FAExport URL.
type Config struct {
	FAExport FAExportConfig `json:"faexport"`
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	Watcher  WatcherConfig  `json:"watcher"`
	Backfill BackfillConfig `json:"backfill"`
}

// FAExportConfig controls the upstream API client.
type FAExportConfig struct {
	URL string `json:"url"`

	// WatcherIntervalSeconds spaces the watcher client's requests. The
	// interactive client used by feed requests carries no hard limit.
	WatcherIntervalSeconds float64 `json:"watcher_interval_seconds"`

	// Slowdown detection knobs; the defaults match FA's observed load
	// profile.
	SlowdownIntervalSeconds   float64 `json:"slowdown_interval_seconds"`
	StatusCheckBackoffSeconds float64 `json:"status_check_backoff_seconds"`
	RegisteredLimit           int     `json:"registered_limit"`
	IgnoreSlowdown            bool    `json:"ignore_slowdown"`

	MaxAttempts uint `json:"max_attempts"`
}

// DatabaseConfig locates the sqlite database.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port string `json:"port"`
}

// WatcherConfig controls the polling ingestion loop.
type WatcherConfig struct {
	PollIntervalSeconds     float64 `json:"poll_interval_seconds"`
	ChallengeBackoffSeconds float64 `json:"challenge_backoff_seconds"`
}

// BackfillConfig controls first-time user initialisation.
type BackfillConfig struct {
	TimeoutMinutes   float64 `json:"timeout_minutes"`
	FetchConcurrency int     `json:"fetch_concurrency"`
}

// DefaultConfig returns the configuration used when the file omits a field.
func DefaultConfig() Config {
	return Config{
		FAExport: FAExportConfig{
			URL:                       "https://faexport.spangle.org.uk",
			WatcherIntervalSeconds:    1,
			SlowdownIntervalSeconds:   1,
			StatusCheckBackoffSeconds: 300,
			RegisteredLimit:           10_000,
			MaxAttempts:               7,
		},
		Database: DatabaseConfig{Path: "fa-rss.db"},
		Server:   ServerConfig{Port: "8080"},
		Watcher: WatcherConfig{
			PollIntervalSeconds:     10,
			ChallengeBackoffSeconds: 20,
		},
		Backfill: BackfillConfig{
			TimeoutMinutes:   20,
			FetchConcurrency: 5,
		},
	}
}

// LoadConfig reads the config file at path over the defaults. A missing
// file is fine; the defaults apply as-is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.FAExport.URL == "" {
		return Config{}, fmt.Errorf("config %s: faexport.url must not be empty", path)
	}
	if cfg.Backfill.FetchConcurrency <= 0 {
		return Config{}, fmt.Errorf("config %s: backfill.fetch_concurrency must be positive", path)
	}
	return cfg, nil
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

func minutes(value float64) time.Duration {
	return time.Duration(value * float64(time.Minute))
}
