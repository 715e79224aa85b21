// Package config loads the small set of knobs that control the SQLite
// pragmas the storage backend applies on open.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config controls the pragmas applied to every connection opened by
// internal/storage. Zero values are not valid configuration; use
// Default() as a base and override individual fields.
type Config struct {
	// BusyTimeoutMS bounds how long a connection waits to acquire the
	// write lock before SQLite returns SQLITE_BUSY.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// CacheSizePages is passed verbatim to `PRAGMA cache_size`. Negative
	// values are KiB (SQLite convention), positive values are pages.
	CacheSizePages int `yaml:"cache_size_pages"`

	// PageSize is passed to `PRAGMA page_size`. Only takes effect on an
	// empty database, per SQLite's own rules.
	PageSize int `yaml:"page_size"`
}

// Default returns the configuration applied when no explicit Config is
// supplied to Open/OpenInMemory.
func Default() Config {
	return Config{
		BusyTimeoutMS:  5000,
		CacheSizePages: -2000,
		PageSize:       4096,
	}
}

// Load reads a YAML document at path and merges it over Default().
// Fields absent from the document keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: parse %s: %w", path, err)
	}

	return cfg, nil
}
