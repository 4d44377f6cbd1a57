// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched
// in order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pelorus/config.yaml",
	"/etc/pelorus/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the
// config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration with layered sources (highest wins):
// environment variables > config file > defaults. The resulting
// Config is validated; a missing AISSTREAM_API_KEY or malformed value
// returns an error, which callers treat as fatal at boot.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority).
	// Names follow the operator surface: AISSTREAM_API_KEY, TILE_ZOOM,
	// VESSEL_TTL_SECONDS, ... mapped to nested koanf paths. Empty
	// values are treated as unset so `export PORT=` cannot blank out a
	// default.
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envTransformFunc(key), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when supplied through the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings; YAML values are
// already slices and pass through.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Only known operator variables are mapped; everything else is
// discarded so unrelated environment noise cannot perturb the config.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"aisstream_api_key":      "aisstream.api_key",
		"aisstream_bbox":         "aisstream.bbox",
		"aisstream_url":          "aisstream.url",
		"ingest_flush_ms":        "aisstream.flush_ms",
		"tile_zoom":              "tile.zoom",
		"vessel_ttl_seconds":     "store.vessel_ttl_seconds",
		"duckdb_path":            "database.path",
		"duckdb_max_memory":      "database.max_memory",
		"duckdb_threads":         "database.threads",
		"batch_sync_interval_ms": "sync.interval_ms",
		"batch_sync_size":        "sync.batch_size",
		"dispatch_flush_ms":      "dispatch.flush_ms",
		"host":                   "server.host",
		"port":                   "server.port",
		"heartbeat_ms":           "server.heartbeat_ms",
		"shutdown_grace_ms":      "server.grace_ms",
		"cors_origins":           "server.cors_origins",
		"log_level":              "logging.level",
		"log_format":             "logging.format",
		"log_caller":             "logging.caller",
	}

	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
