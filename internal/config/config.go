// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package config provides centralized configuration for all Pelorus
// components, loaded with Koanf v2 from layered sources:
//
//  1. Defaults: built-in sensible defaults for every optional setting
//  2. Config File: optional YAML config file for persistent settings
//  3. Environment Variables: override any setting (highest priority)
//
// The only required setting is AISSTREAM_API_KEY; a missing key is a
// fatal boot error. Config is immutable after Load() and safe for
// concurrent reads.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	AISStream AISStreamConfig `koanf:"aisstream"`
	Tile      TileConfig      `koanf:"tile"`
	Store     StoreConfig     `koanf:"store"`
	Database  DatabaseConfig  `koanf:"database"`
	Sync      SyncConfig      `koanf:"sync"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// AISStreamConfig holds the upstream aisstream.io connection settings.
//
// Environment Variables:
//   - AISSTREAM_API_KEY: upstream credential (required)
//   - AISSTREAM_BBOX: filter "lat1,lon1,lat2,lon2;..." (optional)
//   - AISSTREAM_URL: stream endpoint override (tests, proxies)
//   - INGEST_FLUSH_MS: dirty-tile flush cadence
type AISStreamConfig struct {
	URL     string `koanf:"url" validate:"required,url"`
	APIKey  string `koanf:"api_key" validate:"required"`
	BBox    string `koanf:"bbox"`
	FlushMS int    `koanf:"flush_ms" validate:"gt=0"`
}

// Flush returns the ingest dirty-tile flush interval.
func (c AISStreamConfig) Flush() time.Duration {
	return time.Duration(c.FlushMS) * time.Millisecond
}

// BoundingBoxes parses the BBox string into the nested coordinate-pair
// form the provider's subscription message expects. Each semicolon
// separated box is "lat1,lon1,lat2,lon2". An empty BBox yields nil,
// which omits the filter entirely.
func (c AISStreamConfig) BoundingBoxes() ([][][2]float64, error) {
	if strings.TrimSpace(c.BBox) == "" {
		return nil, nil
	}

	var boxes [][][2]float64
	for _, part := range strings.Split(c.BBox, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("bounding box %q: want lat1,lon1,lat2,lon2", part)
		}
		vals := make([]float64, 4)
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("bounding box %q: %w", part, err)
			}
			vals[i] = v
		}
		if vals[0] < -90 || vals[0] > 90 || vals[2] < -90 || vals[2] > 90 {
			return nil, fmt.Errorf("bounding box %q: latitude out of range", part)
		}
		if vals[1] < -180 || vals[1] > 180 || vals[3] < -180 || vals[3] > 180 {
			return nil, fmt.Errorf("bounding box %q: longitude out of range", part)
		}
		boxes = append(boxes, [][2]float64{{vals[0], vals[1]}, {vals[2], vals[3]}})
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	return boxes, nil
}

// TileConfig holds the spatial indexing settings.
type TileConfig struct {
	// Zoom is the tile zoom level for vessel indexing (TILE_ZOOM).
	Zoom int `koanf:"zoom" validate:"gte=0,lte=18"`
}

// StoreConfig holds the in-memory store settings.
type StoreConfig struct {
	// VesselTTLSeconds is the record and tile-set expiry
	// (VESSEL_TTL_SECONDS).
	VesselTTLSeconds int `koanf:"vessel_ttl_seconds" validate:"gt=0"`
}

// VesselTTL returns the vessel record time-to-live.
func (c StoreConfig) VesselTTL() time.Duration {
	return time.Duration(c.VesselTTLSeconds) * time.Second
}

// DatabaseConfig holds DuckDB settings for the durable spatial mirror.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// SyncConfig holds the batch synchronizer settings.
type SyncConfig struct {
	IntervalMS int `koanf:"interval_ms" validate:"gt=0"`
	BatchSize  int `koanf:"batch_size" validate:"gt=0"`
}

// Interval returns the durable sync tick cadence.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// DispatchConfig holds the dispatcher settings.
type DispatchConfig struct {
	FlushMS int `koanf:"flush_ms" validate:"gt=0"`
}

// Flush returns the dispatcher flush cadence.
func (c DispatchConfig) Flush() time.Duration {
	return time.Duration(c.FlushMS) * time.Millisecond
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port" validate:"gt=0,lte=65535"`
	HeartbeatMS int      `koanf:"heartbeat_ms" validate:"gt=0"`
	GraceMS     int      `koanf:"grace_ms" validate:"gte=0"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// Heartbeat returns the session ping interval.
func (c ServerConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

// Grace returns the shutdown drain window.
func (c ServerConfig) Grace() time.Duration {
	return time.Duration(c.GraceMS) * time.Millisecond
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with every optional setting at its
// documented default. Applied first, then overridden by config file
// and environment variables.
func defaultConfig() *Config {
	return &Config{
		AISStream: AISStreamConfig{
			URL:     "wss://stream.aisstream.io/v0/stream",
			APIKey:  "",
			BBox:    "",
			FlushMS: 1000,
		},
		Tile: TileConfig{
			Zoom: 12,
		},
		Store: StoreConfig{
			VesselTTLSeconds: 120,
		},
		Database: DatabaseConfig{
			Path:      "/data/pelorus.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Sync: SyncConfig{
			IntervalMS: 5000,
			BatchSize:  1000,
		},
		Dispatch: DispatchConfig{
			FlushMS: 500,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			HeartbeatMS: 30000,
			GraceMS:     5000,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
