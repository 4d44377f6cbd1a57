// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package database provides the durable spatial mirror of the live
// vessel state, backed by DuckDB with the spatial extension.
//
// The mirror is write-mostly: the batch synchronizer bulk-upserts the
// in-memory store into vessels_current every few seconds, and offline
// analytics read it through the tile and recency indexes. Mirror
// failures are never fatal to the pipeline; the next sync tick
// retries with fresh data.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/mkarlsen/pelorus/internal/config"
	"github.com/mkarlsen/pelorus/internal/logging"
)

// DB wraps the DuckDB connection for the vessels_current mirror.
type DB struct {
	conn *sql.DB
	cfg  config.DatabaseConfig
}

// New opens (or creates) the DuckDB database, loads the spatial and
// icu extensions and initializes the vessels_current schema.
func New(cfg config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	// Ensure the parent directory exists; DuckDB does not create it.
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// Auto-install/auto-load disabled: extensions are loaded
	// explicitly below so a restricted-network environment fails fast
	// instead of hanging on a download.
	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory,
	)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.loadExtensions(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := db.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("durable store initialized")

	return db, nil
}

// loadExtensions installs and loads the extensions the schema needs:
// spatial for the geometry column and RTREE index, icu for
// TIMESTAMPTZ handling.
func (db *DB) loadExtensions(ctx context.Context) error {
	for _, ext := range []string{"spatial", "icu"} {
		if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("INSTALL %s;", ext)); err != nil {
			return fmt.Errorf("failed to install %s extension: %w", ext, err)
		}
		if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("LOAD %s;", ext)); err != nil {
			return fmt.Errorf("failed to load %s extension: %w", ext, err)
		}
	}
	return nil
}

// schemaStatements returns the DDL for the vessels_current mirror, in
// execution order.
func schemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS vessels_current (
			mmsi BIGINT PRIMARY KEY,
			geom GEOMETRY NOT NULL,
			tile_z12 INTEGER NOT NULL,
			lon DOUBLE NOT NULL,
			lat DOUBLE NOT NULL,
			cog DOUBLE,
			sog DOUBLE,
			heading INTEGER,
			updated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_vessels_tile_updated ON vessels_current(tile_z12, updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_vessels_updated ON vessels_current(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_vessels_geom ON vessels_current USING RTREE (geom);`,
	}
}

// initSchema creates the table and indexes if missing.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
