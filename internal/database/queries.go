// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mkarlsen/pelorus/internal/models"
)

// CountVessels returns the number of rows in the mirror.
func (db *DB) CountVessels(ctx context.Context) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM vessels_current`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vessels: %w", err)
	}
	return count, nil
}

// VesselsInTileZ12 returns the mirrored vessels for one encoded tile,
// newest first. Serves offline analytics over the composite
// (tile_z12, updated_at) index.
func (db *DB) VesselsInTileZ12(ctx context.Context, encoded int64) ([]models.VesselRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT mmsi, lon, lat, cog, sog, heading, updated_at
		FROM vessels_current
		WHERE tile_z12 = ?
		ORDER BY updated_at DESC`, encoded)
	if err != nil {
		return nil, fmt.Errorf("query tile %d: %w", encoded, err)
	}
	defer rows.Close()
	return scanVessels(rows)
}

// RecentVessels returns vessels updated at or after the given time,
// newest first, capped at limit.
func (db *DB) RecentVessels(ctx context.Context, since time.Time, limit int) ([]models.VesselRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT mmsi, lon, lat, cog, sog, heading, updated_at
		FROM vessels_current
		WHERE updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent vessels: %w", err)
	}
	defer rows.Close()
	return scanVessels(rows)
}

// rowScanner matches *sql.Rows for scanVessels.
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanVessels(rows rowScanner) ([]models.VesselRecord, error) {
	var out []models.VesselRecord
	for rows.Next() {
		var (
			rec     models.VesselRecord
			mmsi    int64
			cog     *float64
			sog     *float64
			heading *int
			updated time.Time
		)
		if err := rows.Scan(&mmsi, &rec.Lon, &rec.Lat, &cog, &sog, &heading, &updated); err != nil {
			return nil, fmt.Errorf("scan vessel row: %w", err)
		}
		rec.MMSI = uint64(mmsi)
		rec.Cog = cog
		rec.Sog = sog
		rec.Heading = heading
		rec.Timestamp = updated.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vessel rows: %w", err)
	}
	return out, nil
}
