// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/models"
	"github.com/mkarlsen/pelorus/internal/tile"
)

// UpsertBatch writes the given records into vessels_current in a
// single multi-row upsert keyed on MMSI. Existing rows have every
// mutable column refreshed, including updated_at; created_at is
// preserved. The statement is idempotent, and concurrent batches over
// disjoint MMSIs are safe.
func (db *DB) UpsertBatch(ctx context.Context, records []models.VesselRecord) error {
	if len(records) == 0 {
		return nil
	}

	query, args, err := buildUpsert(records)
	if err != nil {
		return err
	}

	start := time.Now()
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bulk upsert of %d vessels failed: %w", len(records), err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		// A slow mirror is worth noticing before it starts lagging
		// behind the sync cadence.
		logging.Warn().
			Int("vessels", len(records)).
			Dur("elapsed", elapsed).
			Msg("slow durable upsert")
	}
	return nil
}

// buildUpsert renders the multi-row INSERT ... ON CONFLICT statement
// and its flattened argument list. Split out from UpsertBatch so the
// SQL shape is testable without a live database.
func buildUpsert(records []models.VesselRecord) (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO vessels_current
		(mmsi, geom, tile_z12, lon, lat, cog, sog, heading, updated_at)
	VALUES `)

	args := make([]interface{}, 0, len(records)*9)
	for i, rec := range records {
		key, err := tile.ParseKey(rec.Tile)
		if err != nil {
			return "", nil, fmt.Errorf("vessel %d: %w", rec.MMSI, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ST_Point(?, ?), ?, ?, ?, ?, ?, ?, now())")
		args = append(args,
			int64(rec.MMSI),
			rec.Lon, rec.Lat,
			key.Encode(),
			rec.Lon, rec.Lat,
			nullableFloat(rec.Cog),
			nullableFloat(rec.Sog),
			nullableInt(rec.Heading),
		)
	}

	sb.WriteString(`
	ON CONFLICT (mmsi) DO UPDATE SET
		geom = excluded.geom,
		tile_z12 = excluded.tile_z12,
		lon = excluded.lon,
		lat = excluded.lat,
		cog = excluded.cog,
		sog = excluded.sog,
		heading = excluded.heading,
		updated_at = excluded.updated_at;`)

	return sb.String(), args, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
