// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package ingest

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/mkarlsen/pelorus/internal/models"
	"github.com/mkarlsen/pelorus/internal/tile"
)

// Drop reasons for the ingest_dropped_total counter.
const (
	dropParseError     = "parse_error"
	dropWrongType      = "wrong_type"
	dropInvalidPayload = "invalid_payload"
)

// timeUTCLayout matches the provider's MetaData.time_utc rendering
// ("2024-01-01 12:00:00.000000001 +0000 UTC").
const timeUTCLayout = "2006-01-02 15:04:05.999999999 -0700 MST"

// parsePosition decodes one provider frame into a vessel record.
// Returns a non-empty drop reason when the frame must be discarded.
//
// Field resolution follows the provider contract: PositionReport
// fields win, MetaData fills gaps for MMSI and coordinates, and the
// timestamp comes from MetaData or defaults to now. The wire heading
// sentinel 511 is stored as nil.
func (c *Client) parsePosition(raw []byte) (models.VesselRecord, string) {
	var msg models.StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.VesselRecord{}, dropParseError
	}

	pr := msg.Message.PositionReport
	if pr == nil {
		return models.VesselRecord{}, dropWrongType
	}
	meta := msg.MetaData

	mmsi, ok := resolveMMSI(pr, meta)
	if !ok {
		return models.VesselRecord{}, dropInvalidPayload
	}

	lat, lon, ok := resolveCoordinates(pr, meta)
	if !ok {
		return models.VesselRecord{}, dropInvalidPayload
	}

	var heading *int
	if pr.TrueHeading != nil && *pr.TrueHeading != models.HeadingUnavailable {
		h := *pr.TrueHeading
		heading = &h
	}

	rec := models.VesselRecord{
		MMSI:      mmsi,
		Lat:       lat,
		Lon:       lon,
		Cog:       pr.Cog,
		Sog:       pr.Sog,
		Heading:   heading,
		Timestamp: c.resolveTimestamp(meta),
		Tile:      tile.FromLatLon(lat, lon, c.zoom).String(),
	}
	return rec, ""
}

// resolveMMSI picks the vessel identity from the report or, failing
// that, the metadata envelope. Zero is not a valid MMSI.
func resolveMMSI(pr *models.PositionReport, meta *models.MetaData) (uint64, bool) {
	if pr.UserID != nil && *pr.UserID != 0 {
		return *pr.UserID, true
	}
	if meta != nil && meta.MMSI != nil && *meta.MMSI != 0 {
		return *meta.MMSI, true
	}
	return 0, false
}

// resolveCoordinates picks lat/lon from the report with metadata
// fallback and rejects out-of-range values.
func resolveCoordinates(pr *models.PositionReport, meta *models.MetaData) (lat, lon float64, ok bool) {
	latPtr := pr.Latitude
	lonPtr := pr.Longitude
	if latPtr == nil && meta != nil {
		latPtr = meta.Latitude
	}
	if lonPtr == nil && meta != nil {
		lonPtr = meta.Longitude
	}
	if latPtr == nil || lonPtr == nil {
		return 0, 0, false
	}
	lat, lon = *latPtr, *lonPtr
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// resolveTimestamp parses MetaData.time_utc, accepting both the
// provider's Go-style rendering and RFC 3339. Missing or unparseable
// timestamps default to the current time.
func (c *Client) resolveTimestamp(meta *models.MetaData) time.Time {
	if meta == nil || meta.TimeUTC == "" {
		return c.now().UTC()
	}
	if ts, err := time.Parse(timeUTCLayout, meta.TimeUTC); err == nil {
		return ts.UTC()
	}
	if ts, err := time.Parse(time.RFC3339, meta.TimeUTC); err == nil {
		return ts.UTC()
	}
	return c.now().UTC()
}
