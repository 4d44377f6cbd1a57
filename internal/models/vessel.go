// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package models defines the data types shared across the Pelorus
// pipeline: the vessel record held by the in-memory store, the
// aisstream.io upstream wire format, and the downstream client
// protocol.
package models

import "time"

// HeadingUnavailable is the AIS wire sentinel for "true heading not
// available". It must never be stored; parsers map it to a nil
// heading.
const HeadingUnavailable = 511

// VesselRecord is the authoritative kinematic state of one vessel.
//
// A record is keyed by MMSI and lives in the in-memory store until it
// goes VESSEL_TTL seconds without an update. Cog, Sog and Heading are
// pointers because AIS transmitters routinely omit them; they marshal
// as JSON null, which downstream clients rely on to distinguish
// "stopped" from "unknown".
//
// Tile is derived from (Lat, Lon) at ingest time and is the index key
// for fan-out. When a record appears inside a vessel_update message,
// the enclosing message's tile field is authoritative; the per-record
// Tile may briefly disagree during a tile transition.
type VesselRecord struct {
	MMSI      uint64    `json:"mmsi"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Cog       *float64  `json:"cog"`
	Sog       *float64  `json:"sog"`
	Heading   *int      `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
	Tile      string    `json:"tile"`
}

// Equal reports whether two records carry identical payloads,
// comparing pointer fields by value.
func (v VesselRecord) Equal(o VesselRecord) bool {
	if v.MMSI != o.MMSI || v.Lat != o.Lat || v.Lon != o.Lon || v.Tile != o.Tile {
		return false
	}
	if !v.Timestamp.Equal(o.Timestamp) {
		return false
	}
	return eqFloatPtr(v.Cog, o.Cog) && eqFloatPtr(v.Sog, o.Sog) && eqIntPtr(v.Heading, o.Heading)
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Float64Ptr returns a pointer to v. Convenience for building records.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v. Convenience for building records.
func IntPtr(v int) *int { return &v }
