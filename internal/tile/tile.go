// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package tile implements Web-Mercator (slippy map) tile math.
//
// All vessel indexing in Pelorus is keyed by the textual tile key
// "z/x/y" produced by this package. FromLatLon is the single source of
// truth for tile membership: the in-memory store, the dispatcher and
// the durable mirror all derive tile keys through it, so a vessel can
// never be attributed to two different tiles by two components.
package tile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxLat is the Web-Mercator latitude limit. Latitudes beyond it are
// clamped before projection; the projection diverges at the poles.
const MaxLat = 85.0511287798066

// DefaultZoom is the zoom level used for vessel indexing unless
// overridden by configuration.
const DefaultZoom = 12

// Key identifies a single Web-Mercator tile.
type Key struct {
	Z int
	X int
	Y int
}

// String renders the canonical textual form "z/x/y".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Valid reports whether the key's coordinates are inside the tile grid
// for its zoom level.
func (k Key) Valid() bool {
	if k.Z < 0 || k.Z > 22 {
		return false
	}
	n := 1 << k.Z
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// Encode packs the tile coordinates into a single integer, x*2^z + y.
// At the default zoom 12 this is the historical x*4096 + y encoding
// used by the durable tile_z12 column; for other zooms the generalized
// form keeps the encoding collision-free.
func (k Key) Encode() int64 {
	return int64(k.X)<<k.Z + int64(k.Y)
}

// Bounds returns the geographic corners of the tile as
// (north, south, east, west). The inverse of FromLatLon: any point
// strictly inside the returned box maps back to this tile.
func (k Key) Bounds() (north, south, east, west float64) {
	n := float64(int(1) << k.Z)
	west = float64(k.X)/n*360.0 - 180.0
	east = float64(k.X+1)/n*360.0 - 180.0
	north = yToLat(float64(k.Y), n)
	south = yToLat(float64(k.Y+1), n)
	return north, south, east, west
}

func yToLat(y, n float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return rad * 180.0 / math.Pi
}

// ParseKey parses the canonical "z/x/y" form.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("tile key %q: want z/x/y", s)
	}
	z, err := strconv.Atoi(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("tile key %q: zoom: %w", s, err)
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("tile key %q: x: %w", s, err)
	}
	y, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("tile key %q: y: %w", s, err)
	}
	k := Key{Z: z, X: x, Y: y}
	if !k.Valid() {
		return Key{}, fmt.Errorf("tile key %q: coordinates out of range for zoom %d", s, z)
	}
	return k, nil
}

// ClampLat clamps a latitude into the Web-Mercator projectable range.
func ClampLat(lat float64) float64 {
	if lat > MaxLat {
		return MaxLat
	}
	if lat < -MaxLat {
		return -MaxLat
	}
	return lat
}

// NormalizeLon wraps a longitude into [-180, 180). Longitude +180 maps
// to -180 so both sides of the date line land in the same tile column.
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180.0, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	return lon - 180.0
}

// FromLatLon computes the tile containing (lat, lon) at zoom z.
// Latitude is clamped to ±MaxLat and longitude normalized into
// [-180, 180) first, so every finite coordinate maps to a valid tile.
func FromLatLon(lat, lon float64, z int) Key {
	lat = ClampLat(lat)
	lon = NormalizeLon(lon)

	n := float64(int(1) << z)
	latRad := lat * math.Pi / 180.0

	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	// Float edge cases at the clamp boundary can land exactly on the
	// grid edge; pin them to the outermost row/column.
	max := (1 << z) - 1
	if x < 0 {
		x = 0
	}
	if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	}
	if y > max {
		y = max
	}

	return Key{Z: z, X: x, Y: y}
}

// InBounds returns every tile covered by the given geographic
// rectangle at zoom z. The caller is responsible for capping the
// result; viewport policy rejects requests covering more than 1500
// tiles. A rectangle spanning the date line (east < west) is split
// into two spans internally.
func InBounds(north, south, east, west float64, z int) []Key {
	nw := FromLatLon(north, west, z)
	se := FromLatLon(south, east, z)

	var cols []int
	if nw.X <= se.X {
		for x := nw.X; x <= se.X; x++ {
			cols = append(cols, x)
		}
	} else {
		// Crosses the antimeridian: wrap the column range.
		max := (1 << z) - 1
		for x := nw.X; x <= max; x++ {
			cols = append(cols, x)
		}
		for x := 0; x <= se.X; x++ {
			cols = append(cols, x)
		}
	}

	keys := make([]Key, 0, len(cols)*(se.Y-nw.Y+1))
	for _, x := range cols {
		for y := nw.Y; y <= se.Y; y++ {
			keys = append(keys, Key{Z: z, X: x, Y: y})
		}
	}
	return keys
}
