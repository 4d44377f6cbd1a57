// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package tile

import (
	"math"
	"testing"
)

func TestFromLatLonOrigin(t *testing.T) {
	got := FromLatLon(0, 0, 12)
	want := Key{Z: 12, X: 2048, Y: 2048}
	if got != want {
		t.Errorf("FromLatLon(0, 0, 12) = %v, want %v", got, want)
	}
}

func TestFromLatLonKnownPoints(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		z        int
		want     Key
	}{
		{"hong kong", 22.3964, 114.1095, 12, Key{Z: 12, X: 3346, Y: 1786}},
		{"greenwich", 51.4769, 0.0, 12, Key{Z: 12, X: 2048, Y: 1362}},
		{"zoom zero", 48.8566, 2.3522, 0, Key{Z: 0, X: 0, Y: 0}},
		{"southern hemisphere", -45.0, 170.5, 12, Key{Z: 12, X: 3987, Y: 2622}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromLatLon(tt.lat, tt.lon, tt.z); got != tt.want {
				t.Errorf("FromLatLon(%v, %v, %d) = %v, want %v", tt.lat, tt.lon, tt.z, got, tt.want)
			}
		})
	}
}

func TestDateLineContinuity(t *testing.T) {
	// Longitude +180 and -180 are the same meridian and must land in
	// the same tile column.
	plus := FromLatLon(10, 180, 12)
	minus := FromLatLon(10, -180, 12)
	if plus.X != minus.X {
		t.Errorf("lon +180 -> x=%d, lon -180 -> x=%d; want same column", plus.X, minus.X)
	}
	if plus.X != 0 {
		t.Errorf("lon ±180 -> x=%d, want 0", plus.X)
	}
}

func TestLatitudeClamping(t *testing.T) {
	extreme := FromLatLon(MaxLat, 0, 12)
	if extreme.Y != 0 {
		t.Errorf("lat=MaxLat -> y=%d, want extreme row 0", extreme.Y)
	}

	beyond := FromLatLon(89.9, 0, 12)
	if beyond != extreme {
		t.Errorf("lat beyond clamp = %v, want same tile as clamp %v", beyond, extreme)
	}

	south := FromLatLon(-MaxLat, 0, 12)
	if south.Y != (1<<12)-1 {
		t.Errorf("lat=-MaxLat -> y=%d, want extreme row %d", south.Y, (1<<12)-1)
	}
}

func TestNormalizeLon(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{360, 0},
		{540, -180},
	}
	for _, tt := range tests {
		if got := NormalizeLon(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeLon(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRoundTripContainment(t *testing.T) {
	// For any point away from the clamp boundary, the tile's bounds
	// must contain the point and re-projection must be stable.
	points := []struct {
		lat, lon float64
	}{
		{22.3964, 114.1095},
		{-45.0, 170.5},
		{51.4769, 0.0},
		{0.001, -0.001},
		{60.0, -150.0},
		{-84.9, 179.5},
	}

	for _, p := range points {
		k := FromLatLon(p.lat, p.lon, 12)
		north, south, east, west := k.Bounds()

		if p.lat > north || p.lat < south {
			t.Errorf("point (%v, %v): lat outside tile bounds [%v, %v]", p.lat, p.lon, south, north)
		}
		if p.lon < west || p.lon >= east {
			t.Errorf("point (%v, %v): lon outside tile bounds [%v, %v)", p.lat, p.lon, west, east)
		}

		// Idempotent re-application via the tile center.
		center := FromLatLon((north+south)/2, (west+east)/2, 12)
		if center != k {
			t.Errorf("tile center of %v re-projects to %v", k, center)
		}
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	k := Key{Z: 12, X: 3346, Y: 1786}
	s := k.String()
	if s != "12/3346/1786" {
		t.Errorf("String() = %q, want 12/3346/1786", s)
	}

	parsed, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey(%q): %v", s, err)
	}
	if parsed != k {
		t.Errorf("ParseKey(%q) = %v, want %v", s, parsed, k)
	}
}

func TestParseKeyErrors(t *testing.T) {
	tests := []string{
		"",
		"12/3346",
		"12/3346/1786/0",
		"a/b/c",
		"12/-1/0",
		"12/4096/0",
		"12/0/4096",
		"-1/0/0",
	}
	for _, s := range tests {
		if _, err := ParseKey(s); err == nil {
			t.Errorf("ParseKey(%q): expected error", s)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		key  Key
		want int64
	}{
		{Key{Z: 12, X: 0, Y: 0}, 0},
		{Key{Z: 12, X: 1, Y: 0}, 4096},
		{Key{Z: 12, X: 3346, Y: 1786}, 3346*4096 + 1786},
		{Key{Z: 12, X: 4095, Y: 4095}, 4095*4096 + 4095},
		{Key{Z: 10, X: 3, Y: 7}, 3*1024 + 7},
	}
	for _, tt := range tests {
		if got := tt.key.Encode(); got != tt.want {
			t.Errorf("%v.Encode() = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestEncodeUniqueAcrossGrid(t *testing.T) {
	// Spot-check that the generalized encoding cannot collide at a
	// non-default zoom.
	seen := map[int64]Key{}
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			k := Key{Z: 3, X: x, Y: y}
			enc := k.Encode()
			if prev, dup := seen[enc]; dup {
				t.Fatalf("encoding collision: %v and %v both encode to %d", prev, k, enc)
			}
			seen[enc] = k
		}
	}
}

func TestInBounds(t *testing.T) {
	// A single-tile viewport.
	k := FromLatLon(22.4, 114.11, 12)
	north, south, east, west := k.Bounds()
	eps := 1e-6
	got := InBounds(north-eps, south+eps, east-eps, west+eps, 12)
	if len(got) != 1 || got[0] != k {
		t.Errorf("single-tile viewport = %v, want [%v]", got, k)
	}
}

func TestInBoundsRectangle(t *testing.T) {
	// A 3x2 rectangle of tiles.
	nw := Key{Z: 12, X: 100, Y: 200}
	se := Key{Z: 12, X: 102, Y: 201}
	nwNorth, _, _, nwWest := nw.Bounds()
	_, seSouth, seEast, _ := se.Bounds()
	eps := 1e-6

	got := InBounds(nwNorth-eps, seSouth+eps, seEast-eps, nwWest+eps, 12)
	if len(got) != 6 {
		t.Fatalf("InBounds rectangle covered %d tiles, want 6: %v", len(got), got)
	}
	for _, k := range got {
		if k.X < 100 || k.X > 102 || k.Y < 200 || k.Y > 201 {
			t.Errorf("tile %v outside expected rectangle", k)
		}
	}
}

func TestInBoundsDateLine(t *testing.T) {
	// Viewport straddling the antimeridian: east < west after
	// normalization, columns must wrap.
	got := InBounds(1.0, -1.0, -179.9, 179.9, 4)
	if len(got) == 0 {
		t.Fatal("date-line viewport returned no tiles")
	}
	sawLow, sawHigh := false, false
	for _, k := range got {
		if k.X == 0 {
			sawLow = true
		}
		if k.X == 15 {
			sawHigh = true
		}
	}
	if !sawLow || !sawHigh {
		t.Errorf("date-line viewport missing wrapped columns: low=%v high=%v tiles=%v", sawLow, sawHigh, got)
	}
}
