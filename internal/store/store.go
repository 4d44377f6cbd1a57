// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package store implements the tile-indexed in-memory vessel store.
//
// The store owns two keyed containers: vessel records by MMSI and
// tile sets (MMSI sets) by tile key. Both carry a monotonic TTL;
// expiry is lazy on reads and active via the Sweeper. The critical
// operation is PutVessel, which moves a vessel between tile sets and
// rewrites its record as one atomic transition: no reader can observe
// a vessel in two tiles, and no two concurrent puts for the same MMSI
// interleave.
//
// A single store-wide RWMutex guards both maps. Puts touch up to
// three keys (the vessel slot and two tile sets), so one lock is the
// simplest arrangement that makes the five-step transition atomic;
// read paths share the lock and never block each other.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/mkarlsen/pelorus/internal/metrics"
	"github.com/mkarlsen/pelorus/internal/models"
)

// VesselStore is the authoritative in-memory view of live vessels.
type VesselStore struct {
	mu      sync.RWMutex
	vessels map[uint64]*vesselEntry
	tiles   map[string]*tileEntry
	ttl     time.Duration

	// clock is injectable for TTL tests.
	clock func() time.Time
}

type vesselEntry struct {
	rec     models.VesselRecord
	expires time.Time
}

type tileEntry struct {
	members map[uint64]struct{}
	expires time.Time
}

// New creates a vessel store whose entries expire ttl after their
// last update.
func New(ttl time.Duration) *VesselStore {
	return &VesselStore{
		vessels: make(map[uint64]*vesselEntry),
		tiles:   make(map[string]*tileEntry),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// TTL returns the configured record time-to-live.
func (s *VesselStore) TTL() time.Duration {
	return s.ttl
}

// PutVessel writes rec as the current state of rec.MMSI and reindexes
// it into rec.Tile. Returns the vessel's previous tile ("" if the
// vessel was absent or expired) and its new tile. The whole
// transition — record write, removal from the old tile set, insertion
// into the new one — is observable only as a single atomic step.
func (s *VesselStore) PutVessel(rec models.VesselRecord) (oldTile, newTile string) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.vessels[rec.MMSI]; ok && now.Before(prev.expires) {
		oldTile = prev.rec.Tile
	}

	s.vessels[rec.MMSI] = &vesselEntry{rec: rec, expires: now.Add(s.ttl)}

	if oldTile != "" && oldTile != rec.Tile {
		s.removeFromTileLocked(oldTile, rec.MMSI)
	}

	te, ok := s.tiles[rec.Tile]
	if !ok {
		te = &tileEntry{members: make(map[uint64]struct{})}
		s.tiles[rec.Tile] = te
	}
	te.members[rec.MMSI] = struct{}{}
	te.expires = now.Add(s.ttl)

	metrics.StoreVessels.Set(float64(len(s.vessels)))
	metrics.StoreTiles.Set(float64(len(s.tiles)))

	return oldTile, rec.Tile
}

// removeFromTileLocked drops mmsi from a tile set, evicting the set
// when it becomes empty. Caller holds the write lock.
func (s *VesselStore) removeFromTileLocked(tileKey string, mmsi uint64) {
	te, ok := s.tiles[tileKey]
	if !ok {
		return
	}
	delete(te.members, mmsi)
	if len(te.members) == 0 {
		delete(s.tiles, tileKey)
	}
}

// GetVessel returns the live record for mmsi. An expired record reads
// as absent.
func (s *VesselStore) GetVessel(mmsi uint64) (models.VesselRecord, bool) {
	now := s.clock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.vessels[mmsi]
	if !ok || !now.Before(e.expires) {
		return models.VesselRecord{}, false
	}
	return e.rec, true
}

// VesselsInTile returns a consistent snapshot of the vessels currently
// in the tile: the set of member MMSIs at one instant plus each
// member's record. Expired members are filtered out.
func (s *VesselStore) VesselsInTile(tileKey string) []models.VesselRecord {
	now := s.clock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	te, ok := s.tiles[tileKey]
	if !ok || !now.Before(te.expires) {
		return nil
	}

	out := make([]models.VesselRecord, 0, len(te.members))
	for mmsi := range te.members {
		e, ok := s.vessels[mmsi]
		if !ok || !now.Before(e.expires) {
			continue
		}
		out = append(out, e.rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MMSI < out[j].MMSI })
	return out
}

// Scan returns up to limit live records with MMSI strictly greater
// than cursor, in MMSI order, plus the cursor to resume from. A zero
// next-cursor means the pass reached the end of the keyspace; the
// caller restarts from the beginning on its next tick.
func (s *VesselStore) Scan(cursor uint64, limit int) ([]models.VesselRecord, uint64) {
	if limit <= 0 {
		return nil, 0
	}
	now := s.clock()

	s.mu.RLock()
	keys := make([]uint64, 0, len(s.vessels))
	for mmsi, e := range s.vessels {
		if mmsi > cursor && now.Before(e.expires) {
			keys = append(keys, mmsi)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]models.VesselRecord, 0, len(keys))
	for _, mmsi := range keys {
		out = append(out, s.vessels[mmsi].rec)
	}
	s.mu.RUnlock()

	var next uint64
	if len(keys) == limit {
		next = keys[len(keys)-1]
	}
	return out, next
}

// Len returns the number of unexpired vessel records.
func (s *VesselStore) Len() int {
	now := s.clock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.vessels {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// TileCount returns the number of tracked tile sets.
func (s *VesselStore) TileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles)
}

// Sweep removes every expired vessel record and prunes expired or
// emptied tile sets. Returns the number of records evicted. Called
// periodically by the Sweeper; reads also filter expired entries, so
// Sweep only bounds memory, not correctness.
func (s *VesselStore) Sweep() int {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for mmsi, e := range s.vessels {
		if now.Before(e.expires) {
			continue
		}
		delete(s.vessels, mmsi)
		s.removeFromTileLocked(e.rec.Tile, mmsi)
		evicted++
	}

	for key, te := range s.tiles {
		if len(te.members) == 0 || !now.Before(te.expires) {
			delete(s.tiles, key)
		}
	}

	if evicted > 0 {
		metrics.StoreEvictionsTotal.Add(float64(evicted))
	}
	metrics.StoreVessels.Set(float64(len(s.vessels)))
	metrics.StoreTiles.Set(float64(len(s.tiles)))

	return evicted
}
