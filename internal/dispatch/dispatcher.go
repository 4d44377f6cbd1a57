// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package dispatch turns per-vessel store updates into per-tile
// broadcasts.
//
// The dispatcher owns the tile subscription index (tile key -> set of
// subscriber sessions) and a dirty-tile set fed by the ingest client.
// Its flush loop is the single consumer of both: every tick it swaps
// the dirty set for an empty one, snapshots each drained tile from
// the store and sends one vessel_update per (tile, subscriber).
// Multiple vessel updates landing on a tile between ticks coalesce
// into a single outbound message carrying the latest state.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/metrics"
	"github.com/mkarlsen/pelorus/internal/models"
)

// DirtyTileBatch is one flush of tile keys whose population changed.
// Produced by the ingest client, consumed by the dispatcher's loop.
type DirtyTileBatch struct {
	Tiles []string
}

// Subscriber is a downstream session the dispatcher can push tile
// snapshots to. Implemented by *websocket.Session. SendVesselUpdate
// is best-effort: a false return means the message was dropped and
// the dispatcher proceeds.
type Subscriber interface {
	ID() string
	SendVesselUpdate(msg models.VesselUpdateMessage) bool
}

// SnapshotSource yields consistent per-tile snapshots. Implemented by
// *store.VesselStore.
type SnapshotSource interface {
	VesselsInTile(tileKey string) []models.VesselRecord
}

// Dispatcher aggregates dirty tiles and fans snapshots out to
// subscribed sessions. It implements suture.Service.
type Dispatcher struct {
	store    SnapshotSource
	interval time.Duration

	// signals carries dirty-tile batches from the ingest client.
	// Buffered so a slow flush tick cannot stall ingest; overflow is
	// dropped with a warning. The ingest client has already drained
	// those tiles from its own set, so they are dispatched again only
	// once a later report marks them dirty.
	signals chan DirtyTileBatch

	mu    sync.Mutex
	subs  map[string]map[string]Subscriber
	dirty map[string]struct{}
}

// New creates a dispatcher flushing at the given interval.
func New(store SnapshotSource, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:    store,
		interval: interval,
		signals:  make(chan DirtyTileBatch, 64),
		subs:     make(map[string]map[string]Subscriber),
		dirty:    make(map[string]struct{}),
	}
}

// Notify hands a dirty-tile batch to the dispatcher. Never blocks.
func (d *Dispatcher) Notify(batch DirtyTileBatch) {
	if len(batch.Tiles) == 0 {
		return
	}
	select {
	case d.signals <- batch:
	default:
		metrics.DispatchSignalsDroppedTotal.Inc()
		logging.Warn().
			Int("tiles", len(batch.Tiles)).
			Msg("dispatcher signal queue full, dropping dirty-tile batch")
	}
}

// Subscribe registers the session for each tile. Subscribing to an
// already-subscribed tile is a no-op.
func (d *Dispatcher) Subscribe(sub Subscriber, tiles []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range tiles {
		set, ok := d.subs[t]
		if !ok {
			set = make(map[string]Subscriber)
			d.subs[t] = set
		}
		set[sub.ID()] = sub
	}
	d.updateSubscriptionGaugeLocked()
}

// Unsubscribe removes the session from each tile, evicting emptied
// index entries.
func (d *Dispatcher) Unsubscribe(sub Subscriber, tiles []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range tiles {
		d.removeLocked(t, sub.ID())
	}
	d.updateSubscriptionGaugeLocked()
}

// DropSession removes the session from every tile it subscribes.
// Called on session close, whatever the reason.
func (d *Dispatcher) DropSession(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := sub.ID()
	for t := range d.subs {
		d.removeLocked(t, id)
	}
	d.updateSubscriptionGaugeLocked()
}

func (d *Dispatcher) removeLocked(tileKey, id string) {
	set, ok := d.subs[tileKey]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(d.subs, tileKey)
	}
}

func (d *Dispatcher) updateSubscriptionGaugeLocked() {
	total := 0
	for _, set := range d.subs {
		total += len(set)
	}
	metrics.SessionSubscriptions.Set(float64(total))
}

// SubscriberCount returns how many sessions subscribe to the tile.
func (d *Dispatcher) SubscriberCount(tileKey string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[tileKey])
}

// Serve runs the flush loop until the context is canceled. Incoming
// signals are merged into the dirty set; the interval ticker drives
// the fan-out.
func (d *Dispatcher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "dispatcher").
				Msg("dispatcher stopped")
			return ctx.Err()

		case batch := <-d.signals:
			d.mu.Lock()
			for _, t := range batch.Tiles {
				d.dirty[t] = struct{}{}
			}
			d.mu.Unlock()

		case <-ticker.C:
			d.Flush()
		}
	}
}

// Flush performs one dispatch tick: swap the dirty set, snapshot each
// drained tile that has subscribers and push one vessel_update per
// subscriber. Exported for tests; Serve calls it on every tick.
func (d *Dispatcher) Flush() {
	start := time.Now()

	d.mu.Lock()
	drained := d.dirty
	d.dirty = make(map[string]struct{})
	d.mu.Unlock()

	metrics.DispatchDirtyTiles.Observe(float64(len(drained)))
	if len(drained) == 0 {
		return
	}

	// Deterministic tile order keeps fan-out behavior reproducible.
	keys := make([]string, 0, len(drained))
	for t := range drained {
		keys = append(keys, t)
	}
	sort.Strings(keys)

	sent := 0
	for _, tileKey := range keys {
		targets := d.subscribersFor(tileKey)
		if len(targets) == 0 {
			continue
		}

		// An empty snapshot is a valid depopulation signal.
		msg := models.NewVesselUpdateMessage(tileKey, d.store.VesselsInTile(tileKey))
		for _, sub := range targets {
			if sub.SendVesselUpdate(msg) {
				sent++
			}
		}
	}

	if sent > 0 {
		metrics.DispatchMessagesTotal.Add(float64(sent))
	}
	metrics.DispatchFlushDuration.Observe(time.Since(start).Seconds())
}

// subscribersFor returns the tile's subscribers in deterministic
// (session id) order.
func (d *Dispatcher) subscribersFor(tileKey string) []Subscriber {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.subs[tileKey]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		out = append(out, set[id])
	}
	return out
}

// String implements fmt.Stringer for supervisor logging.
func (d *Dispatcher) String() string {
	return "dispatcher"
}
