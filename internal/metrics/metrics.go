// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package metrics provides Prometheus instrumentation for the
// pipeline: upstream ingest, the in-memory store, dispatch fan-out,
// subscriber sessions and the durable batch sync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	IngestPositionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_positions_total",
			Help: "Total number of accepted AIS position reports",
		},
	)

	IngestDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_dropped_total",
			Help: "Total number of upstream messages dropped before the store",
		},
		[]string{"reason"}, // "parse_error", "invalid_payload", "wrong_type"
	)

	IngestReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_reconnects_total",
			Help: "Total number of upstream reconnect attempts",
		},
	)

	IngestConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_connected",
			Help: "Whether the upstream AIS feed is currently subscribed (1) or not (0)",
		},
	)

	// Store metrics
	StoreVessels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_vessels",
			Help: "Current number of live vessel records in the in-memory store",
		},
	)

	StoreTiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_tiles",
			Help: "Current number of non-empty tile sets",
		},
	)

	StoreEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_evictions_total",
			Help: "Total number of vessel records expired from the store",
		},
	)

	// Dispatch metrics
	DispatchDirtyTiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_dirty_tiles_per_flush",
			Help:    "Number of dirty tiles drained per dispatcher flush tick",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	DispatchMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total number of vessel_update messages fanned out",
		},
	)

	DispatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_flush_duration_seconds",
			Help:    "Duration of one dispatcher flush tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchSignalsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_signals_dropped_total",
			Help: "Dirty-tile batches dropped because the dispatcher signal queue was full",
		},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of connected subscriber sessions",
		},
	)

	SessionSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_subscriptions",
			Help: "Current total number of (session, tile) subscriptions",
		},
	)

	SessionOutboundDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_outbound_dropped_total",
			Help: "vessel_update messages dropped from full session outbound queues",
		},
	)

	SessionHeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_heartbeat_timeouts_total",
			Help: "Sessions terminated for missing heartbeats",
		},
	)

	// Batch sync metrics
	SyncScannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_sync_scanned_total",
			Help: "Vessel records scanned from the store by the batch synchronizer",
		},
	)

	SyncUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_sync_upserted_total",
			Help: "Vessel records upserted into the durable store",
		},
	)

	SyncErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_sync_errors_total",
			Help: "Batch sync ticks that failed",
		},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_sync_duration_seconds",
			Help:    "Duration of one batch sync tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Circuit breaker state: 0 = closed, 1 = half-open, 2 = open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
