// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package syncer periodically mirrors the in-memory vessel store into
// the durable spatial store.
//
// Each tick scans up to BatchSize records from the store — the scan
// cursor persists across ticks, so a store larger than one batch is
// covered incrementally — and bulk-upserts them through a circuit
// breaker. A failed tick is logged and skipped; the next tick retries
// with a fresh scan. Mirror failures never halt the pipeline.
package syncer

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mkarlsen/pelorus/internal/config"
	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/metrics"
	"github.com/mkarlsen/pelorus/internal/models"
)

// Scanner is the store surface the synchronizer reads. Implemented by
// *store.VesselStore.
type Scanner interface {
	Scan(cursor uint64, limit int) ([]models.VesselRecord, uint64)
}

// Upserter is the durable store surface. Implemented by *database.DB.
type Upserter interface {
	UpsertBatch(ctx context.Context, records []models.VesselRecord) error
}

// Stats summarizes one sync tick.
type Stats struct {
	Scanned    int           `json:"scanned"`
	Upserted   int           `json:"upserted"`
	Errors     int           `json:"errors"`
	DurationMS time.Duration `json:"duration_ms"`
}

// Synchronizer is the periodic batch sync loop. It implements
// suture.Service.
type Synchronizer struct {
	store     Scanner
	db        Upserter
	interval  time.Duration
	batchSize int

	cursor  uint64
	breaker *gobreaker.CircuitBreaker[any]
}

// New creates a synchronizer with the configured cadence and batch
// size.
func New(st Scanner, db Upserter, cfg config.SyncConfig) *Synchronizer {
	const breakerName = "durable-sync"
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("durable sync circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &Synchronizer{
		store:     st,
		db:        db,
		interval:  cfg.Interval(),
		batchSize: cfg.BatchSize,
		breaker:   breaker,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Serve runs the sync loop until the context is canceled.
func (s *Synchronizer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := s.SyncOnce(ctx)
			if stats.Scanned > 0 || stats.Errors > 0 {
				logging.Info().
					Int("scanned", stats.Scanned).
					Int("upserted", stats.Upserted).
					Int("errors", stats.Errors).
					Dur("duration_ms", stats.DurationMS).
					Msg("batch sync tick")
			}
		}
	}
}

// SyncOnce performs one tick: scan a batch from the cursor and upsert
// it. Exported for tests; Serve calls it on every tick.
func (s *Synchronizer) SyncOnce(ctx context.Context) Stats {
	start := time.Now()

	records, next := s.store.Scan(s.cursor, s.batchSize)
	s.cursor = next

	stats := Stats{Scanned: len(records)}
	if len(records) == 0 {
		stats.DurationMS = time.Since(start)
		return stats
	}
	metrics.SyncScannedTotal.Add(float64(len(records)))

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.db.UpsertBatch(ctx, records)
	})
	if err != nil {
		stats.Errors = 1
		metrics.SyncErrorsTotal.Inc()
		logging.Error().
			Err(err).
			Int("batch", len(records)).
			Msg("durable sync batch failed, will retry next tick")
	} else {
		stats.Upserted = len(records)
		metrics.SyncUpsertedTotal.Add(float64(len(records)))
	}

	stats.DurationMS = time.Since(start)
	metrics.SyncDuration.Observe(stats.DurationMS.Seconds())
	return stats
}

// String implements fmt.Stringer for supervisor logging.
func (s *Synchronizer) String() string {
	return "batch-syncer"
}
