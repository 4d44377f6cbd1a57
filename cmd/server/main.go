// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package main is the entry point for the Pelorus server.
//
// Pelorus consumes a filtered AIS position feed from aisstream.io,
// maintains a TTL-bounded in-memory view of every live vessel indexed
// by Web-Mercator tile, pushes incremental tile updates to WebSocket
// map clients, and mirrors the live state into a DuckDB spatial table
// for offline analytics.
//
// # Boot order
//
//  1. Configuration (Koanf v2: env > config file > defaults)
//  2. Durable store (DuckDB + spatial extension; optional — a mirror
//     failure logs and disables the batch synchronizer)
//  3. In-memory vessel store
//  4. Dispatcher, ingest client (which feeds the dispatcher), session
//     registry, HTTP surface, then the batch synchronizer
//  5. Supervisor tree serves the data, messaging and api layers
//     concurrently; no start order among them is enforced
//
// Shutdown reverses the order under a grace window: new connections
// are refused with 503, live sessions are closed with 1001, in-flight
// work drains, then the tree stops and the database closes.
//
// # Configuration
//
// AISSTREAM_API_KEY is required; everything else has defaults. See
// internal/config for the full surface.
//
//	export AISSTREAM_API_KEY=...
//	export AISSTREAM_BBOX="22.1,113.8,22.6,114.5"
//	./pelorus
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkarlsen/pelorus/internal/api"
	"github.com/mkarlsen/pelorus/internal/config"
	"github.com/mkarlsen/pelorus/internal/database"
	"github.com/mkarlsen/pelorus/internal/dispatch"
	"github.com/mkarlsen/pelorus/internal/ingest"
	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/store"
	"github.com/mkarlsen/pelorus/internal/supervisor"
	"github.com/mkarlsen/pelorus/internal/supervisor/services"
	"github.com/mkarlsen/pelorus/internal/syncer"
	ws "github.com/mkarlsen/pelorus/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Boot-time configuration failure is the one fatal error class.
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("zoom", cfg.Tile.Zoom).
		Int("port", cfg.Server.Port).
		Msg("pelorus starting")

	// Durable store first: the mirror is optional, the pipeline is not.
	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("durable store unavailable, batch sync disabled")
		db = nil
	}

	st := store.New(cfg.Store.VesselTTL())
	dispatcher := dispatch.New(st, cfg.Dispatch.Flush())
	ingestClient := ingest.New(cfg.AISStream, cfg.Tile.Zoom, st, dispatcher)
	registry := ws.NewRegistry(cfg.Server.Heartbeat())

	router := api.NewRouter(cfg, st, db, dispatcher, registry, ingestClient)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(store.NewSweeper(st, 0))
	if db != nil {
		tree.AddDataService(syncer.New(st, db, cfg.Sync))
	}
	tree.AddMessagingService(ingestClient)
	tree.AddMessagingService(dispatcher)
	tree.AddMessagingService(registry)
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.Grace()+5*time.Second))

	signalCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	treeCtx, stopTree := context.WithCancel(context.Background())
	defer stopTree()
	errCh := tree.ServeBackground(treeCtx)

	select {
	case <-signalCtx.Done():
		logging.Info().Msg("shutdown signal received")
	case err := <-errCh:
		// The tree only returns when its own serving fails; treat it
		// as fatal.
		logging.Error().Err(err).Msg("supervisor tree terminated unexpectedly")
		if db != nil {
			_ = db.Close()
		}
		os.Exit(1)
	}

	shutdown(cfg, router, registry, stopTree, errCh)

	if db != nil {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("durable store close failed")
		}
	}
	logging.Info().Msg("pelorus stopped")
}

// shutdown drains the pipeline: refuse new connections, close live
// sessions with 1001, let in-flight messages flush through the grace
// window, then stop the supervisor tree.
func shutdown(cfg *config.Config, router *api.Router, registry *ws.Registry, stopTree context.CancelFunc, errCh <-chan error) {
	router.BeginDrain()
	registry.CloseAll(ws.CloseGoingAway, "server shutting down")

	grace := cfg.Server.Grace()
	logging.Info().Dur("grace", grace).Msg("draining before supervisor stop")
	time.Sleep(grace)

	stopTree()
	select {
	case <-errCh:
	case <-time.After(15 * time.Second):
		logging.Warn().Msg("supervisor tree did not stop within timeout")
	}
}
