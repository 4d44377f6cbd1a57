// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package api provides the HTTP surface: the /ws subscriber endpoint,
// health probes and Prometheus metrics, routed with Chi.
//
// There are deliberately no REST endpoints for vessel retrieval; the
// WebSocket subscribe/snapshot flow is the only data path.
package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarlsen/pelorus/internal/config"
	"github.com/mkarlsen/pelorus/internal/database"
	"github.com/mkarlsen/pelorus/internal/dispatch"
	"github.com/mkarlsen/pelorus/internal/ingest"
	"github.com/mkarlsen/pelorus/internal/store"
	ws "github.com/mkarlsen/pelorus/internal/websocket"
)

// Router builds the HTTP handler and owns the shutdown drain gate.
type Router struct {
	cfg        *config.Config
	store      *store.VesselStore
	db         *database.DB
	dispatcher *dispatch.Dispatcher
	registry   *ws.Registry
	ingest     *ingest.Client

	// draining flips during graceful shutdown: new connections are
	// refused with 503 while in-flight work drains.
	draining atomic.Bool
}

// NewRouter wires the HTTP surface. db and ingest may be nil (mirror
// disabled, tests); readiness reporting degrades accordingly.
func NewRouter(cfg *config.Config, st *store.VesselStore, db *database.DB, d *dispatch.Dispatcher, registry *ws.Registry, ing *ingest.Client) *Router {
	return &Router{
		cfg:        cfg,
		store:      st,
		db:         db,
		dispatcher: d,
		registry:   registry,
		ingest:     ing,
	}
}

// Handler assembles the Chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	r.Use(rt.drainGate)

	// Health endpoints get permissive rate limiting: frequent probes
	// are fine, abuse is not.
	r.Route("/healthz", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", rt.HealthLive)
		r.Get("/ready", rt.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", rt.WebSocket)

	return r
}

// BeginDrain flips the shutdown gate: subsequent new connections are
// refused with 503 while in-flight messages drain.
func (rt *Router) BeginDrain() {
	rt.draining.Store(true)
}

// drainGate refuses new work during the shutdown grace window. Only the
// liveness probe stays up; every other path, readiness included, gets 503.
func (rt *Router) drainGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.draining.Load() && r.URL.Path != "/healthz/live" {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
