// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mkarlsen/pelorus/internal/logging"
	ws "github.com/mkarlsen/pelorus/internal/websocket"
)

// healthResponse is the /healthz/ready body.
type healthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
	Vessels  int    `json:"vessels"`
	Tiles    int    `json:"tiles"`
	Sessions int    `json:"sessions"`
	Mirror   string `json:"mirror"`
}

// HealthLive reports process liveness.
func (rt *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// HealthReady reports pipeline readiness: the store is always
// available once booted; the upstream feed and the durable mirror
// degrade the status without failing the probe, since the fan-out
// path keeps working on cached state.
func (rt *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ready",
		Upstream: "disabled",
		Vessels:  rt.store.Len(),
		Tiles:    rt.store.TileCount(),
		Sessions: rt.registry.Count(),
		Mirror:   "disabled",
	}

	if rt.ingest != nil {
		resp.Upstream = rt.ingest.State().String()
		if resp.Upstream != "subscribed" {
			resp.Status = "degraded"
		}
	}

	if rt.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.db.Ping(ctx); err != nil {
			resp.Mirror = "unreachable"
			resp.Status = "degraded"
		} else {
			resp.Mirror = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode health response")
	}
}

// WebSocket upgrades the connection and hands it to a subscriber
// session.
func (rt *Router) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      rt.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := ws.NewSession(conn, rt.dispatcher, rt.store, rt.registry)
	session.Start()
}

// checkOrigin validates the Origin header against the configured CORS
// origins. Non-browser clients omit Origin; they are admitted only
// when the wildcard origin is configured.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	for _, allowed := range rt.cfg.Server.CORSOrigins {
		if allowed == "*" {
			return true
		}
		if origin != "" && allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("websocket connection rejected: origin not allowed")
	return false
}
