// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mkarlsen/pelorus/internal/config"
	"github.com/mkarlsen/pelorus/internal/dispatch"
	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/models"
	"github.com/mkarlsen/pelorus/internal/store"
	"github.com/mkarlsen/pelorus/internal/tile"
	ws "github.com/mkarlsen/pelorus/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "fatal", Output: io.Discard})
}

type testPipeline struct {
	router     *Router
	store      *store.VesselStore
	dispatcher *dispatch.Dispatcher
	registry   *ws.Registry
	server     *httptest.Server
	cancel     context.CancelFunc
}

// newTestPipeline boots store + dispatcher + registry + router with
// fast ticks and serves them over httptest.
func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.CORSOrigins = []string{"*"}

	st := store.New(2 * time.Minute)
	d := dispatch.New(st, 20*time.Millisecond)
	registry := ws.NewRegistry(30 * time.Second)
	router := NewRouter(cfg, st, nil, d, registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Serve(ctx) }()

	srv := httptest.NewServer(router.Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testPipeline{
		router:     router,
		store:      st,
		dispatcher: d,
		registry:   registry,
		server:     srv,
		cancel:     cancel,
	}
}

func (p *testPipeline) wsURL() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http") + "/ws"
}

// dialWS connects and consumes the connected acknowledgment.
func dialWS(t *testing.T, p *testPipeline) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(p.wsURL(), nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var connected models.ConnectedMessage
	readWSJSON(t, conn, &connected)
	if connected.Type != models.MessageTypeConnected || connected.ClientID == "" {
		t.Fatalf("first message = %+v, want connected with client id", connected)
	}
	return conn
}

func readWSJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func sendWSJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write websocket message: %v", err)
	}
}

func putVessel(p *testPipeline, mmsi uint64, lat, lon float64) models.VesselRecord {
	rec := models.VesselRecord{
		MMSI:      mmsi,
		Lat:       lat,
		Lon:       lon,
		Timestamp: time.Now().UTC(),
		Tile:      tile.FromLatLon(lat, lon, 12).String(),
	}
	old, now := p.store.PutVessel(rec)
	tiles := []string{now}
	if old != "" && old != now {
		tiles = append(tiles, old)
	}
	p.dispatcher.Notify(dispatch.DirtyTileBatch{Tiles: tiles})
	return rec
}

func TestSubscribeEmptyTileThenLiveUpdate(t *testing.T) {
	p := newTestPipeline(t)
	conn := dialWS(t, p)

	target := tile.FromLatLon(22.3964, 114.1095, 12).String()

	// Subscribe on an empty store: ack only, no initial update.
	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypeSubscribe, Tiles: []string{target}})
	var ack models.SubscriptionAck
	readWSJSON(t, conn, &ack)
	if ack.Type != models.MessageTypeSubscribed || len(ack.Tiles) != 1 || ack.Tiles[0] != target {
		t.Fatalf("ack = %+v, want subscribed %s", ack, target)
	}

	// A vessel appears in the tile: one update within a dispatch tick.
	putVessel(p, 111, 22.3964, 114.1095)

	var update models.VesselUpdateMessage
	readWSJSON(t, conn, &update)
	if update.Type != models.MessageTypeVesselUpdate || update.Tile != target {
		t.Fatalf("update = %+v, want vessel_update for %s", update, target)
	}
	if len(update.Vessels) != 1 || update.Vessels[0].MMSI != 111 {
		t.Errorf("update vessels = %v, want [111]", update.Vessels)
	}
}

func TestSubscribeNonEmptyTileGetsSnapshotFirst(t *testing.T) {
	p := newTestPipeline(t)

	rec := putVessel(p, 500, 10.0, 10.0)
	conn := dialWS(t, p)

	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypeSubscribe, Tiles: []string{rec.Tile}})

	var ack models.SubscriptionAck
	readWSJSON(t, conn, &ack)
	if ack.Type != models.MessageTypeSubscribed {
		t.Fatalf("first message = %+v, want subscribed ack", ack)
	}

	// The initial snapshot arrives before any tick-driven update and
	// carries every vessel present at subscription time.
	var snapshot models.VesselUpdateMessage
	readWSJSON(t, conn, &snapshot)
	if snapshot.Type != models.MessageTypeVesselUpdate {
		t.Fatalf("second message type = %s, want vessel_update snapshot", snapshot.Type)
	}
	if len(snapshot.Vessels) != 1 || snapshot.Vessels[0].MMSI != 500 {
		t.Errorf("snapshot vessels = %v, want [500]", snapshot.Vessels)
	}
}

func TestPingPong(t *testing.T) {
	p := newTestPipeline(t)
	conn := dialWS(t, p)

	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypePing})

	var pong models.PongMessage
	readWSJSON(t, conn, &pong)
	if pong.Type != models.MessageTypePong {
		t.Errorf("response type = %s, want pong", pong.Type)
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	p := newTestPipeline(t)
	conn := dialWS(t, p)

	sendWSJSON(t, conn, models.ClientMessage{Type: "telemetry"})
	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypePing})

	// The unknown frame is skipped; the ping still answers.
	var pong models.PongMessage
	readWSJSON(t, conn, &pong)
	if pong.Type != models.MessageTypePong {
		t.Errorf("response type = %s, want pong after ignored message", pong.Type)
	}
}

func TestUnsubscribeStopsUpdates(t *testing.T) {
	p := newTestPipeline(t)
	conn := dialWS(t, p)

	target := tile.FromLatLon(5.0, 5.0, 12).String()
	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypeSubscribe, Tiles: []string{target}})
	var ack models.SubscriptionAck
	readWSJSON(t, conn, &ack)

	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypeUnsubscribe, Tiles: []string{target}})
	readWSJSON(t, conn, &ack)
	if ack.Type != models.MessageTypeUnsubscribed {
		t.Fatalf("ack = %+v, want unsubscribed", ack)
	}

	putVessel(p, 700, 5.0, 5.0)

	// No further frames arrive.
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Errorf("received %s after unsubscribe, want nothing", raw)
	}
}

func TestSessionCloseRemovesSubscriptions(t *testing.T) {
	p := newTestPipeline(t)
	conn := dialWS(t, p)

	target := "12/100/100"
	sendWSJSON(t, conn, models.ClientMessage{Type: models.MessageTypeSubscribe, Tiles: []string{target}})
	var ack models.SubscriptionAck
	readWSJSON(t, conn, &ack)

	if p.dispatcher.SubscriberCount(target) != 1 {
		t.Fatal("subscription not registered")
	}

	conn.Close()

	deadline := time.After(2 * time.Second)
	for p.dispatcher.SubscriberCount(target) != 0 {
		select {
		case <-deadline:
			t.Fatal("subscription not removed after connection close")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if p.registry.Count() != 0 {
		t.Errorf("registry count = %d after close, want 0", p.registry.Count())
	}
}

func TestHealthEndpoints(t *testing.T) {
	p := newTestPipeline(t)

	resp, err := http.Get(p.server.URL + "/healthz/live")
	if err != nil {
		t.Fatalf("GET /healthz/live: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d, want 200", resp.StatusCode)
	}

	putVessel(p, 1, 0, 0)
	resp2, err := http.Get(p.server.URL + "/healthz/ready")
	if err != nil {
		t.Fatalf("GET /healthz/ready: %v", err)
	}
	defer resp2.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp2.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Vessels != 1 {
		t.Errorf("health vessels = %d, want 1", health.Vessels)
	}
	if health.Upstream != "disabled" || health.Mirror != "disabled" {
		t.Errorf("health = %+v, want disabled upstream/mirror in test wiring", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	p := newTestPipeline(t)

	resp, err := http.Get(p.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "store_vessels") {
		t.Error("metrics output missing pipeline collectors")
	}
}

func TestDrainGateRefusesNewConnections(t *testing.T) {
	p := newTestPipeline(t)

	p.router.BeginDrain()

	resp, err := http.Get(p.server.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status during drain = %d, want 503", resp.StatusCode)
	}

	// Liveness stays up through the drain.
	live, err := http.Get(p.server.URL + "/healthz/live")
	if err != nil {
		t.Fatalf("GET /healthz/live: %v", err)
	}
	defer live.Body.Close()
	if live.StatusCode != http.StatusOK {
		t.Errorf("live status during drain = %d, want 200", live.StatusCode)
	}
}

func TestHeartbeatTerminatesSilentSession(t *testing.T) {
	p := newTestPipeline(t)

	// A dedicated registry with a very short interval, serving just
	// this test's session.
	registry := ws.NewRegistry(30 * time.Millisecond)
	p.router.registry = registry

	conn := dialWS(t, p)
	// Suppress the client's automatic pong so the session goes stale.
	conn.SetPongHandler(func(string) error { return nil })
	conn.SetPingHandler(func(string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = registry.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for registry.Count() != 0 {
		select {
		case <-deadline:
			t.Fatalf("silent session not terminated, registry count = %d", registry.Count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
