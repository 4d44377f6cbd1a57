// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package ingest implements the upstream aisstream.io client.
//
// The client is an explicit state machine:
//
//	DISCONNECTED -> CONNECTING -> SUBSCRIBED -> DISCONNECTED
//
// On entering CONNECTING it dials the provider's WebSocket endpoint;
// on open it sends the subscription frame (API key, PositionReport
// filter, optional bounding boxes) and enters SUBSCRIBED. Every
// accepted position report updates the shared store and marks the
// affected tiles dirty; a flush ticker periodically drains the dirty
// set into the dispatcher. Socket failures schedule a reconnect with
// exponential backoff (1 s, x1.5, capped at 30 s); a successful
// subscription resets the backoff, and shutdown suppresses it.
package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mkarlsen/pelorus/internal/config"
	"github.com/mkarlsen/pelorus/internal/dispatch"
	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/metrics"
	"github.com/mkarlsen/pelorus/internal/models"
)

// State is the connection state of the ingest client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

const (
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 1.5
	handshakeTimeout  = 10 * time.Second
	readDeadline      = 60 * time.Second
)

// VesselPutter is the store surface the client writes to.
// Implemented by *store.VesselStore.
type VesselPutter interface {
	PutVessel(rec models.VesselRecord) (oldTile, newTile string)
}

// DirtySink receives the client's periodic dirty-tile flushes.
// Implemented by *dispatch.Dispatcher.
type DirtySink interface {
	Notify(batch dispatch.DirtyTileBatch)
}

// Client consumes the filtered AIS feed and feeds the store and
// dispatcher. It implements suture.Service.
type Client struct {
	cfg   config.AISStreamConfig
	zoom  int
	store VesselPutter
	sink  DirtySink

	dialer *websocket.Dialer

	state atomic.Int32

	mu    sync.Mutex
	dirty map[string]struct{}

	// parseWarn throttles malformed-message logging so a poisoned
	// feed cannot flood the log sink.
	parseWarn *rate.Limiter

	// sleep is injectable for backoff tests.
	sleep func(ctx context.Context, d time.Duration) error

	// now is injectable for timestamp-default tests.
	now func() time.Time
}

// New creates an ingest client. The zoom parameter fixes the tile
// grid every accepted position is indexed into.
func New(cfg config.AISStreamConfig, zoom int, st VesselPutter, sink DirtySink) *Client {
	return &Client{
		cfg:   cfg,
		zoom:  zoom,
		store: st,
		sink:  sink,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		dirty:     make(map[string]struct{}),
		parseWarn: rate.NewLimiter(rate.Every(time.Second), 5),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	if s == StateSubscribed {
		metrics.IngestConnected.Set(1)
	} else {
		metrics.IngestConnected.Set(0)
	}
}

// Serve runs the connect/read/reconnect loop until the context is
// canceled. Intentional shutdown suppresses the reconnect.
func (c *Client) Serve(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConnecting)
		conn, err := c.connect(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			metrics.IngestReconnectsTotal.Inc()
			logging.Warn().
				Err(err).
				Dur("retry_in", backoff).
				Msg("upstream connection failed")
			if serr := c.sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff = nextBackoff(backoff)
			continue
		}

		c.setState(StateSubscribed)
		backoff = initialBackoff
		logging.Info().Str("url", c.cfg.URL).Msg("subscribed to upstream AIS feed")

		// Flush ticker runs only while subscribed.
		flushCtx, cancelFlush := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.flushLoop(flushCtx)
		}()
		// Shutdown must unblock the read; closing the socket is the
		// only way to interrupt a blocked ReadMessage.
		go func() {
			defer wg.Done()
			<-flushCtx.Done()
			_ = conn.Close()
		}()

		readErr := c.readLoop(ctx, conn)

		cancelFlush()
		wg.Wait()
		_ = conn.Close()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.IngestReconnectsTotal.Inc()
		logging.Warn().
			Err(readErr).
			Dur("retry_in", backoff).
			Msg("upstream connection lost, reconnecting")
		if serr := c.sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff = nextBackoff(backoff)
	}
}

// connect dials the provider and sends the subscription frame.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Join(err, errors.New(resp.Status))
		}
		return nil, err
	}

	boxes, err := c.cfg.BoundingBoxes()
	if err != nil {
		// Validated at boot; a failure here means the config changed
		// underneath us, which cannot happen, but close cleanly anyway.
		_ = conn.Close()
		return nil, err
	}

	sub := models.SubscriptionMessage{
		APIKey:             c.cfg.APIKey,
		BoundingBoxes:      boxes,
		FilterMessageTypes: []string{"PositionReport"},
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// readLoop consumes inbound frames until the socket fails or the
// context ends.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(raw)
	}
}

// handleMessage parses one provider frame and applies it to the
// store. Malformed or invalid messages are dropped and counted.
func (c *Client) handleMessage(raw []byte) {
	rec, drop := c.parsePosition(raw)
	if drop != "" {
		metrics.IngestDroppedTotal.WithLabelValues(drop).Inc()
		if drop == dropParseError && c.parseWarn.Allow() {
			logging.Warn().Str("reason", drop).Msg("dropping malformed upstream message")
		}
		return
	}

	oldTile, newTile := c.store.PutVessel(rec)
	metrics.IngestPositionsTotal.Inc()

	c.mu.Lock()
	if oldTile != "" {
		c.dirty[oldTile] = struct{}{}
	}
	c.dirty[newTile] = struct{}{}
	c.mu.Unlock()
}

// flushLoop drains the dirty-tile set into the dispatcher at the
// configured cadence.
func (c *Client) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Flush())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Hand off whatever is pending so the dispatcher can
			// cover tiles dirtied just before the disconnect.
			c.flushOnce()
			return
		case <-ticker.C:
			c.flushOnce()
		}
	}
}

// flushOnce drains the dirty set and signals the dispatcher.
func (c *Client) flushOnce() {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return
	}
	drained := c.dirty
	c.dirty = make(map[string]struct{})
	c.mu.Unlock()

	tiles := make([]string, 0, len(drained))
	for t := range drained {
		tiles = append(tiles, t)
	}
	sort.Strings(tiles)

	c.sink.Notify(dispatch.DirtyTileBatch{Tiles: tiles})
}

// nextBackoff advances the reconnect delay: x1.5, capped at 30 s.
func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffMultiplier)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// String implements fmt.Stringer for supervisor logging.
func (c *Client) String() string {
	return "ais-ingest"
}
