// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

// Package websocket implements the downstream subscriber side of the
// pipeline: one Session per accepted /ws connection, plus the
// Registry that tracks live sessions and drives heartbeats.
package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkarlsen/pelorus/internal/dispatch"
	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/metrics"
	"github.com/mkarlsen/pelorus/internal/models"
	"github.com/mkarlsen/pelorus/internal/tile"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	// outboundQueueDepth bounds the per-session egress queue; see the
	// overflow policy on outQueue.
	outboundQueueDepth = 64

	// maxTilesPerSession caps the aggregate subscription size. The
	// client-side viewport logic enforces the same cap; the server
	// logs and drops the excess.
	maxTilesPerSession = 1500
)

// CloseCode values sent to clients.
const (
	CloseNormal           = websocket.CloseNormalClosure // 1000
	CloseGoingAway        = websocket.CloseGoingAway     // 1001, server shutting down
	CloseHeartbeatTimeout = 1006                         // reported, never sent on the wire
)

// Session is the per-connection subscriber state: identity, liveness
// and the set of tiles the client is watching. It implements
// dispatch.Subscriber.
type Session struct {
	id         string
	conn       *websocket.Conn
	dispatcher *dispatch.Dispatcher
	store      dispatch.SnapshotSource
	registry   *Registry

	mu         sync.Mutex
	subscribed map[string]struct{}

	out *outQueue

	// lastSeen is the unix-nano time of the last pong or inbound
	// frame; the heartbeat loop terminates sessions that go quiet.
	lastSeen atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps an accepted connection. Start must be called to
// begin the read and write pumps.
func NewSession(conn *websocket.Conn, dispatcher *dispatch.Dispatcher, store dispatch.SnapshotSource, registry *Registry) *Session {
	s := &Session{
		id:         uuid.New().String(),
		conn:       conn,
		dispatcher: dispatcher,
		store:      store,
		registry:   registry,
		subscribed: make(map[string]struct{}),
		out:        newOutQueue(outboundQueueDepth),
		done:       make(chan struct{}),
	}
	s.lastSeen.Store(time.Now().UnixNano())
	return s
}

// ID returns the session's opaque client id.
func (s *Session) ID() string {
	return s.id
}

// Start registers the session, sends the connected acknowledgment and
// begins the pumps.
func (s *Session) Start() {
	s.registry.add(s)
	s.enqueue(models.MessageTypeConnected, models.NewConnectedMessage(s.id))

	go s.writePump()
	go s.readPump()

	logging.Info().
		Str("client_id", s.id).
		Int("sessions", s.registry.Count()).
		Msg("subscriber connected")
}

// SendVesselUpdate implements dispatch.Subscriber. Best-effort: a
// false return means the update was dropped for this session.
func (s *Session) SendVesselUpdate(msg models.VesselUpdateMessage) bool {
	before := s.out.droppedCount()
	ok := s.out.push(outMessage{typ: models.MessageTypeVesselUpdate, payload: msg})
	if delta := s.out.droppedCount() - before; delta > 0 {
		metrics.SessionOutboundDroppedTotal.Add(float64(delta))
	}
	return ok
}

// enqueue queues a control message; control messages are never
// dropped by the overflow policy.
func (s *Session) enqueue(typ string, payload interface{}) {
	s.out.push(outMessage{typ: typ, payload: payload})
}

// readPump decodes inbound client frames until the connection drops.
func (s *Session) readPump() {
	defer s.Close(CloseNormal, "")

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	for {
		var msg models.ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("client_id", s.id).Msg("unexpected websocket close")
			}
			return
		}
		s.touch()

		switch msg.Type {
		case models.MessageTypeSubscribe:
			s.handleSubscribe(msg.Tiles)
		case models.MessageTypeUnsubscribe:
			s.handleUnsubscribe(msg.Tiles)
		case models.MessageTypePing:
			s.enqueue(models.MessageTypePong, models.NewPongMessage())
		default:
			logging.Debug().
				Str("client_id", s.id).
				Str("type", msg.Type).
				Msg("ignoring unknown client message type")
		}
	}
}

// handleSubscribe applies a subscribe request: record the interest,
// acknowledge it, snapshot each newly watched tile, then register
// with the dispatcher. The snapshot is enqueued before dispatcher
// registration so the initial state always precedes any tick-driven
// update for the same tile.
func (s *Session) handleSubscribe(tiles []string) {
	accepted := s.addSubscriptions(tiles)
	s.enqueue(models.MessageTypeSubscribed, models.NewSubscribedMessage(accepted))

	for _, tk := range accepted {
		if vessels := s.store.VesselsInTile(tk); len(vessels) > 0 {
			s.enqueue(models.MessageTypeVesselUpdate, models.NewVesselUpdateMessage(tk, vessels))
		}
	}

	if len(accepted) > 0 {
		s.dispatcher.Subscribe(s, accepted)
	}
}

// addSubscriptions validates and records the requested tiles,
// returning the ones actually added. Already-subscribed tiles are
// no-ops, malformed keys are skipped, and the aggregate cap is
// enforced by dropping the excess.
func (s *Session) addSubscriptions(tiles []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make([]string, 0, len(tiles))
	for _, tk := range tiles {
		if _, dup := s.subscribed[tk]; dup {
			continue
		}
		if _, err := tile.ParseKey(tk); err != nil {
			logging.Debug().Str("client_id", s.id).Str("tile", tk).Msg("rejecting malformed tile key")
			continue
		}
		if len(s.subscribed) >= maxTilesPerSession {
			logging.Warn().
				Str("client_id", s.id).
				Int("cap", maxTilesPerSession).
				Int("requested", len(tiles)).
				Msg("subscription cap reached, dropping excess tiles")
			break
		}
		s.subscribed[tk] = struct{}{}
		accepted = append(accepted, tk)
	}
	return accepted
}

// handleUnsubscribe mirrors handleSubscribe's bookkeeping.
func (s *Session) handleUnsubscribe(tiles []string) {
	s.mu.Lock()
	removed := make([]string, 0, len(tiles))
	for _, tk := range tiles {
		if _, ok := s.subscribed[tk]; ok {
			delete(s.subscribed, tk)
			removed = append(removed, tk)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.dispatcher.Unsubscribe(s, removed)
	}
	s.enqueue(models.MessageTypeUnsubscribed, models.NewUnsubscribedMessage(removed))
}

// SubscribedTiles returns a copy of the session's current interests.
func (s *Session) SubscribedTiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for tk := range s.subscribed {
		out = append(out, tk)
	}
	return out
}

// writePump serializes queued messages onto the socket.
func (s *Session) writePump() {
	defer s.Close(CloseNormal, "")

	for {
		select {
		case <-s.done:
			return
		case <-s.out.notify:
			for {
				msg, ok := s.out.pop()
				if !ok {
					break
				}
				if err := s.write(msg); err != nil {
					logging.Debug().Err(err).Str("client_id", s.id).Msg("session write failed")
					return
				}
			}
			if s.out.isClosed() {
				return
			}
		}
	}
}

func (s *Session) write(msg outMessage) error {
	payload, err := json.Marshal(msg.payload)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Ping sends a websocket ping control frame. Safe to call from the
// heartbeat goroutine; gorilla allows WriteControl concurrently with
// the write pump.
func (s *Session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// touch records inbound activity for heartbeat accounting.
func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the session's last inbound activity.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Close tears the session down exactly once: deregisters it from the
// dispatcher and registry, closes the queue and the connection. For
// code 1006 the connection is dropped without a close frame — 1006
// is reserved on the wire, and an abrupt close is what surfaces it to
// the peer.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.out.close()
		s.dispatcher.DropSession(s)
		s.registry.remove(s)

		if code != CloseHeartbeatTimeout {
			deadline := time.Now().Add(writeWait)
			msg := websocket.FormatCloseMessage(code, reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		_ = s.conn.Close() // best-effort cleanup

		logging.Info().
			Str("client_id", s.id).
			Int("code", code).
			Str("reason", reason).
			Msg("subscriber disconnected")
	})
}
