// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/metrics"
)

// Registry tracks live subscriber sessions and drives the heartbeat:
// every interval each session is pinged, and a session with no
// inbound activity for two intervals is terminated with code 1006
// ("Heartbeat timeout").
//
// Registry implements suture.Service.
type Registry struct {
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry with the given heartbeat
// interval.
func NewRegistry(interval time.Duration) *Registry {
	return &Registry{
		interval: interval,
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// snapshot returns the live sessions in deterministic id order.
func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Serve runs the heartbeat loop until the context is canceled.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "heartbeat").
				Int("sessions", r.Count()).
				Msg("heartbeat loop stopped")
			return ctx.Err()

		case <-ticker.C:
			r.tick(time.Now())
		}
	}
}

// tick terminates stale sessions and pings the rest. A session is
// stale when it has produced no inbound activity (pong or message)
// for two full intervals, i.e. it missed the previous ping entirely.
func (r *Registry) tick(now time.Time) {
	for _, s := range r.snapshot() {
		if now.Sub(s.LastSeen()) > 2*r.interval {
			metrics.SessionHeartbeatTimeoutsTotal.Inc()
			logging.Warn().
				Str("client_id", s.id).
				Dur("idle", now.Sub(s.LastSeen())).
				Msg("terminating session: heartbeat timeout")
			s.Close(CloseHeartbeatTimeout, "Heartbeat timeout")
			continue
		}
		if err := s.Ping(); err != nil {
			logging.Debug().Err(err).Str("client_id", s.id).Msg("heartbeat ping failed")
		}
	}
}

// CloseAll terminates every session with the given close code. Used
// by the supervisor during shutdown (1001, "server shutting down").
func (r *Registry) CloseAll(code int, reason string) {
	for _, s := range r.snapshot() {
		s.Close(code, reason)
	}
}

// String implements fmt.Stringer for supervisor logging.
func (r *Registry) String() string {
	return "session-heartbeat"
}
