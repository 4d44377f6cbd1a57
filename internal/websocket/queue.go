// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package websocket

import (
	"sync"

	"github.com/mkarlsen/pelorus/internal/models"
)

// outMessage is one queued egress frame with its protocol type kept
// alongside so the overflow policy can distinguish droppable tile
// snapshots from control messages.
type outMessage struct {
	typ     string
	payload interface{}
}

// outQueue is the session's bounded outbound queue. Writes to the
// socket are serialized through it by the write pump.
//
// Overflow policy: when the queue is at capacity and a vessel_update
// arrives, the oldest pending vessel_update is discarded in its
// favor; if nothing droppable is pending, the incoming update is
// discarded instead. Control messages (connected, subscribed,
// unsubscribed, pong) are never dropped and may briefly push the
// queue past its nominal capacity — they are few, and losing an ack
// would desynchronize the client's view of its own subscriptions.
type outQueue struct {
	mu     sync.Mutex
	items  []outMessage
	cap    int
	closed bool

	// dropped counts vessel_update messages lost to the overflow
	// policy, whether displaced or refused.
	dropped int

	// notify wakes the write pump; capacity 1 is enough because the
	// pump drains the whole queue per wakeup.
	notify chan struct{}
}

func newOutQueue(capacity int) *outQueue {
	return &outQueue{
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues a message. Returns false if the message was dropped
// (queue closed, or overflow with nothing older to displace).
func (q *outQueue) push(msg outMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.items) >= q.cap {
		if msg.typ != models.MessageTypeVesselUpdate {
			// Control messages always enqueue.
			q.items = append(q.items, msg)
			q.wake()
			return true
		}
		// Displace the oldest pending vessel_update.
		for i, pending := range q.items {
			if pending.typ == models.MessageTypeVesselUpdate {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.items = append(q.items, msg)
				q.dropped++
				q.wake()
				return true
			}
		}
		// Queue is full of control messages; drop the update.
		q.dropped++
		return false
	}

	q.items = append(q.items, msg)
	q.wake()
	return true
}

// wake signals the write pump. Caller holds the lock.
func (q *outQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the head of the queue.
func (q *outQueue) pop() (outMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return outMessage{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// len returns the number of pending messages.
func (q *outQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close marks the queue closed and wakes the pump so it can exit.
// Pending messages are discarded.
func (q *outQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.wake()
}

// droppedCount returns how many vessel_update messages overflow has
// discarded so far.
func (q *outQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// isClosed reports whether close has been called.
func (q *outQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
