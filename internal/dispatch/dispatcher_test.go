// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package dispatch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mkarlsen/pelorus/internal/logging"
	"github.com/mkarlsen/pelorus/internal/models"
	"github.com/mkarlsen/pelorus/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "fatal", Output: io.Discard})
}

// fakeSubscriber records every vessel_update pushed to it.
type fakeSubscriber struct {
	id   string
	mu   sync.Mutex
	msgs []models.VesselUpdateMessage
	fail bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) SendVesselUpdate(msg models.VesselUpdateMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSubscriber) messages() []models.VesselUpdateMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.VesselUpdateMessage, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func vesselAt(mmsi uint64, tileKey string) models.VesselRecord {
	return models.VesselRecord{
		MMSI:      mmsi,
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Tile:      tileKey,
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.VesselStore) {
	t.Helper()
	st := store.New(2 * time.Minute)
	return New(st, 10*time.Millisecond), st
}

func TestFlushSendsSnapshotToSubscribers(t *testing.T) {
	d, st := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}

	rec := vesselAt(111, "12/100/200")
	rec.Lat, rec.Lon = 1, 1
	st.PutVessel(rec)

	d.Subscribe(sub, []string{"12/100/200"})
	d.Notify(DirtyTileBatch{Tiles: []string{"12/100/200"}})

	// Drain the signal into the dirty set the way Serve would.
	batch := <-d.signals
	for _, tk := range batch.Tiles {
		d.dirty[tk] = struct{}{}
	}
	d.Flush()

	msgs := sub.messages()
	if len(msgs) != 1 {
		t.Fatalf("subscriber got %d messages, want 1", len(msgs))
	}
	if msgs[0].Tile != "12/100/200" {
		t.Errorf("message tile = %q, want 12/100/200", msgs[0].Tile)
	}
	if len(msgs[0].Vessels) != 1 || msgs[0].Vessels[0].MMSI != 111 {
		t.Errorf("message vessels = %v, want [111]", msgs[0].Vessels)
	}
}

func TestFlushCoalescesUpdates(t *testing.T) {
	d, st := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}
	d.Subscribe(sub, []string{"12/100/200"})

	// Several updates for the same vessel between ticks: exactly one
	// outbound message carrying the last state.
	for i := 0; i < 5; i++ {
		rec := vesselAt(111, "12/100/200")
		rec.Sog = models.Float64Ptr(float64(i))
		st.PutVessel(rec)
		d.dirty["12/100/200"] = struct{}{}
	}
	d.Flush()

	msgs := sub.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (coalesced)", len(msgs))
	}
	if got := msgs[0].Vessels[0].Sog; got == nil || *got != 4 {
		t.Errorf("coalesced message sog = %v, want 4 (latest state)", got)
	}
}

func TestFlushSkipsTilesWithoutSubscribers(t *testing.T) {
	d, st := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}
	d.Subscribe(sub, []string{"12/1/1"})

	st.PutVessel(vesselAt(111, "12/9/9"))
	d.dirty["12/9/9"] = struct{}{}
	d.Flush()

	if got := sub.messages(); len(got) != 0 {
		t.Errorf("subscriber to other tile received %v", got)
	}
}

func TestFlushEmptyTileSignalsDepopulation(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}
	d.Subscribe(sub, []string{"12/100/200"})

	// Tile went dirty (vessel moved away) and is now empty: the
	// subscriber still gets one message with an empty vessel list.
	d.dirty["12/100/200"] = struct{}{}
	d.Flush()

	msgs := sub.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Vessels == nil || len(msgs[0].Vessels) != 0 {
		t.Errorf("depopulation message vessels = %v, want empty list", msgs[0].Vessels)
	}
}

func TestTileTransitionFanout(t *testing.T) {
	d, st := newTestDispatcher(t)
	subA := &fakeSubscriber{id: "a"}
	subB := &fakeSubscriber{id: "b"}
	d.Subscribe(subA, []string{"12/100/200"})
	d.Subscribe(subB, []string{"12/101/200"})

	st.PutVessel(vesselAt(222, "12/100/200"))
	d.dirty["12/100/200"] = struct{}{}
	d.Flush()

	// Vessel moves to the neighboring tile; both tiles go dirty.
	st.PutVessel(vesselAt(222, "12/101/200"))
	d.dirty["12/100/200"] = struct{}{}
	d.dirty["12/101/200"] = struct{}{}
	d.Flush()

	aMsgs := subA.messages()
	if len(aMsgs) != 2 {
		t.Fatalf("old-tile subscriber got %d messages, want 2", len(aMsgs))
	}
	if len(aMsgs[1].Vessels) != 0 {
		t.Errorf("old tile's second update = %v, want empty (vessel left)", aMsgs[1].Vessels)
	}

	bMsgs := subB.messages()
	if len(bMsgs) != 1 {
		t.Fatalf("new-tile subscriber got %d messages, want 1", len(bMsgs))
	}
	if len(bMsgs[0].Vessels) != 1 || bMsgs[0].Vessels[0].MMSI != 222 {
		t.Errorf("new tile update = %v, want [222]", bMsgs[0].Vessels)
	}
}

func TestSubscribeDuplicateIsNoOp(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}

	d.Subscribe(sub, []string{"12/1/1"})
	d.Subscribe(sub, []string{"12/1/1"})

	if got := d.SubscriberCount("12/1/1"); got != 1 {
		t.Errorf("SubscriberCount = %d after duplicate subscribe, want 1", got)
	}
}

func TestUnsubscribeEvictsEmptyIndexEntry(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}

	d.Subscribe(sub, []string{"12/1/1"})
	d.Unsubscribe(sub, []string{"12/1/1"})

	d.mu.Lock()
	_, exists := d.subs["12/1/1"]
	d.mu.Unlock()
	if exists {
		t.Error("empty subscription index entry not evicted")
	}
}

func TestDropSessionRemovesAllSubscriptions(t *testing.T) {
	d, st := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}
	other := &fakeSubscriber{id: "b"}

	d.Subscribe(sub, []string{"12/1/1", "12/2/2", "12/3/3"})
	d.Subscribe(other, []string{"12/1/1"})
	d.DropSession(sub)

	if got := d.SubscriberCount("12/1/1"); got != 1 {
		t.Errorf("tile 12/1/1 count = %d after drop, want 1 (other session remains)", got)
	}
	for _, tk := range []string{"12/2/2", "12/3/3"} {
		if got := d.SubscriberCount(tk); got != 0 {
			t.Errorf("tile %s count = %d after drop, want 0", tk, got)
		}
	}

	// Updates to a now-unwatched tile go nowhere.
	st.PutVessel(vesselAt(1, "12/2/2"))
	d.dirty["12/2/2"] = struct{}{}
	d.Flush()
	if got := sub.messages(); len(got) != 0 {
		t.Errorf("dropped session still received %v", got)
	}
}

func TestSendFailureDoesNotStopFanout(t *testing.T) {
	d, st := newTestDispatcher(t)
	bad := &fakeSubscriber{id: "a", fail: true}
	good := &fakeSubscriber{id: "b"}
	d.Subscribe(bad, []string{"12/1/1"})
	d.Subscribe(good, []string{"12/1/1"})

	st.PutVessel(vesselAt(1, "12/1/1"))
	d.dirty["12/1/1"] = struct{}{}
	d.Flush()

	if got := good.messages(); len(got) != 1 {
		t.Errorf("healthy subscriber got %d messages despite peer failure, want 1", len(got))
	}
}

func TestServeDrivesFlushes(t *testing.T) {
	d, st := newTestDispatcher(t)
	sub := &fakeSubscriber{id: "a"}
	d.Subscribe(sub, []string{"12/100/200"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	st.PutVessel(vesselAt(111, "12/100/200"))
	d.Notify(DirtyTileBatch{Tiles: []string{"12/100/200"}})

	deadline := time.After(time.Second)
	for len(sub.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no vessel_update dispatched within a second")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	d, _ := newTestDispatcher(t)

	// No consumer running; flooding Notify must not deadlock.
	for i := 0; i < 1000; i++ {
		d.Notify(DirtyTileBatch{Tiles: []string{"12/1/1"}})
	}
}
