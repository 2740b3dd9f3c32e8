/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package topicrouter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

// TestHandleMQTTMessage_S1 exercises end-to-end scenario S1 from the spec:
// an exact topic match persists state and broadcasts change_state.
func TestHandleMQTTMessage_S1(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventEntityStateChanged)

	r := &Router{logger: zerolog.Nop(), bus: bus}
	r.mu.Lock()
	r.mappings = []Mapping{{Protocol: ProtocolMQTT, Topic: "house/kitchen/temp", EntityID: "sensor.kitchen"}}
	r.mu.Unlock()

	var gotEntity, gotState string
	var calls int32
	r.WithStateSetter(func(ctx context.Context, entityID, state string, attrs map[string]any) error {
		atomic.AddInt32(&calls, 1)
		gotEntity, gotState = entityID, state
		return nil
	})

	if err := r.HandleMQTTMessage(context.Background(), "house/kitchen/temp", "22.5"); err != nil {
		t.Fatalf("HandleMQTTMessage: %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one SetEntityState call, got %d", calls)
	}
	if gotEntity != "sensor.kitchen" || gotState != "22.5" {
		t.Fatalf("unexpected state write: entity=%s state=%s", gotEntity, gotState)
	}

	select {
	case payload := <-sub:
		if payload["entity"] != "sensor.kitchen" || payload["state"] != "22.5" {
			t.Fatalf("unexpected broadcast payload: %#v", payload)
		}
	default:
		t.Fatal("expected a change_state broadcast")
	}
}

// TestHandleMQTTMessage_NoMatch verifies a topic with no mapping is a no-op.
func TestHandleMQTTMessage_NoMatch(t *testing.T) {
	r := &Router{logger: zerolog.Nop()}
	called := false
	r.WithStateSetter(func(ctx context.Context, entityID, state string, attrs map[string]any) error {
		called = true
		return nil
	})

	if err := r.HandleMQTTMessage(context.Background(), "unknown/topic", "x"); err != nil {
		t.Fatalf("HandleMQTTMessage: %v", err)
	}
	if called {
		t.Fatal("expected no state write for an unmapped topic")
	}
}

// TestSnapshotAtomicity exercises testable property 7: a reader iterating a
// snapshot must never observe a mixture of the pre- and post-swap sets.
func TestSnapshotAtomicity(t *testing.T) {
	r := &Router{logger: zerolog.Nop()}
	r.mu.Lock()
	r.mappings = []Mapping{{Protocol: ProtocolMQTT, Topic: "a", EntityID: "e1"}}
	r.mu.Unlock()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			snap := r.Snapshot()
			// Every observed snapshot must be internally consistent: either
			// the 1-entry set or the N-entry set, never a torn slice.
			if len(snap) != 1 && len(snap) != 3 {
				t.Errorf("observed torn snapshot of length %d", len(snap))
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		next := []Mapping{
			{Protocol: ProtocolMQTT, Topic: "a", EntityID: "e1"},
			{Protocol: ProtocolMQTT, Topic: "b", EntityID: "e2"},
			{Protocol: ProtocolRTSP, Topic: "rtsp://cam", EntityID: "e3"},
		}
		r.mu.Lock()
		r.mappings = next
		r.mu.Unlock()

		r.mu.Lock()
		r.mappings = []Mapping{{Protocol: ProtocolMQTT, Topic: "a", EntityID: "e1"}}
		r.mu.Unlock()
	}
	close(stop)
	wg.Wait()
}
