/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/registry"
)

// TestCheckerMarksThenRemovesIdleStream exercises testable property 3 and
// end-to-end scenario S6: a stream with no packets inside the liveness
// window is marked offline and then removed.
func TestCheckerMarksThenRemovesIdleStream(t *testing.T) {
	reg := registry.New()
	reg.Register(1, "house/kitchen/cam", "user-1", registry.MediaVideo)

	bus := events.NewBus()
	offlineSub := bus.Subscribe(events.EventStreamOffline)
	removedSub := bus.Subscribe(events.EventStreamRemoved)

	c := New(reg, bus, 10*time.Millisecond, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case payload := <-offlineSub:
		if payload["ssrc"] != uint32(1) {
			t.Fatalf("unexpected offline payload: %#v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream.offline event")
	}

	select {
	case payload := <-removedSub:
		if payload["ssrc"] != uint32(1) {
			t.Fatalf("unexpected removed payload: %#v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream.removed event")
	}

	if _, ok := reg.Get(1); ok {
		t.Fatal("expected stream to be removed from the registry")
	}
}

// TestCheckerLeavesFreshStreamsOnline confirms a stream receiving packets
// within the window is never marked offline.
func TestCheckerLeavesFreshStreamsOnline(t *testing.T) {
	reg := registry.New()
	reg.Register(2, "house/porch/cam", "user-1", registry.MediaVideo)

	bus := events.NewBus()
	c := New(reg, bus, 5*time.Millisecond, 200*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	info, ok := reg.Get(2)
	if !ok {
		t.Fatal("expected stream to still be registered")
	}
	if !info.Online() {
		t.Fatal("expected stream within the window to remain online")
	}
}
