/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mqttingress

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

type fakeRouter struct {
	calls []struct{ topic, payload string }
}

func (f *fakeRouter) HandleMQTTMessage(ctx context.Context, topic, payload string) error {
	f.calls = append(f.calls, struct{ topic, payload string }{topic, payload})
	return nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// TestOnMessage_BroadcastsAndRoutes exercises the §4.F per-message rule
// directly against the onMessage callback, without a live broker: a
// Publish must both broadcast raw bytes on the event bus and invoke the
// Topic Router with the decoded UTF-8 payload.
func TestOnMessage_BroadcastsAndRoutes(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventMQTTMessage)
	router := &fakeRouter{}

	c := New("localhost:1883", "test-client", bus, router, zerolog.Nop())
	c.onMessage(nil, fakeMessage{topic: "house/kitchen/temp", payload: []byte("22.5")})

	select {
	case payload := <-sub:
		if payload["topic"] != "house/kitchen/temp" {
			t.Fatalf("unexpected topic broadcast: %#v", payload)
		}
		if payload["payload"] != "22.5" {
			t.Fatalf("unexpected payload broadcast: %#v", payload)
		}
	default:
		t.Fatal("expected a broadcast on the event bus")
	}

	if len(router.calls) != 1 {
		t.Fatalf("expected exactly one router call, got %d", len(router.calls))
	}
	if router.calls[0].topic != "house/kitchen/temp" || router.calls[0].payload != "22.5" {
		t.Fatalf("unexpected router call: %#v", router.calls[0])
	}
}

func TestPublish_FailsWhenNotConnected(t *testing.T) {
	c := New("localhost:1883", "test-client", events.NewBus(), nil, zerolog.Nop())
	if err := c.Publish("a/b", 0, false, []byte("x")); err == nil {
		t.Fatal("expected Publish to fail before Connect")
	}
}
