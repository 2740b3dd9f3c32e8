/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Stream Fan-Out Plane events.
	EventStreamOnline  EventType = "stream.online"
	EventStreamOffline EventType = "stream.offline"
	EventStreamRemoved EventType = "stream.removed"

	// Topic Router / entity state events.
	EventEntityStateChanged EventType = "entity.state_changed"
	EventTopicMapRebuilt    EventType = "topic_map.rebuilt"

	// Flow Execution Engine events.
	EventFlowStarted       EventType = "flow.started"
	EventFlowStopped       EventType = "flow.stopped"
	EventFlowNodeExecuted  EventType = "flow.node_executed"
	EventFlowLogMessage    EventType = "flow.log_message"

	// Per-session WebRTC actor events.
	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
	EventSessionRenegotiate  EventType = "session.renegotiate"

	// Ingress events.
	EventMQTTMessage EventType = "mqtt.message"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus is the narrow pubsub surface every subsystem depends on. LocalBus
// satisfies it for a single process; eventbus.NATSBus satisfies it for a
// multi-instance deployment, letting the two be swapped without touching
// any consumer.
type Bus interface {
	Subscribe(eventType EventType) Subscriber
	Publish(eventType EventType, payload Payload)
	Unsubscribe(eventType EventType, sub Subscriber)
}

// LocalBus implements a simple in-process pubsub.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an in-process event bus.
func NewBus() *LocalBus {
	return &LocalBus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *LocalBus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *LocalBus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *LocalBus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
