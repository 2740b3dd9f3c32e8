/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/registry"
)

// MQTTPublisher is the narrow surface MQTT_PUBLISH needs. The concrete MQTT
// ingress client satisfies it structurally; the flow package never imports
// the ingress package directly, avoiding a cycle between the two
// subsystems that both depend on the broker connection.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
}

// StreamLookup is the narrow surface RTP_STREAM_IN needs from the Stream
// Registry.
type StreamLookup interface {
	ByTopic(topic string, mediaType registry.MediaType) (*registry.StreamInfo, bool)
}

// ExecutionContext is the per-flow state shared by every node invocation:
// a variable scope, handles to the MQTT publisher and stream registry, and
// the broadcast bus nodes write user-visible log lines to.
type ExecutionContext struct {
	FlowID string
	Bus    events.Bus
	MQTT   MQTTPublisher
	Stream StreamLookup
	Logger zerolog.Logger

	// SourceNodes lists the compiled graph's source node ids, set once by
	// the engine before any trigger task starts. MQTT_SUBSCRIBE uses it to
	// unblock sibling source nodes on its first observed message.
	SourceNodes []string

	mu        sync.RWMutex
	variables map[string]Value
}

// NewExecutionContext constructs an empty context for one flow run.
func NewExecutionContext(flowID string, bus events.Bus, mqtt MQTTPublisher, stream StreamLookup, logger zerolog.Logger) *ExecutionContext {
	return &ExecutionContext{
		FlowID:    flowID,
		Bus:       bus,
		MQTT:      mqtt,
		Stream:    stream,
		Logger:    logger.With().Str("component", "flow").Str("flow_id", flowID).Logger(),
		variables: make(map[string]Value),
	}
}

// SetVariable stores a named variable visible to every node in this run.
func (ec *ExecutionContext) SetVariable(name string, value Value) {
	ec.mu.Lock()
	ec.variables[name] = value
	ec.mu.Unlock()
}

// Variable reads a named variable.
func (ec *ExecutionContext) Variable(name string) (Value, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[name]
	return v, ok
}

// LogMessage publishes a log_message broadcast event, used both by the
// LOG_MESSAGE node and by any node reporting an internal error for user
// visibility (spec §4.I, §7).
func (ec *ExecutionContext) LogMessage(payload map[string]any) {
	ec.Bus.Publish(events.EventFlowLogMessage, events.Payload{
		"flow_id": ec.FlowID,
		"type":    "log_message",
		"payload": payload,
	})
}
