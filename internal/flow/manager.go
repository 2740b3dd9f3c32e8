/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

// ActiveFlow is everything the Flow Manager owns for one running flow: the
// cancel func that stops the engine goroutine, and the cancel funcs for
// each trigger task the engine depends on.
type ActiveFlow struct {
	cancel      context.CancelFunc
	triggerStop []context.CancelFunc
	done        chan struct{}
}

// Manager owns every running flow (spec §4.J): Start rejects a flow
// already running, Stop is idempotent, List reports run state against a
// caller-supplied snapshot of persisted flows.
type Manager struct {
	bus    events.Bus
	mqtt   MQTTPublisher
	stream StreamLookup
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]*ActiveFlow
}

// NewManager constructs an empty Flow Manager.
func NewManager(bus events.Bus, mqtt MQTTPublisher, stream StreamLookup, logger zerolog.Logger) *Manager {
	return &Manager{
		bus:     bus,
		mqtt:    mqtt,
		stream:  stream,
		logger:  logger.With().Str("component", "flow_manager").Logger(),
		running: make(map[string]*ActiveFlow),
	}
}

// ErrAlreadyRunning is returned by Start when flowID is already running.
type ErrAlreadyRunning struct{ FlowID string }

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("flow %q is already running", e.FlowID)
}

// Start compiles graph and launches it: every trigger node's background
// task is started first, then the engine goroutine, both tracked under
// flowID so Stop can tear both down.
func (m *Manager) Start(ctx context.Context, flowID string, g *Graph) error {
	m.mu.Lock()
	if _, ok := m.running[flowID]; ok {
		m.mu.Unlock()
		return &ErrAlreadyRunning{FlowID: flowID}
	}
	m.mu.Unlock()

	compiled, err := Compile(g)
	if err != nil {
		return fmt.Errorf("compile flow %s: %w", flowID, err)
	}

	ec := NewExecutionContext(flowID, m.bus, m.mqtt, m.stream, m.logger)
	engine, err := NewEngine(flowID, compiled, ec)
	if err != nil {
		return fmt.Errorf("build flow %s: %w", flowID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	var triggerStop []context.CancelFunc
	for nodeID, node := range engine.nodes {
		trigNode, ok := node.(TriggerNode)
		if !ok || !node.IsTrigger() {
			continue
		}
		trigCtx, trigCancel := context.WithCancel(runCtx)
		triggerStop = append(triggerStop, trigCancel)
		go trigNode.StartTrigger(trigCtx, ec, nodeID, engine.trigCh)
	}

	active := &ActiveFlow{cancel: cancel, triggerStop: triggerStop, done: make(chan struct{})}

	m.mu.Lock()
	m.running[flowID] = active
	m.mu.Unlock()

	go func() {
		defer close(active.done)
		if err := engine.Run(runCtx); err != nil && runCtx.Err() == nil {
			m.logger.Error().Str("flow_id", flowID).Err(err).Msg("flow engine exited with error")
		}
	}()

	m.logger.Info().Str("flow_id", flowID).Msg("flow started")
	return nil
}

// Stop signals shutdown and aborts every trigger task for flowID. A second
// Stop for an already-stopped (or never-started) flow is a no-op, per
// testable property 9.
func (m *Manager) Stop(flowID string) {
	m.mu.Lock()
	active, ok := m.running[flowID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.running, flowID)
	m.mu.Unlock()

	for _, stop := range active.triggerStop {
		stop()
	}
	active.cancel()
	m.logger.Info().Str("flow_id", flowID).Msg("flow stopped")
}

// IsRunning reports whether flowID currently has an active engine.
func (m *Manager) IsRunning(flowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[flowID]
	return ok
}

// FlowStatus pairs a flow id with its current run state, for List.
type FlowStatus struct {
	FlowID    string
	IsRunning bool
}

// List reports run state for every flow id in flowIDs (typically every
// persisted flow, supplied by the caller from a database snapshot).
func (m *Manager) List(flowIDs []string) []FlowStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FlowStatus, 0, len(flowIDs))
	for _, id := range flowIDs {
		_, running := m.running[id]
		out = append(out, FlowStatus{FlowID: id, IsRunning: running})
	}
	return out
}

// StopAll stops every running flow, used during process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}
