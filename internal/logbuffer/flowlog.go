/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"sync"
	"time"

	"github.com/cartesiancs/vessel/internal/events"
)

// perFlowCapacity bounds how many log_message lines are retained per
// running flow, just enough to backfill a session actor that subscribes
// after the flow has already been executing for a while.
const perFlowCapacity = 200

// FlowLogStore retains the last N log_message broadcasts per flow id, so a
// newly-subscribing Session Actor has something to backfill into
// get_all_flows/compute_flow beyond whatever lines arrive from here on.
// The original engine only ever fans log lines out live; this is additive
// instrumentation built on the same ring-buffer shape.
type FlowLogStore struct {
	bus events.Bus

	mu      sync.Mutex
	buffers map[string]*Buffer
}

// NewFlowLogStore constructs a store bound to bus; it does not subscribe
// yet. Call Run in a goroutine to begin draining log_message events; the
// store stops draining once the done channel passed to Run is closed.
func NewFlowLogStore(bus events.Bus) *FlowLogStore {
	return &FlowLogStore{bus: bus, buffers: make(map[string]*Buffer)}
}

// Run drains flow log events into per-flow buffers until done is closed.
func (s *FlowLogStore) Run(done <-chan struct{}) {
	sub := s.bus.Subscribe(events.EventFlowLogMessage)
	defer s.bus.Unsubscribe(events.EventFlowLogMessage, sub)

	for {
		select {
		case <-done:
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			flowID, _ := payload["flow_id"].(string)
			if flowID == "" {
				continue
			}
			s.bufferFor(flowID).Add(LogEntry{
				Timestamp: time.Now(),
				Level:     "info",
				Component: "flow",
				Fields:    payload,
			})
		}
	}
}

func (s *FlowLogStore) bufferFor(flowID string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[flowID]
	if !ok {
		b = New(perFlowCapacity)
		s.buffers[flowID] = b
	}
	return b
}

// Recent returns every retained log_message payload for flowID, oldest
// first, or nil if the flow has never logged anything.
func (s *FlowLogStore) Recent(flowID string) []LogEntry {
	s.mu.Lock()
	b, ok := s.buffers[flowID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return b.GetAll()
}

// Forget drops the retained log lines for flowID so a later run begins
// with an empty backlog. The Flow Manager does not call it; a stopped
// flow's lines stay retained until Forget is called.
func (s *FlowLogStore) Forget(flowID string) {
	s.mu.Lock()
	delete(s.buffers, flowID)
	s.mu.Unlock()
}
