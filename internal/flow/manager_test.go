/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

func simpleStartGraph() *Graph {
	return &Graph{Nodes: []GraphNode{{ID: "start", Type: "START"}}}
}

func TestManager_StartRejectsDuplicate(t *testing.T) {
	m := NewManager(events.NewBus(), nil, nil, zerolog.Nop())

	if err := m.Start(context.Background(), "flow-1", simpleStartGraph()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop("flow-1")

	err := m.Start(context.Background(), "flow-1", simpleStartGraph())
	if err == nil {
		t.Fatal("expected Start to reject an already-running flow")
	}
	if _, ok := err.(*ErrAlreadyRunning); !ok {
		t.Fatalf("expected *ErrAlreadyRunning, got %T", err)
	}
}

// TestManager_StopIsIdempotent exercises testable property 9: two
// successive Stop commands are equivalent to one.
func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager(events.NewBus(), nil, nil, zerolog.Nop())

	if err := m.Start(context.Background(), "flow-2", simpleStartGraph()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.Stop("flow-2")
	if m.IsRunning("flow-2") {
		t.Fatal("expected flow to be stopped after first Stop")
	}

	// A second Stop must be a no-op, not panic or error.
	m.Stop("flow-2")
	if m.IsRunning("flow-2") {
		t.Fatal("expected flow to remain stopped after a redundant Stop")
	}
}

func TestManager_List(t *testing.T) {
	m := NewManager(events.NewBus(), nil, nil, zerolog.Nop())
	if err := m.Start(context.Background(), "flow-running", simpleStartGraph()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop("flow-running")

	time.Sleep(10 * time.Millisecond)

	statuses := m.List([]string{"flow-running", "flow-not-started"})
	byID := map[string]bool{}
	for _, s := range statuses {
		byID[s.FlowID] = s.IsRunning
	}

	if !byID["flow-running"] {
		t.Fatal("expected flow-running to be reported running")
	}
	if byID["flow-not-started"] {
		t.Fatal("expected flow-not-started to be reported not running")
	}
}
