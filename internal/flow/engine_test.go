/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

func buildCalcSumGraph() *Graph {
	return &Graph{
		Nodes: []GraphNode{
			{ID: "set_a", Type: "SET_VARIABLE", Config: json.RawMessage(`{"variable":"2","variable_type":"number"}`)},
			{ID: "set_b", Type: "SET_VARIABLE", Config: json.RawMessage(`{"variable":"3","variable_type":"number"}`)},
			{ID: "sum", Type: "CALC", Config: json.RawMessage(`{"operator":"+"}`)},
			{ID: "log", Type: "LOG_MESSAGE"},
		},
		Connectors: []Connector{
			{ID: "a_out", NodeID: "set_a", Name: "out"},
			{ID: "b_out", NodeID: "set_b", Name: "out"},
			{ID: "sum_a", NodeID: "sum", Name: "a"},
			{ID: "sum_b", NodeID: "sum", Name: "b"},
			{ID: "sum_out", NodeID: "sum", Name: "number"},
			{ID: "log_in", NodeID: "log", Name: "number"},
		},
		Edges: []GraphEdge{
			{ID: "e1", Source: "a_out", Target: "sum_a"},
			{ID: "e2", Source: "b_out", Target: "sum_b"},
			{ID: "e3", Source: "sum_out", Target: "log_in"},
		},
	}
}

// TestEngine_S2_CalcSum exercises end-to-end scenario S2 and testable
// property 5 (engine convergence for a pure acyclic graph).
func TestEngine_S2_CalcSum(t *testing.T) {
	compiled, err := Compile(buildCalcSumGraph())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventFlowLogMessage)

	ec := NewExecutionContext("flow-1", bus, nil, nil, zerolog.Nop())
	engine, err := NewEngine("flow-1", compiled, ec)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case payload := <-sub:
			inner, _ := payload["payload"].(map[string]any)
			if inner == nil {
				continue
			}
			if n, ok := inner["number"].(float64); ok && n == 5 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for LOG_MESSAGE to observe number=5")
		}
	}
}

// TestEngine_S5_BranchRouting exercises scenario S5 directly against the
// BRANCH node.
func TestEngine_S5_BranchRouting(t *testing.T) {
	n := &branchNode{}
	ec := NewExecutionContext("flow-branch", events.NewBus(), nil, nil, zerolog.Nop())

	res, err := n.Execute(context.Background(), ec, Inputs{"data": "x", "condition": true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outputs["true_output"] != "x" {
		t.Fatalf("expected true_output=x, got %#v", res.Outputs)
	}
	if _, ok := res.Outputs["false_output"]; ok {
		t.Fatalf("expected no false_output when condition is true, got %#v", res.Outputs)
	}

	res, err = n.Execute(context.Background(), ec, Inputs{"data": "x", "condition": false})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outputs["false_output"] != "x" {
		t.Fatalf("expected false_output=x, got %#v", res.Outputs)
	}
	if _, ok := res.Outputs["true_output"]; ok {
		t.Fatalf("expected no true_output when condition is false, got %#v", res.Outputs)
	}
}

// TestEngine_S4_IntervalTrigger exercises scenario S4: at a 100ms tick
// rate, after 350ms between 3 and 4 log_message broadcasts are observed.
func TestEngine_S4_IntervalTrigger(t *testing.T) {
	g := &Graph{
		Nodes: []GraphNode{
			{ID: "tick", Type: "INTERVAL", Config: json.RawMessage(`{"interval":100,"unit":"ms"}`)},
			{ID: "log", Type: "LOG_MESSAGE"},
		},
		Connectors: []Connector{
			{ID: "tick_out", NodeID: "tick", Name: "exec"},
			{ID: "log_in", NodeID: "log", Name: "exec"},
		},
		Edges: []GraphEdge{
			{ID: "e1", Source: "tick_out", Target: "log_in"},
		},
	}

	compiled, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventFlowLogMessage)

	ec := NewExecutionContext("flow-interval", bus, nil, nil, zerolog.Nop())
	engine, err := NewEngine("flow-interval", compiled, ec)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.nodes["tick"].(TriggerNode).StartTrigger(ctx, ec, "tick", engine.TriggerChan())
	go engine.Run(ctx)

	count := 0
	deadline := time.After(350 * time.Millisecond)
loop:
	for {
		select {
		case <-sub:
			count++
		case <-deadline:
			break loop
		}
	}

	if count < 3 || count > 4 {
		t.Fatalf("expected 3-4 log_message broadcasts in 350ms, got %d", count)
	}
}
