/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

// TestEngine_InputGateCorrectness exercises testable property 6: a node
// with two distinct wired input names does not execute until both have
// been delivered at least once.
func TestEngine_InputGateCorrectness(t *testing.T) {
	g := buildCalcSumGraph()
	compiled, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ec := NewExecutionContext("flow-gate", events.NewBus(), nil, nil, zerolog.Nop())
	engine, err := NewEngine("flow-gate", compiled, ec)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Deliver only input "a" to the sum node directly, bypassing set_a/set_b.
	engine.pendingInputs["sum"] = Inputs{"a": 2.0}
	if len(engine.pendingInputs["sum"]) >= engine.compiled.InDegree["sum"] {
		t.Fatal("expected sum's in-degree gate to remain unsatisfied with only one input")
	}

	engine.pendingInputs["sum"]["b"] = 3.0
	if len(engine.pendingInputs["sum"]) < engine.compiled.InDegree["sum"] {
		t.Fatal("expected sum's in-degree gate to be satisfied once both inputs arrive")
	}
}
