/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"encoding/json"
	"testing"
)

func TestCompileBuildsFanoutAndInDegree(t *testing.T) {
	g := &Graph{
		Nodes: []GraphNode{
			{ID: "a", Type: "NUMBER", Config: json.RawMessage(`{"number":2}`)},
			{ID: "b", Type: "NUMBER", Config: json.RawMessage(`{"number":3}`)},
			{ID: "sum", Type: "CALC", Config: json.RawMessage(`{"operator":"+"}`)},
		},
		Connectors: []Connector{
			{ID: "a_out", NodeID: "a", Name: "number"},
			{ID: "b_out", NodeID: "b", Name: "number"},
			{ID: "sum_a", NodeID: "sum", Name: "a"},
			{ID: "sum_b", NodeID: "sum", Name: "b"},
		},
		Edges: []GraphEdge{
			{ID: "e1", Source: "a_out", Target: "sum_a"},
			{ID: "e2", Source: "b_out", Target: "sum_b"},
		},
	}

	cg, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if cg.InDegree["sum"] != 2 {
		t.Fatalf("expected in-degree 2 for sum, got %d", cg.InDegree["sum"])
	}
	if len(cg.Fanout["a"]) != 1 || cg.Fanout["a"][0].To != "sum" || cg.Fanout["a"][0].InName != "a" {
		t.Fatalf("unexpected fanout for a: %#v", cg.Fanout["a"])
	}

	sources := map[string]bool{}
	for _, s := range cg.SourceNodes {
		sources[s] = true
	}
	if !sources["a"] || !sources["b"] || sources["sum"] {
		t.Fatalf("unexpected source nodes: %v", cg.SourceNodes)
	}
}

func TestCompileUnknownConnector(t *testing.T) {
	g := &Graph{
		Nodes: []GraphNode{{ID: "a", Type: "START"}},
		Edges: []GraphEdge{{ID: "e1", Source: "missing", Target: "also-missing"}},
	}

	_, err := Compile(g)
	if err == nil {
		t.Fatal("expected an UnknownConnector error")
	}
	if _, ok := err.(*UnknownConnector); !ok {
		t.Fatalf("expected *UnknownConnector, got %T", err)
	}
}

func TestBuildUnknownNodeType(t *testing.T) {
	_, err := Build(GraphNode{ID: "x", Type: "NOT_A_REAL_NODE"})
	if err == nil {
		t.Fatal("expected an UnknownNodeType error")
	}
	if _, ok := err.(*UnknownNodeType); !ok {
		t.Fatalf("expected *UnknownNodeType, got %T", err)
	}
}
