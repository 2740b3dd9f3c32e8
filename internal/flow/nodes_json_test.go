/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

func TestJSONModifyNode_WritesExistingPath(t *testing.T) {
	n, err := newJSONModifyNode(json.RawMessage(`{"path":"a.b"}`))
	if err != nil {
		t.Fatalf("newJSONModifyNode: %v", err)
	}
	ec := NewExecutionContext("flow-json-modify", events.NewBus(), nil, nil, zerolog.Nop())

	res, err := n.Execute(context.Background(), ec, Inputs{
		"json": map[string]any{"a": map[string]any{"b": 1}},
		"data": "updated",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	out, ok := res.Outputs["json"].(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %#v", res.Outputs["json"])
	}
	inner, _ := out["a"].(map[string]any)
	if inner["b"] != "updated" {
		t.Fatalf("expected a.b=updated, got %#v", out)
	}
}

func TestJSONModifyNode_ErrorsOnMissingPath(t *testing.T) {
	n, err := newJSONModifyNode(json.RawMessage(`{"path":"a.missing"}`))
	if err != nil {
		t.Fatalf("newJSONModifyNode: %v", err)
	}
	ec := NewExecutionContext("flow-json-modify-missing", events.NewBus(), nil, nil, zerolog.Nop())

	_, err = n.Execute(context.Background(), ec, Inputs{
		"json": map[string]any{"a": map[string]any{"b": 1}},
		"data": "updated",
	})
	if err == nil {
		t.Fatal("expected an error when the path does not already exist")
	}
}

func TestJSONSelectorNode_MissingPathYieldsNull(t *testing.T) {
	n, err := newJSONSelectorNode(json.RawMessage(`{"path":"a.missing"}`))
	if err != nil {
		t.Fatalf("newJSONSelectorNode: %v", err)
	}
	ec := NewExecutionContext("flow-json-selector", events.NewBus(), nil, nil, zerolog.Nop())

	res, err := n.Execute(context.Background(), ec, Inputs{
		"json": map[string]any{"a": map[string]any{"b": 1}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outputs["out"] != nil {
		t.Fatalf("expected nil for missing path, got %#v", res.Outputs["out"])
	}
}

func TestJSONSelectorNode_ResolvesDottedPath(t *testing.T) {
	n, err := newJSONSelectorNode(json.RawMessage(`{"path":"a.b.c"}`))
	if err != nil {
		t.Fatalf("newJSONSelectorNode: %v", err)
	}
	ec := NewExecutionContext("flow-json-selector-2", events.NewBus(), nil, nil, zerolog.Nop())

	res, err := n.Execute(context.Background(), ec, Inputs{
		"json": map[string]any{"a": map[string]any{"b": map[string]any{"c": 42.0}}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outputs["out"] != 42.0 {
		t.Fatalf("expected 42, got %#v", res.Outputs["out"])
	}
}
