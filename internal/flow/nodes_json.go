/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	Register("JSON_SELECTOR", newJSONSelectorNode)
	Register("JSON_MODIFY", newJSONModifyNode)
}

// jsonSelectorNode returns the value at a dotted path within input "json",
// equivalent to the JSON pointer /a/b/c for a path "a.b.c". gjson's own
// dot-path syntax already matches this translation directly.
type jsonSelectorNode struct {
	path string
}

func newJSONSelectorNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("JSON_SELECTOR config: %w", err)
	}
	return &jsonSelectorNode{path: cfg.Path}, nil
}

func (n *jsonSelectorNode) IsTrigger() bool { return false }

func (n *jsonSelectorNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	doc, err := marshalJSONInput(inputs["json"])
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("JSON_SELECTOR input json: %w", err)
	}

	result := gjson.GetBytes(doc, n.path)
	if !result.Exists() {
		return ExecutionResult{Outputs: Outputs{"out": nil}}, nil
	}
	return ExecutionResult{Outputs: Outputs{"out": result.Value()}}, nil
}

// jsonModifyNode writes input "data" into the configured path of input
// "json", erroring if the path cannot be resolved to a settable location.
type jsonModifyNode struct {
	path string
}

func newJSONModifyNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("JSON_MODIFY config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("JSON_MODIFY: path is required")
	}
	return &jsonModifyNode{path: cfg.Path}, nil
}

func (n *jsonModifyNode) IsTrigger() bool { return false }

func (n *jsonModifyNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	doc, err := marshalJSONInput(inputs["json"])
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("JSON_MODIFY input json: %w", err)
	}

	if !gjson.GetBytes(doc, n.path).Exists() {
		return ExecutionResult{}, fmt.Errorf("JSON_MODIFY: path %q not found", n.path)
	}

	updated, err := sjson.SetBytes(doc, n.path, inputs["data"])
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("JSON_MODIFY set path %q: %w", n.path, err)
	}

	var out any
	if err := json.Unmarshal(updated, &out); err != nil {
		return ExecutionResult{}, fmt.Errorf("JSON_MODIFY decode result: %w", err)
	}
	return ExecutionResult{Outputs: Outputs{"json": out}}, nil
}

// marshalJSONInput re-encodes an arbitrary Go value (already JSON-typed by
// construction, since every value on the wire came from JSON) back to raw
// bytes for gjson/sjson, which both operate on bytes rather than any.
func marshalJSONInput(v Value) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}
