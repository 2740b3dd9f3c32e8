/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/json"
	"fmt"
)

// Value is one named input or output carried between nodes. The engine is
// JSON-typed throughout: numbers, strings, booleans, objects, arrays, null.
type Value = any

// Inputs is the accumulated set of named inputs delivered to one node
// invocation.
type Inputs map[string]Value

// Outputs is the set of named outputs a node produced on one invocation.
type Outputs map[string]Value

// Trigger is an out-of-band invocation request: a trigger-capable node's
// background task asks the engine to run (or re-run) node_id with inputs,
// bypassing the normal input-count gate.
type Trigger struct {
	NodeID string
	Inputs Inputs
}

// ExecutionResult is what Node.Execute returns: the outputs produced on the
// node's own connectors, plus any trigger requests for other nodes (used by
// pass-through trigger nodes forwarding a value downstream).
type ExecutionResult struct {
	Outputs  Outputs
	Triggers []Trigger
}

// Node is the behavior every node kind implements. Trigger-capable nodes
// additionally implement IsTrigger()==true and StartTrigger; every node,
// trigger or not, implements Execute so the same scheduling fabric can run
// a trigger-produced value through it (spec §9, "trigger vs executable
// duality").
type Node interface {
	Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error)
	IsTrigger() bool
}

// TriggerNode is additionally implemented by nodes whose IsTrigger() is true.
// StartTrigger runs the node's background task (an MQTT subscription, a
// ticker, an RTP subscription) until ctx is canceled; the Flow Manager
// stops it on Stop by canceling that context. The task delivers Triggers
// to trigCh as events occur.
type TriggerNode interface {
	Node
	StartTrigger(ctx context.Context, ec *ExecutionContext, nodeID string, trigCh chan<- Trigger)
}

// Constructor builds one node instance from its raw JSON config.
type Constructor func(raw json.RawMessage) (Node, error)

var registry = map[string]Constructor{}

// Register adds a node type constructor, called from each node kind's
// init(). A duplicate registration is a programming error and panics at
// package init time rather than being silently shadowed.
func Register(nodeType string, ctor Constructor) {
	if _, exists := registry[nodeType]; exists {
		panic(fmt.Sprintf("flow: node type %q already registered", nodeType))
	}
	registry[nodeType] = ctor
}

// UnknownNodeType is returned by Build when a graph names a node_type
// with no registered constructor.
type UnknownNodeType struct {
	Type string
}

func (e *UnknownNodeType) Error() string {
	return fmt.Sprintf("unknown node type %q", e.Type)
}

// Build instantiates the Node for one graph node definition.
func Build(def GraphNode) (Node, error) {
	ctor, ok := registry[def.Type]
	if !ok {
		return nil, &UnknownNodeType{Type: def.Type}
	}
	return ctor(def.Config)
}
