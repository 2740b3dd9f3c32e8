/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"

	"github.com/cartesiancs/vessel/internal/events"
)

// trigCommandBuffer bounds the trigger mailbox so a burst of MQTT messages
// or interval ticks cannot deadlock a trigger task against a busy engine;
// capacity is generous rather than tight since triggers are meant to never
// block on delivery.
const trigCommandBuffer = 256

// Engine runs one compiled graph to completion (or until canceled),
// implementing the scheduler described in spec §4.H: a FIFO exec_queue fed
// by fanout routes and by asynchronous trigger commands.
type Engine struct {
	flowID   string
	compiled *CompiledGraph
	nodes    map[string]Node
	ec       *ExecutionContext

	execQueue     []string
	pendingInputs map[string]Inputs
	trigCh        chan Trigger
}

// NewEngine instantiates every node in the compiled graph and prepares an
// engine ready to Run.
func NewEngine(flowID string, compiled *CompiledGraph, ec *ExecutionContext) (*Engine, error) {
	nodes := make(map[string]Node, len(compiled.Nodes))
	for id, def := range compiled.Nodes {
		n, err := Build(def)
		if err != nil {
			return nil, err
		}
		nodes[id] = n
	}

	ec.SourceNodes = compiled.SourceNodes

	return &Engine{
		flowID:        flowID,
		compiled:      compiled,
		nodes:         nodes,
		ec:            ec,
		pendingInputs: make(map[string]Inputs),
		trigCh:        make(chan Trigger, trigCommandBuffer),
	}, nil
}

// TriggerChan exposes the engine's trigger mailbox so the Flow Manager can
// hand it to each trigger node's StartTrigger call.
func (e *Engine) TriggerChan() chan<- Trigger {
	return e.trigCh
}

// Run executes the graph until ctx is canceled. Whenever exec_queue is
// empty it blocks awaiting the next trigger command or cancellation, so it
// does not return when a trigger-less graph converges; it returns
// ctx.Err() once ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.ec.Bus.Publish(events.EventFlowStarted, events.Payload{"flow_id": e.flowID})
	e.ec.LogMessage(map[string]any{"message": "Executing flow..."})

	for _, id := range e.compiled.SourceNodes {
		if n, ok := e.nodes[id]; ok && n.IsTrigger() {
			continue
		}
		e.enqueue(id)
	}

	for {
		select {
		case <-ctx.Done():
			e.ec.Bus.Publish(events.EventFlowStopped, events.Payload{"flow_id": e.flowID})
			return ctx.Err()
		case trig := <-e.trigCh:
			e.admitTrigger(trig)
			continue
		default:
		}

		if len(e.execQueue) > 0 {
			e.step(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			e.ec.Bus.Publish(events.EventFlowStopped, events.Payload{"flow_id": e.flowID})
			return ctx.Err()
		case trig := <-e.trigCh:
			e.admitTrigger(trig)
		}
	}
}

// admitTrigger seeds pending_inputs from a trigger command and enqueues its
// node, bypassing the input-count gate since the trigger's inputs are
// explicit and complete by construction.
func (e *Engine) admitTrigger(trig Trigger) {
	e.mergeInputs(trig.NodeID, trig.Inputs)
	e.enqueue(trig.NodeID)
}

func (e *Engine) enqueue(nodeID string) {
	e.execQueue = append(e.execQueue, nodeID)
}

func (e *Engine) mergeInputs(nodeID string, inputs Inputs) {
	if inputs == nil {
		return
	}
	existing := e.pendingInputs[nodeID]
	if existing == nil {
		existing = make(Inputs, len(inputs))
	}
	for k, v := range inputs {
		existing[k] = v
	}
	e.pendingInputs[nodeID] = existing
}

// step pops and runs exactly one node from exec_queue, routing its outputs
// per the compiled fanout table.
func (e *Engine) step(ctx context.Context) {
	nodeID := e.execQueue[0]
	e.execQueue = e.execQueue[1:]

	node, ok := e.nodes[nodeID]
	if !ok {
		return
	}

	inputs := e.pendingInputs[nodeID]
	delete(e.pendingInputs, nodeID)

	result, err := node.Execute(ctx, e.ec, inputs)
	if err != nil {
		e.ec.Logger.Warn().Str("node_id", nodeID).Err(err).Msg("node execution failed")
		e.ec.LogMessage(map[string]any{"node_id": nodeID, "error": err.Error()})
		return
	}

	e.ec.Bus.Publish(events.EventFlowNodeExecuted, events.Payload{
		"flow_id": e.flowID,
		"node_id": nodeID,
	})

	for _, trig := range result.Triggers {
		e.mergeInputs(trig.NodeID, trig.Inputs)
		e.enqueue(trig.NodeID)
	}

	for _, route := range e.compiled.Fanout[nodeID] {
		val, ok := result.Outputs[route.OutName]
		if !ok {
			continue
		}
		if e.pendingInputs[route.To] == nil {
			e.pendingInputs[route.To] = make(Inputs)
		}
		e.pendingInputs[route.To][route.InName] = val

		if len(e.pendingInputs[route.To]) >= e.compiled.InDegree[route.To] {
			e.enqueue(route.To)
		}
	}
}
