/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ws "nhooyr.io/websocket"
)

func init() {
	Register("LOOP", newLoopNode)
	Register("WEBSOCKET_ON", newWebSocketOnNode)
	Register("WEBSOCKET_SEND", newWebSocketSendNode)
}

// loopNode is an executable node that, once run, emits one Trigger per
// iteration carrying an incrementing "index" input to a downstream node —
// exercising the engine's Trigger-bypass-gate path beyond what INTERVAL
// alone covers. body_node_id/body_input_name name the downstream node and
// input the loop variable is delivered to.
type loopNode struct {
	iterations    int
	bodyNodeID    string
	bodyInputName string
}

func newLoopNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Iterations    int    `json:"iterations"`
		BodyNodeID    string `json:"body_node_id"`
		BodyInputName string `json:"body_input_name"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("LOOP config: %w", err)
	}
	return &loopNode{iterations: cfg.Iterations, bodyNodeID: cfg.BodyNodeID, bodyInputName: cfg.BodyInputName}, nil
}

func (n *loopNode) IsTrigger() bool { return false }

func (n *loopNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	if n.bodyNodeID == "" {
		return ExecutionResult{}, fmt.Errorf("LOOP: body_node_id is required")
	}

	triggers := make([]Trigger, 0, n.iterations)
	for i := 0; i < n.iterations; i++ {
		triggers = append(triggers, Trigger{
			NodeID: n.bodyNodeID,
			Inputs: Inputs{n.bodyInputName: float64(i)},
		})
	}
	return ExecutionResult{Triggers: triggers}, nil
}

// webSocketOnNode maintains a reconnecting outbound WebSocket client,
// emitting "payload" on every inbound text frame.
type webSocketOnNode struct {
	url string
}

func newWebSocketOnNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("WEBSOCKET_ON config: %w", err)
	}
	return &webSocketOnNode{url: cfg.URL}, nil
}

func (n *webSocketOnNode) IsTrigger() bool { return true }

func (n *webSocketOnNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	return ExecutionResult{Outputs: Outputs{"payload": inputs["payload"]}}, nil
}

const webSocketOnReconnectBackoff = 5 * time.Second

func (n *webSocketOnNode) StartTrigger(ctx context.Context, ec *ExecutionContext, nodeID string, trigCh chan<- Trigger) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.runOnce(ctx, ec, nodeID, trigCh); err != nil {
			ec.Logger.Warn().Str("node_id", nodeID).Str("url", n.url).Err(err).Msg("WEBSOCKET_ON: connection error, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(webSocketOnReconnectBackoff):
		}
	}
}

func (n *webSocketOnNode) runOnce(ctx context.Context, ec *ExecutionContext, nodeID string, trigCh chan<- Trigger) error {
	conn, _, err := ws.Dial(ctx, n.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "flow stopped")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != ws.MessageText {
			continue
		}

		var value Value = string(data)
		var parsed any
		if json.Unmarshal(data, &parsed) == nil {
			value = parsed
		}

		select {
		case trigCh <- Trigger{NodeID: nodeID, Inputs: Inputs{"payload": value}}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// webSocketSendNode opens, sends, and closes an outbound connection on
// every invocation.
type webSocketSendNode struct {
	url string
}

func newWebSocketSendNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("WEBSOCKET_SEND config: %w", err)
	}
	return &webSocketSendNode{url: cfg.URL}, nil
}

func (n *webSocketSendNode) IsTrigger() bool { return false }

func (n *webSocketSendNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	payload, ok := inputs["payload"]
	if !ok {
		return ExecutionResult{}, fmt.Errorf("WEBSOCKET_SEND: missing input %q", "payload")
	}

	var body []byte
	if s, ok := payload.(string); ok {
		body = []byte(s)
	} else {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("WEBSOCKET_SEND: encode payload: %w", err)
		}
		body = encoded
	}

	conn, _, err := ws.Dial(ctx, n.url, nil)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("WEBSOCKET_SEND: dial: %w", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "sent")

	if err := conn.Write(ctx, ws.MessageText, body); err != nil {
		return ExecutionResult{}, fmt.Errorf("WEBSOCKET_SEND: write: %w", err)
	}

	return ExecutionResult{}, nil
}
