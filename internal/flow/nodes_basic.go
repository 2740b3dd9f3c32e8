/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

func init() {
	Register("START", newStartNode)
	Register("LOG_MESSAGE", newLogMessageNode)
	Register("SET_VARIABLE", newSetVariableNode)
	Register("SET_VARIABLE_WITH_EXEC", newSetVariableWithExecNode)
	Register("NUMBER", newNumberNode)
	Register("TYPE_CONVERTER", newTypeConverterNode)
}

// startNode emits a single null output when run as a source, unblocking
// whatever is wired to it.
type startNode struct{}

func newStartNode(raw json.RawMessage) (Node, error) { return &startNode{}, nil }

func (n *startNode) IsTrigger() bool { return false }

func (n *startNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	return ExecutionResult{Outputs: Outputs{"out": nil}}, nil
}

// logMessageNode writes its inputs to the broadcast bus for client display.
type logMessageNode struct{}

func newLogMessageNode(raw json.RawMessage) (Node, error) { return &logMessageNode{}, nil }

func (n *logMessageNode) IsTrigger() bool { return false }

func (n *logMessageNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	payload := make(map[string]any, len(inputs))
	for k, v := range inputs {
		payload[k] = v
	}
	ec.LogMessage(payload)
	return ExecutionResult{}, nil
}

// setVariableConfig is shared by SET_VARIABLE and SET_VARIABLE_WITH_EXEC.
type setVariableConfig struct {
	Variable     string `json:"variable"`
	VariableType string `json:"variable_type"`
}

func parseLiteral(variableType, literal string) (Value, error) {
	switch variableType {
	case "string":
		return literal, nil
	case "number":
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, fmt.Errorf("parse number variable %q: %w", literal, err)
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(literal)
		if err != nil {
			return nil, fmt.Errorf("parse boolean variable %q: %w", literal, err)
		}
		return b, nil
	case "json":
		var v any
		if err := json.Unmarshal([]byte(literal), &v); err != nil {
			return nil, fmt.Errorf("parse json variable %q: %w", literal, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown variable_type %q", variableType)
	}
}

// setVariableNode parses its configured literal per variable_type and
// emits it on "out" every time it runs.
type setVariableNode struct {
	cfg setVariableConfig
}

func newSetVariableNode(raw json.RawMessage) (Node, error) {
	var cfg setVariableConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("SET_VARIABLE config: %w", err)
	}
	return &setVariableNode{cfg: cfg}, nil
}

func (n *setVariableNode) IsTrigger() bool { return false }

func (n *setVariableNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	val, err := parseLiteral(n.cfg.VariableType, n.cfg.Variable)
	if err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{Outputs: Outputs{"out": val}}, nil
}

// setVariableWithExecNode only emits once an "exec" input has arrived,
// letting a flow author sequence assignment after a trigger rather than at
// graph-compile time.
type setVariableWithExecNode struct {
	cfg setVariableConfig
}

func newSetVariableWithExecNode(raw json.RawMessage) (Node, error) {
	var cfg setVariableConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("SET_VARIABLE_WITH_EXEC config: %w", err)
	}
	return &setVariableWithExecNode{cfg: cfg}, nil
}

func (n *setVariableWithExecNode) IsTrigger() bool { return false }

func (n *setVariableWithExecNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	if _, ok := inputs["exec"]; !ok {
		return ExecutionResult{}, nil
	}
	val, err := parseLiteral(n.cfg.VariableType, n.cfg.Variable)
	if err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{Outputs: Outputs{"out": val}}, nil
}

// numberNode emits a fixed numeric literal, distinct from SET_VARIABLE
// because the original keeps a dedicated node for this common case.
type numberNode struct {
	value float64
}

func newNumberNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Number float64 `json:"number"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("NUMBER config: %w", err)
	}
	return &numberNode{value: cfg.Number}, nil
}

func (n *numberNode) IsTrigger() bool { return false }

func (n *numberNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	return ExecutionResult{Outputs: Outputs{"number": n.value}}, nil
}

// typeConverterNode coerces input "in" to target_type.
type typeConverterNode struct {
	targetType string
}

func newTypeConverterNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		TargetType string `json:"target_type"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("TYPE_CONVERTER config: %w", err)
	}
	return &typeConverterNode{targetType: cfg.TargetType}, nil
}

func (n *typeConverterNode) IsTrigger() bool { return false }

func (n *typeConverterNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	in, ok := inputs["in"]
	if !ok {
		return ExecutionResult{}, fmt.Errorf("TYPE_CONVERTER: missing input %q", "in")
	}

	switch n.targetType {
	case "string":
		return ExecutionResult{Outputs: Outputs{"out": fmt.Sprintf("%v", in)}}, nil
	case "number":
		switch v := in.(type) {
		case float64:
			return ExecutionResult{Outputs: Outputs{"out": v}}, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return ExecutionResult{}, fmt.Errorf("convert %q to number: %w", v, err)
			}
			return ExecutionResult{Outputs: Outputs{"out": f}}, nil
		case bool:
			if v {
				return ExecutionResult{Outputs: Outputs{"out": float64(1)}}, nil
			}
			return ExecutionResult{Outputs: Outputs{"out": float64(0)}}, nil
		default:
			return ExecutionResult{}, fmt.Errorf("cannot convert %T to number", in)
		}
	case "boolean":
		switch v := in.(type) {
		case bool:
			return ExecutionResult{Outputs: Outputs{"out": v}}, nil
		case float64:
			return ExecutionResult{Outputs: Outputs{"out": v != 0}}, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return ExecutionResult{}, fmt.Errorf("convert %q to boolean: %w", v, err)
			}
			return ExecutionResult{Outputs: Outputs{"out": b}}, nil
		default:
			return ExecutionResult{}, fmt.Errorf("cannot convert %T to boolean", in)
		}
	default:
		return ExecutionResult{}, fmt.Errorf("unknown target_type %q", n.targetType)
	}
}
