/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cartesiancs/vessel/internal/db"
	"github.com/cartesiancs/vessel/internal/flow"
)

// handleComputeFlow implements the `compute_flow` contract: load the
// latest saved version of flow_id and hand it to the Flow Manager's Start.
func (s *Session) handleComputeFlow(ctx context.Context, payload json.RawMessage) error {
	var req computeFlowPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode compute_flow: %w", err)
	}

	flowID, err := strconv.ParseUint(req.FlowID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid flow_id %q: %w", req.FlowID, err)
	}

	version, err := db.GetLatestFlowVersion(s.deps.DB, uint(flowID))
	if err != nil {
		return fmt.Errorf("load latest version for flow %s: %w", req.FlowID, err)
	}

	graph, err := flow.ParseGraph([]byte(version.GraphJSON))
	if err != nil {
		return fmt.Errorf("parse graph for flow %s: %w", req.FlowID, err)
	}

	if err := s.deps.FlowManager.Start(ctx, req.FlowID, graph); err != nil {
		return fmt.Errorf("start flow %s: %w", req.FlowID, err)
	}
	return nil
}

// handleStopFlow implements the `stop_flow` contract: forward to the Flow
// Manager, which is itself idempotent (spec property 9).
func (s *Session) handleStopFlow(payload json.RawMessage) error {
	var req stopFlowPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode stop_flow: %w", err)
	}
	s.deps.FlowManager.Stop(req.FlowID)
	return nil
}
