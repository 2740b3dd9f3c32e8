/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"encoding/json"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f, err := newFrame("pong", struct{}{})
	if err != nil {
		t.Fatalf("newFrame: %v", err)
	}
	if f.Type != "pong" {
		t.Fatalf("expected type pong, got %s", f.Type)
	}

	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	var decoded Frame
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if decoded.Type != "pong" {
		t.Fatalf("round trip lost type, got %s", decoded.Type)
	}
}

func TestSubscribeStreamPayloadDecode(t *testing.T) {
	raw := json.RawMessage(`{"topic":"cam-1"}`)
	var p subscribeStreamPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Topic != "cam-1" {
		t.Fatalf("expected topic cam-1, got %s", p.Topic)
	}
}

func TestComputeFlowPayloadDecode(t *testing.T) {
	raw := json.RawMessage(`{"flow_id":"7"}`)
	var p computeFlowPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.FlowID != "7" {
		t.Fatalf("expected flow_id 7, got %s", p.FlowID)
	}
}
