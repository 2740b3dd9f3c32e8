/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

func TestDecodeOpusNode_ErrorsOnMissingPayload(t *testing.T) {
	n, err := newDecodeOpusNode(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("newDecodeOpusNode: %v", err)
	}
	ec := NewExecutionContext("flow-decode-opus", events.NewBus(), nil, nil, zerolog.Nop())

	if _, err := n.Execute(context.Background(), ec, Inputs{}); err == nil {
		t.Fatal("expected an error when payload input is missing")
	}
}

func TestDecodeOpusNode_ErrorsOnInvalidBase64(t *testing.T) {
	n, err := newDecodeOpusNode(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("newDecodeOpusNode: %v", err)
	}
	ec := NewExecutionContext("flow-decode-opus-b64", events.NewBus(), nil, nil, zerolog.Nop())

	_, err = n.Execute(context.Background(), ec, Inputs{"payload": "not-valid-base64!!"})
	if err == nil {
		t.Fatal("expected an error for a malformed base64 payload")
	}
}

func TestDecodeOpusNode_ErrorsOnInvalidOpusFrame(t *testing.T) {
	n, err := newDecodeOpusNode(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("newDecodeOpusNode: %v", err)
	}
	ec := NewExecutionContext("flow-decode-opus-frame", events.NewBus(), nil, nil, zerolog.Nop())

	garbage := base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0x11, 0x22})
	if _, err := n.Execute(context.Background(), ec, Inputs{"payload": garbage}); err == nil {
		t.Fatal("expected the opus decoder to reject a frame that isn't valid opus data")
	}
}

func TestDbfsOf_EmptyIsFloorLevel(t *testing.T) {
	if got := dbfsOf(nil); got != -120.0 {
		t.Fatalf("expected -120dBFS for an empty frame, got %v", got)
	}
}

func TestDbfsOf_FullScaleIsZero(t *testing.T) {
	samples := make([]int16, 64)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 32767
		} else {
			samples[i] = -32768
		}
	}
	got := dbfsOf(samples)
	if got < -1 || got > 1 {
		t.Fatalf("expected a full-scale square wave to read ~0dBFS, got %v", got)
	}
}
