/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

// TestSubscribeStreamNoOpWhenAlreadyActive exercises subscribe step 1
// without needing a live peer connection or registry: a topic already in
// active_tracks must short-circuit before touching either.
func TestSubscribeStreamNoOpWhenAlreadyActive(t *testing.T) {
	s := &Session{activeTracks: map[string]*trackHandle{"cam-1": {}}, logger: zerolog.Nop()}

	payload, err := json.Marshal(subscribeStreamPayload{Topic: "cam-1"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if err := s.handleSubscribeStream(context.Background(), payload); err != nil {
		t.Fatalf("expected no-op subscribe to succeed, got %v", err)
	}

	if len(s.activeTracks) != 1 {
		t.Fatalf("expected active tracks to stay untouched, got %d entries", len(s.activeTracks))
	}
}

func TestPostDropsOnFullMailbox(t *testing.T) {
	s := &Session{mailbox: make(chan any, 1), logger: zerolog.Nop()}

	s.post(terminate{reason: "first"})
	s.post(terminate{reason: "dropped"})

	if len(s.mailbox) != 1 {
		t.Fatalf("expected exactly one buffered message, got %d", len(s.mailbox))
	}
}
