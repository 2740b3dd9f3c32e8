/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webrtc

import "testing"

func TestNewAPI(t *testing.T) {
	api, err := NewAPI()
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	if api == nil {
		t.Fatal("expected non-nil API")
	}
}

func TestICEServers(t *testing.T) {
	servers := ICEServers(Config{STUNURL: "stun:stun.example.com:19302"})
	if len(servers) != 1 {
		t.Fatalf("expected 1 ICE server with only STUN set, got %d", len(servers))
	}

	servers = ICEServers(Config{
		STUNURL:      "stun:stun.example.com:19302",
		TURNURL:      "turn:turn.example.com:3478",
		TURNUsername: "user",
		TURNPassword: "pass",
	})
	if len(servers) != 2 {
		t.Fatalf("expected 2 ICE servers with both configured, got %d", len(servers))
	}
	if servers[1].Username != "user" {
		t.Fatalf("expected TURN username set, got %#v", servers[1])
	}
}

func TestNewPeerConnection(t *testing.T) {
	api, err := NewAPI()
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := NewPeerConnection(api, Config{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()
}
