/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webrtc builds the shared MediaEngine/API and per-session peer
// connection configuration used by the Session Actor (spec §4.K). Unlike
// the single-shared-track broadcaster this module replaces, every Session
// Actor owns its own *webrtc.PeerConnection; this package only factors out
// what every one of them needs in common: the registered codec table, the
// PLI interceptor, and the ICE server list.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// OpusPayloadType and H264PayloadType are the static payload type numbers
// negotiated for every session's peer connection (spec §6: "Opus, clock
// 48kHz, ch 1" / "H.264, clock 90kHz").
const (
	OpusPayloadType = 111
	H264PayloadType = 96
)

// Config carries the STUN/TURN settings every Session Actor's peer
// connection is built with.
type Config struct {
	STUNURL      string
	TURNURL      string
	TURNUsername string
	TURNPassword string
}

// NewAPI builds the shared Pion API: a MediaEngine with Opus (48kHz, mono)
// and H.264 baseline registered, plus the default interceptor chain with
// an added PLI interval interceptor so video senders receive periodic
// keyframe requests.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    1,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: OpusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: H264PayloadType,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264 codec: %w", err)
	}

	i := &interceptor.Registry{}
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pliFactory)

	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// ICEServers builds the ICE server list for a new peer connection from cfg.
func ICEServers(cfg Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if cfg.STUNURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{cfg.STUNURL}})
	}

	if cfg.TURNURL != "" {
		turn := webrtc.ICEServer{URLs: []string{cfg.TURNURL}}
		if cfg.TURNUsername != "" {
			turn.Username = cfg.TURNUsername
			turn.Credential = cfg.TURNPassword
			turn.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, turn)
	}

	return servers
}

// NewPeerConnection builds one fresh peer connection for a Session Actor.
func NewPeerConnection(api *webrtc.API, cfg Config) (*webrtc.PeerConnection, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ICEServers(cfg)})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return pc, nil
}
