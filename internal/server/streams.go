/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"

	"github.com/cartesiancs/vessel/internal/registry"
)

// registerStreamRequest is the wire shape for POST /streams/register (spec
// §3: "created on POST /streams/register or when the RTSP supervisor
// parses the first packet of a pipeline").
type registerStreamRequest struct {
	SSRC      uint32 `json:"ssrc"`
	Topic     string `json:"topic"`
	Owner     string `json:"owner"`
	MediaKind string `json:"media_kind"`
}

type registerStreamResponse struct {
	SSRC     uint32 `json:"ssrc"`
	Topic    string `json:"topic"`
	Online   bool   `json:"online"`
	Accepted bool   `json:"accepted"`
}

// handleRegisterStream implements the StreamInfo creation collaborator
// endpoint named in spec §3's lifecycle. It is a thin REST front for
// registry.Register: this endpoint itself is the one piece of the "HTTP
// REST surface for CRUD" that §1 does NOT push out of scope, since it is
// the explicit creation trigger for the core Stream Registry's data.
func (s *Server) handleRegisterStream(w http.ResponseWriter, r *http.Request) {
	var req registerStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}

	var mediaType registry.MediaType
	switch req.MediaKind {
	case "audio":
		mediaType = registry.MediaAudio
	case "video":
		mediaType = registry.MediaVideo
	default:
		http.Error(w, "media_kind must be audio or video", http.StatusBadRequest)
		return
	}

	info := s.registry.Register(req.SSRC, req.Topic, req.Owner, mediaType)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(registerStreamResponse{
		SSRC:     info.SSRC,
		Topic:    info.Topic,
		Online:   info.Online(),
		Accepted: true,
	})
}
