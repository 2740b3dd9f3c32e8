package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cartesiancs/vessel/internal/registry"
)

func newTestServerForStreams() *Server {
	return &Server{registry: registry.New()}
}

func TestHandleRegisterStream_Video(t *testing.T) {
	s := newTestServerForStreams()

	body, _ := json.Marshal(registerStreamRequest{
		SSRC:      0xDEADBEEF,
		Topic:     "cam-1",
		Owner:     "device-1",
		MediaKind: "video",
	})
	req := httptest.NewRequest(http.MethodPost, "/streams/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	s.handleRegisterStream(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}

	var resp registerStreamResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SSRC != 0xDEADBEEF || resp.Topic != "cam-1" || !resp.Accepted {
		t.Fatalf("unexpected response: %+v", resp)
	}

	info, ok := s.registry.Get(0xDEADBEEF)
	if !ok {
		t.Fatal("expected stream to be registered in the registry")
	}
	if info.MediaType != registry.MediaVideo {
		t.Fatalf("media type = %q, want video", info.MediaType)
	}
	if !info.Online() {
		t.Fatal("expected a freshly registered stream to be online")
	}
}

func TestHandleRegisterStream_RejectsMissingTopic(t *testing.T) {
	s := newTestServerForStreams()

	body, _ := json.Marshal(registerStreamRequest{SSRC: 1, MediaKind: "audio"})
	req := httptest.NewRequest(http.MethodPost, "/streams/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	s.handleRegisterStream(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleRegisterStream_RejectsBadMediaKind(t *testing.T) {
	s := newTestServerForStreams()

	body, _ := json.Marshal(registerStreamRequest{SSRC: 1, Topic: "x", MediaKind: "holographic"})
	req := httptest.NewRequest(http.MethodPost, "/streams/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	s.handleRegisterStream(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
