/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements the Session Actor (spec §4.K): one actor per
// WebSocket upgrade, owning a peer connection, a single outbound WS sink,
// a command mailbox fed by the socket reader and by ICE callbacks, and the
// set of tracks it has subscribed onto the peer connection.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"gorm.io/gorm"

	"github.com/cartesiancs/vessel/internal/cache"
	"github.com/cartesiancs/vessel/internal/db"
	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/flow"
	"github.com/cartesiancs/vessel/internal/registry"
	"github.com/cartesiancs/vessel/internal/topicrouter"
	ivwebrtc "github.com/cartesiancs/vessel/internal/webrtc"
)

// commandBuffer bounds the mailbox depth; a slow client backs up here, not
// in the WebSocket read loop, matching the engine's own mailbox shape.
const commandBuffer = 32

// sampleTrackDuration is the nominal RTSP sample duration used only for a
// pipeline's first packet, before there is a prior RTP timestamp to diff
// against. Every subsequent sample derives its duration from the delta
// between consecutive packets' RTP timestamps (see rtpTimestampDuration in
// subscribe.go), so playback does not drift once a pipeline is running.
const sampleTrackDuration = 33 * time.Millisecond

// trackHandle is what active_tracks holds for one subscribed topic: the
// unsubscribe func for the registry bus feeding its track (nil for the
// sample-track fallback, which instead owns a stop channel).
type trackHandle struct {
	unsubscribe func()
	stop        chan struct{}
}

// Deps are the process-wide collaborators every Session shares; none of
// them are owned by the Session, only referenced (spec §9: "Global mutable
// state... constructed in main, placed behind shared references").
type Deps struct {
	Registry     *registry.Registry
	Router       *topicrouter.Router
	FlowManager  *flow.Manager
	Bus          events.Bus
	DB           *gorm.DB
	API          *webrtc.API
	WebRTCConfig ivwebrtc.Config
	Cache        *cache.Cache
	InstanceID   string
}

// inboundFrame is a parsed WS message queued onto the mailbox.
type inboundFrame struct {
	frame Frame
}

// iceCandidateMsg is queued onto the mailbox by the local ICE callback so
// candidate sends serialize through the same single-owner loop as every
// other peer connection operation.
type iceCandidateMsg struct {
	candidate *webrtc.ICECandidate
}

// terminate is queued to unwind the actor loop from a callback (ICE
// failure, reader EOF) without calling ws/pc methods from another
// goroutine.
type terminate struct {
	reason string
}

// busForward is queued by the Manager's bus-relay goroutine to deliver a
// process-wide event (mqtt_message, change_state, log_message) through the
// session's own single-owner WS sink.
type busForward struct {
	msgType string
	payload events.Payload
}

// Session is one actor: single-owner over its peer connection and its WS
// sink, fed by a FIFO mailbox (spec §5: "Per Session mailbox: FIFO; SDP
// operations therefore serialize cleanly").
type Session struct {
	id     string
	userID string
	conn   *ws.Conn
	pc     *webrtc.PeerConnection
	deps   Deps
	logger zerolog.Logger

	mailbox chan any

	sendMu sync.Mutex

	mu           sync.Mutex
	activeTracks map[string]*trackHandle
}

// New constructs a Session for an already-accepted WebSocket connection. It
// does not start the actor loop; call Run for that.
func New(id, userID string, conn *ws.Conn, deps Deps, logger zerolog.Logger) (*Session, error) {
	pc, err := ivwebrtc.NewPeerConnection(deps.API, deps.WebRTCConfig)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &Session{
		id:           id,
		userID:       userID,
		conn:         conn,
		pc:           pc,
		deps:         deps,
		logger:       logger.With().Str("component", "session").Str("session_id", id).Logger(),
		mailbox:      make(chan any, commandBuffer),
		activeTracks: make(map[string]*trackHandle),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.post(iceCandidateMsg{candidate: c})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.post(terminate{reason: "ice failure"})
		}
	})

	return s, nil
}

// post enqueues onto the mailbox without blocking the caller; a full
// mailbox drops the message rather than stalling a pion callback goroutine.
func (s *Session) post(msg any) {
	select {
	case s.mailbox <- msg:
	default:
		s.logger.Warn().Msg("session mailbox full, dropping message")
	}
}

// Run drives the actor until ctx is canceled, the socket closes, or a
// terminal command arrives. It owns the WS read loop (in its own goroutine,
// feeding the mailbox) and every peer-connection/WS-write operation (in
// this goroutine, off the mailbox).
func (s *Session) Run(ctx context.Context) {
	s.deps.Bus.Publish(events.EventSessionConnected, events.Payload{"session_id": s.id, "user_id": s.userID})
	defer s.deps.Bus.Publish(events.EventSessionDisconnected, events.Payload{"session_id": s.id, "user_id": s.userID})
	defer s.teardown()

	if s.deps.Cache != nil {
		presence := &cache.CachedSessionPresence{
			SessionID:   s.id,
			UserID:      s.userID,
			InstanceID:  s.deps.InstanceID,
			ConnectedAt: time.Now().Unix(),
		}
		if err := s.deps.Cache.SetSessionPresence(ctx, presence); err != nil {
			s.logger.Debug().Err(err).Msg("failed to cache session presence")
		}
		defer func() {
			if err := s.deps.Cache.InvalidateSessionPresence(context.Background(), s.id); err != nil {
				s.logger.Debug().Err(err).Msg("failed to invalidate session presence cache")
			}
		}()
	}

	readerDone := make(chan struct{})
	go s.readLoop(ctx, readerDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case msg := <-s.mailbox:
			if !s.handle(ctx, msg) {
				return
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn().Err(err).Msg("invalid signal frame")
			continue
		}
		s.post(inboundFrame{frame: f})
	}
}

// handle dispatches one mailbox item; returns false to stop the actor loop.
func (s *Session) handle(ctx context.Context, msg any) bool {
	switch m := msg.(type) {
	case terminate:
		s.logger.Info().Str("reason", m.reason).Msg("session terminating")
		return false
	case iceCandidateMsg:
		s.sendCandidate(ctx, m.candidate)
		return true
	case inboundFrame:
		s.handleFrame(ctx, m.frame)
		return true
	case busForward:
		if err := s.writeFrame(ctx, m.msgType, m.payload); err != nil {
			s.logger.Debug().Err(err).Str("type", m.msgType).Msg("failed to forward bus event")
		}
		return true
	default:
		return true
	}
}

func (s *Session) handleFrame(ctx context.Context, f Frame) {
	var err error
	switch f.Type {
	case "offer":
		err = s.handleOffer(ctx, f.Payload)
	case "answer":
		err = s.handleAnswer(f.Payload)
	case "candidate":
		err = s.handleCandidate(f.Payload)
	case "subscribe_stream":
		err = s.handleSubscribeStream(ctx, f.Payload)
	case "compute_flow":
		err = s.handleComputeFlow(ctx, f.Payload)
	case "stop_flow":
		err = s.handleStopFlow(f.Payload)
	case "get_all_flows":
		err = s.handleGetAllFlows(ctx)
	case "get_all_stream_state":
		err = s.handleGetAllStreamState(ctx)
	case "get_server":
		err = s.handleGetServer(ctx)
	case "health_check":
		err = s.writeFrame(ctx, "health_check_response", f.Payload)
	case "ping":
		err = s.writeFrame(ctx, "pong", struct{}{})
	default:
		s.logger.Debug().Str("type", f.Type).Msg("unrecognized signal frame type")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("type", f.Type).Msg("failed to handle signal frame")
	}
}

func (s *Session) handleOffer(ctx context.Context, payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.writeFrame(ctx, "answer", s.pc.LocalDescription())
}

func (s *Session) handleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return s.pc.SetRemoteDescription(answer)
}

func (s *Session) handleCandidate(payload json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return s.pc.AddICECandidate(init)
}

func (s *Session) handleGetAllFlows(ctx context.Context) error {
	flows, err := db.GetAllFlows(s.deps.DB)
	if err != nil {
		return fmt.Errorf("get all flows: %w", err)
	}
	ids := make([]string, 0, len(flows))
	for _, f := range flows {
		ids = append(ids, fmt.Sprint(f.ID))
	}
	statuses := s.deps.FlowManager.List(ids)
	running := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		running[st.FlowID] = st.IsRunning
	}

	out := make([]flowStatusPayload, 0, len(flows))
	for _, f := range flows {
		id := fmt.Sprint(f.ID)
		out = append(out, flowStatusPayload{FlowID: id, Name: f.Name, IsRunning: running[id]})
	}
	return s.writeFrame(ctx, "get_all_flows_response", out)
}

func (s *Session) handleGetAllStreamState(ctx context.Context) error {
	states := s.deps.Registry.AllTopicStates()
	out := make([]streamStatePayload, 0, len(states))
	for _, st := range states {
		out = append(out, streamStatePayload{Topic: st.Topic, IsOnline: st.IsOnline})
	}
	return s.writeFrame(ctx, "stream_state", out)
}

func (s *Session) handleGetServer(ctx context.Context) error {
	var stats serverStatsPayload

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUUsage = percents[0]
	} else if err != nil {
		s.logger.Debug().Err(err).Msg("cpu sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsage = vm.UsedPercent
	} else {
		s.logger.Debug().Err(err).Msg("memory sample failed")
	}

	return s.writeFrame(ctx, "get_server", stats)
}

// writeFrame marshals payload into a Frame and writes it, serialized under
// sendMu since pion callbacks and the actor loop both write concurrently.
func (s *Session) writeFrame(ctx context.Context, msgType string, payload any) error {
	f, err := newFrame(msgType, payload)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return wsjson.Write(ctx, s.conn, f)
}

func (s *Session) sendCandidate(ctx context.Context, c *webrtc.ICECandidate) {
	init := c.ToJSON()
	if err := s.writeFrame(ctx, "candidate", init); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send ice candidate")
	}
}

// teardown drops every track subscription and closes the peer connection;
// called exactly once as Run returns.
func (s *Session) teardown() {
	s.mu.Lock()
	tracks := s.activeTracks
	s.activeTracks = nil
	s.mu.Unlock()

	for _, h := range tracks {
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
		if h.stop != nil {
			close(h.stop)
		}
	}

	if err := s.pc.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("peer connection close failed")
	}
}
