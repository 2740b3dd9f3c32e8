/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry tracks every live media stream the hub knows about,
// keyed by its RTP SSRC. The RTP demuxer looks streams up on every packet;
// the liveness checker scans the whole set on a timer to age out anything
// that has gone quiet.
package registry

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// MediaType distinguishes audio from video streams for subscriber routing.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Subscriber receives every RTP packet demuxed for a stream.
type Subscriber chan *rtp.Packet

// StreamInfo is a single live stream's routing and liveness state.
type StreamInfo struct {
	SSRC      uint32
	Topic     string
	UserID    string
	MediaType MediaType

	mu          sync.RWMutex
	online      bool
	lastSeen    time.Time
	subscribers map[Subscriber]struct{}
}

// newStreamInfo constructs a StreamInfo marked online as of now.
func newStreamInfo(ssrc uint32, topic, userID string, mediaType MediaType) *StreamInfo {
	return &StreamInfo{
		SSRC:        ssrc,
		Topic:       topic,
		UserID:      userID,
		MediaType:   mediaType,
		online:      true,
		lastSeen:    time.Now(),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Online reports whether the stream is currently considered live.
func (s *StreamInfo) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// LastSeen returns the last time a packet arrived for this stream.
func (s *StreamInfo) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// touch marks the stream online and records the current time as its last
// packet arrival, called by the demuxer on every received packet. It
// reports whether the stream transitioned from offline to online so the
// caller can log the transition (spec §4.B).
func (s *StreamInfo) touch() (wasOffline bool) {
	s.mu.Lock()
	wasOffline = !s.online
	s.online = true
	s.lastSeen = time.Now()
	s.mu.Unlock()
	return wasOffline
}

// markOffline flips the stream to offline without removing it from the
// registry, called by the liveness checker's first pass over stale entries.
func (s *StreamInfo) markOffline() {
	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
}

// Subscribe registers ch to receive every packet demuxed for this stream.
// The returned func unsubscribes ch.
func (s *StreamInfo) Subscribe(ch Subscriber) func() {
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

// broadcast fans a packet out to every current subscriber, dropping it for
// any subscriber whose channel is full rather than blocking the demuxer.
func (s *StreamInfo) broadcast(pkt *rtp.Packet) (delivered int, dropped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- pkt:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// SubscriberCount reports how many subscribers are currently attached.
func (s *StreamInfo) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Registry is the SSRC-keyed table of every live stream known to the hub.
type Registry struct {
	mu      sync.RWMutex
	streams map[uint32]*StreamInfo
}

// New creates an empty stream registry.
func New() *Registry {
	return &Registry{streams: make(map[uint32]*StreamInfo)}
}

// Register adds a new stream to the registry, or touches and returns the
// existing entry if ssrc is already known.
func (r *Registry) Register(ssrc uint32, topic, userID string, mediaType MediaType) *StreamInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.streams[ssrc]; ok {
		existing.touch()
		return existing
	}
	info := newStreamInfo(ssrc, topic, userID, mediaType)
	r.streams[ssrc] = info
	return info
}

// Get looks up a stream by SSRC.
func (r *Registry) Get(ssrc uint32) (*StreamInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.streams[ssrc]
	return info, ok
}

// Dispatch routes a demuxed packet to its stream's subscribers, touching
// the stream's liveness timestamp. It reports whether the SSRC was known
// and whether the stream transitioned from offline to online.
func (r *Registry) Dispatch(pkt *rtp.Packet) (known bool, cameOnline bool, delivered int, dropped int) {
	info, ok := r.Get(pkt.SSRC)
	if !ok {
		return false, false, 0, 0
	}
	cameOnline = info.touch()
	delivered, dropped = info.broadcast(pkt)
	return true, cameOnline, delivered, dropped
}

// Snapshot returns every stream currently in the registry.
func (r *Registry) Snapshot() []*StreamInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StreamInfo, 0, len(r.streams))
	for _, info := range r.streams {
		out = append(out, info)
	}
	return out
}

// TopicState summarizes one stream's topic and liveness for the
// get_all_stream_state WS response (§4.K).
type TopicState struct {
	Topic    string `json:"topic"`
	IsOnline bool   `json:"is_online"`
}

// AllTopicStates returns the topic/liveness pair for every tracked stream.
func (r *Registry) AllTopicStates() []TopicState {
	snap := r.Snapshot()
	out := make([]TopicState, 0, len(snap))
	for _, info := range snap {
		out = append(out, TopicState{Topic: info.Topic, IsOnline: info.Online()})
	}
	return out
}

// Remove deletes a stream entirely, called by the liveness checker in the
// same pass that marks an idle stream offline.
func (r *Registry) Remove(ssrc uint32) {
	r.mu.Lock()
	delete(r.streams, ssrc)
	r.mu.Unlock()
}

// MarkOffline flips a stream to offline without removing it.
func (r *Registry) MarkOffline(ssrc uint32) {
	if info, ok := r.Get(ssrc); ok {
		info.markOffline()
	}
}

// Count returns the number of streams currently tracked, online or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// ByTopic looks up a live stream by its logical topic and media kind. Used
// by the Session Actor's subscribe algorithm (§4.K) and by the
// RTP_STREAM_IN trigger node (§4.I), both of which address streams by
// topic rather than by SSRC.
func (r *Registry) ByTopic(topic string, mediaType MediaType) (*StreamInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.streams {
		if info.Topic == topic && info.MediaType == mediaType {
			return info, true
		}
	}
	return nil, false
}
