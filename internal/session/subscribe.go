/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/cartesiancs/vessel/internal/registry"
)

// rtspPollInterval is how often subscribe step 4 re-checks whether the
// registry has picked up a StreamInfo for an RTSP-mapped topic yet, so the
// sample-track fallback can hand off to a live RTP-fed track once the
// pipeline produces its first packet.
const rtspPollInterval = 500 * time.Millisecond

// h264ClockRate is the RTP clock rate used for the H.264 payload type
// (spec §6: "video clock 90 kHz"), used to turn a timestamp delta between
// two packets into a wall-clock sample duration.
const h264ClockRate = 90000

// handleSubscribeStream implements the subscribe algorithm (spec §4.K).
func (s *Session) handleSubscribeStream(ctx context.Context, payload json.RawMessage) error {
	var req subscribeStreamPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode subscribe_stream: %w", err)
	}
	topic := req.Topic

	s.mu.Lock()
	_, exists := s.activeTracks[topic]
	s.mu.Unlock()
	if exists {
		return nil
	}

	added := false

	if info, ok := s.deps.Registry.ByTopic(topic, registry.MediaAudio); ok {
		if err := s.addRTPTrack(topic, info, webrtc.MimeTypeOpus); err != nil {
			return fmt.Errorf("subscribe audio track for %s: %w", topic, err)
		}
		added = true
	} else if info, ok := s.deps.Registry.ByTopic(topic, registry.MediaVideo); ok {
		if err := s.addRTPTrack(topic, info, webrtc.MimeTypeH264); err != nil {
			return fmt.Errorf("subscribe video track for %s: %w", topic, err)
		}
		added = true
	} else if mapping, ok := s.deps.Router.ByRTSPURL(topic); ok {
		if err := s.addRTSPSampleTrack(topic, mapping.Topic); err != nil {
			return fmt.Errorf("subscribe rtsp sample track for %s: %w", topic, err)
		}
		added = true
	}

	if !added {
		s.logger.Debug().Str("topic", topic).Msg("subscribe_stream: no matching stream or mapping")
		return nil
	}

	return s.renegotiate(ctx)
}

// addRTPTrack covers subscribe steps 2 and 3: a live StreamInfo bus
// forwarded to a fresh RTP track added to the peer connection.
func (s *Session) addRTPTrack(topic string, info *registry.StreamInfo, mime string) error {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, "stream", topic)
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	if _, err := s.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	sub := make(registry.Subscriber, 64)
	unsubscribe := info.Subscribe(sub)

	go s.forwardRTP(topic, track, sub)

	s.mu.Lock()
	s.activeTracks[topic] = &trackHandle{unsubscribe: unsubscribe}
	s.mu.Unlock()
	return nil
}

// forwardRTP drains a StreamInfo's packet bus into a local track. Writing
// the raw marshaled bytes through TrackLocalStaticRTP rewrites the
// payload-type and ssrc to the negotiated sender values on pion's side,
// satisfying the "rewrite each packet" requirement without manual header
// surgery. A write failure aborts only this forwarding task (spec §4.K
// failure semantics); other tracks are unaffected.
func (s *Session) forwardRTP(topic string, track *webrtc.TrackLocalStaticRTP, sub registry.Subscriber) {
	for pkt := range sub {
		buf, err := pkt.Marshal()
		if err != nil {
			continue
		}
		if _, err := track.Write(buf); err != nil {
			s.logger.Debug().Str("topic", topic).Err(err).Msg("rtp forward write failed, stopping track")
			return
		}
	}
}

// addRTSPSampleTrack covers subscribe step 4: a sample-based H.264 track
// for a topic whose StreamInfo doesn't exist yet but has an RTSP mapping.
// It polls the registry until the RTSP pipeline produces its first packet,
// then feeds samples from that StreamInfo's bus, deriving each sample's
// duration from the delta between consecutive RTP timestamps and falling
// back to the nominal 33ms duration only for a pipeline's first packet.
func (s *Session) addRTSPSampleTrack(topic, rtspURL string) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"rtsp", topic,
	)
	if err != nil {
		return fmt.Errorf("new sample track: %w", err)
	}
	if _, err := s.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	stop := make(chan struct{})
	go s.feedRTSPSampleTrack(topic, rtspURL, track, stop)

	s.mu.Lock()
	s.activeTracks[topic] = &trackHandle{stop: stop}
	s.mu.Unlock()
	return nil
}

func (s *Session) feedRTSPSampleTrack(topic, rtspURL string, track *webrtc.TrackLocalStaticSample, stop chan struct{}) {
	ticker := time.NewTicker(rtspPollInterval)
	defer ticker.Stop()

	var sub registry.Subscriber
	var unsubscribe func()
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
	}()

	for sub == nil {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if info, ok := s.deps.Registry.ByTopic(rtspURL, registry.MediaVideo); ok {
				sub = make(registry.Subscriber, 64)
				unsubscribe = info.Subscribe(sub)
			}
		}
	}

	var havePrev bool
	var prevTimestamp uint32

	for {
		select {
		case <-stop:
			return
		case pkt, ok := <-sub:
			if !ok {
				return
			}

			duration := sampleTrackDuration
			if havePrev {
				if d := rtpTimestampDuration(prevTimestamp, pkt.Header.Timestamp, h264ClockRate); d > 0 {
					duration = d
				}
			}
			prevTimestamp = pkt.Header.Timestamp
			havePrev = true

			if err := track.WriteSample(media.Sample{Data: pkt.Payload, Duration: duration}); err != nil {
				s.logger.Debug().Str("topic", topic).Err(err).Msg("rtsp sample write failed, stopping track")
				return
			}
		}
	}
}

// rtpTimestampDuration converts the delta between two RTP timestamps into a
// wall-clock duration at the given clock rate, correctly handling the
// uint32 wraparound that RFC 3550 timestamps are subject to over a long-
// running pipeline. A zero or negative delta (a duplicate or out-of-order
// packet) yields a zero duration so the caller falls back to the nominal
// sample duration instead of stalling playback.
func rtpTimestampDuration(prev, curr uint32, clockRate uint32) time.Duration {
	delta := curr - prev
	if delta == 0 || delta > clockRate*10 {
		return 0
	}
	return time.Duration(delta) * time.Second / time.Duration(clockRate)
}

// renegotiate implements subscribe step 5: create a fresh offer over the
// existing peer connection and send it, completing once the client's
// matching answer arrives through handleAnswer.
func (s *Session) renegotiate(ctx context.Context) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.writeFrame(ctx, "offer", s.pc.LocalDescription())
}
