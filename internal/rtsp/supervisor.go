/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rtsp supervises one pipeline task per RTSP-mapped topic (spec
// §4.C): each task dials an RTSP source with gortsplib, registers a Stream
// Registry entry on the first demuxed packet, and rebuilds the pipeline on
// error with a fixed backoff.
package rtsp

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/registry"
	"github.com/cartesiancs/vessel/internal/telemetry"
	"github.com/cartesiancs/vessel/internal/topicrouter"
)

// rebuildBackoff is the pause between a failed pipeline attempt and the
// next rebuild, per spec §4.C ("on error, sleep 5s and rebuild"). A var,
// not a const, so tests can shrink it.
var rebuildBackoff = 5 * time.Second

// Supervisor owns one long-running task per RTSP-mapped topic discovered
// at startup.
type Supervisor struct {
	router   *topicrouter.Router
	registry *registry.Registry
	logger   zerolog.Logger

	// runOnce builds and runs a single pipeline attempt. Tests substitute a
	// fake to exercise the backoff/shutdown loop without a real RTSP
	// server.
	runOnce func(ctx context.Context, url, entityID string, log zerolog.Logger) error
}

// New constructs a Supervisor. router supplies the set of RTSP mappings to
// spawn pipelines for; registry receives a StreamInfo per pipeline's first
// packet, identical to the UDP demuxer's behavior thereafter.
func New(router *topicrouter.Router, reg *registry.Registry, logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		router:   router,
		registry: reg,
		logger:   logger.With().Str("component", "rtsp_supervisor").Logger(),
	}
	s.runOnce = s.runPipelineOnce
	return s
}

// Run spawns one pipeline task per current RTSP mapping and blocks until
// ctx is canceled, at which point every task shuts its pipeline down
// cooperatively.
func (s *Supervisor) Run(ctx context.Context) error {
	mappings := s.router.RTSPMappings()
	if len(mappings) == 0 {
		s.logger.Info().Msg("no RTSP mappings at startup, supervisor idle")
	}

	done := make(chan struct{}, len(mappings))
	for _, m := range mappings {
		go func(url, entityID string) {
			s.runPipelineTask(ctx, url, entityID)
			done <- struct{}{}
		}(m.Topic, m.EntityID)
	}

	<-ctx.Done()
	for range mappings {
		<-done
	}
	return ctx.Err()
}

// runPipelineTask loops build -> run-until-error-or-shutdown -> backoff,
// per task, until ctx is canceled.
func (s *Supervisor) runPipelineTask(ctx context.Context, url, entityID string) {
	log := s.logger.With().Str("url", url).Str("entity_id", entityID).Logger()

	for ctx.Err() == nil {
		if err := s.runOnce(ctx, url, entityID, log); err != nil {
			log.Warn().Err(err).Msg("RTSP pipeline error, rebuilding after backoff")
			select {
			case <-ctx.Done():
				return
			case <-time.After(rebuildBackoff):
			}
			continue
		}
		// runPipelineOnce only returns nil on cooperative shutdown.
		return
	}
}

// runPipelineOnce builds one RTSP client, plays until EOS, error, or ctx
// cancellation, and tears the client down on return. Returning nil means
// shutdown was cooperative; any other return is an error to back off and
// retry on.
func (s *Supervisor) runPipelineOnce(ctx context.Context, url, entityID string, log zerolog.Logger) error {
	parsedURL, err := base.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse RTSP URL: %w", err)
	}

	client := &gortsplib.Client{}
	if err := client.Start(parsedURL.Scheme, parsedURL.Host); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(parsedURL)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}

	var media *description.Media
	var chosenFormat format.Format
	var mediaType registry.MediaType
	for _, m := range desc.Medias {
		for _, f := range m.Formats {
			switch f.(type) {
			case *format.H264:
				media, chosenFormat, mediaType = m, f, registry.MediaVideo
			case *format.Opus:
				if media == nil {
					media, chosenFormat, mediaType = m, f, registry.MediaAudio
				}
			}
			if media != nil && mediaType == registry.MediaVideo {
				break
			}
		}
		if media != nil && mediaType == registry.MediaVideo {
			break
		}
	}
	if media == nil {
		return fmt.Errorf("no H.264 or Opus track found")
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	var info *registry.StreamInfo
	var ssrc uint32
	firstPacket := true

	client.OnPacketRTP(media, chosenFormat, func(pkt *rtp.Packet) {
		if firstPacket {
			firstPacket = false
			ssrc = rand.Uint32()
			info = s.registry.Register(ssrc, url, entityID, mediaType)
			log.Info().Uint32("ssrc", ssrc).Str("media_type", string(mediaType)).Msg("RTSP pipeline produced first packet, stream registered")
		}
		if info == nil {
			return
		}
		// Normalize every packet's SSRC to the one generated for this
		// pipeline's StreamInfo so lookups and liveness tracking are
		// consistent even if the source camera reuses SSRCs across runs.
		pkt.SSRC = ssrc
		_, cameOnline, delivered, dropped := s.registry.Dispatch(pkt)
		if cameOnline {
			log.Info().Uint32("ssrc", ssrc).Msg("stream came online")
		}
		telemetry.RTPPacketsDemuxedTotal.WithLabelValues(string(mediaType)).Inc()
		if dropped > 0 && delivered == 0 {
			telemetry.RTPPacketsDroppedTotal.WithLabelValues("no_subscribers").Inc()
		}
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Wait() }()

	select {
	case <-ctx.Done():
		if info != nil {
			s.registry.Remove(ssrc)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("stream ended: %w", err)
	}
}
