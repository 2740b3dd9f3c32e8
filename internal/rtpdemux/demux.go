/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rtpdemux implements the Stream Fan-Out Plane's UDP ingress
// (spec §4.B): one long-running task that binds a UDP socket, parses
// every datagram as an RTP packet, and dispatches it to the Stream
// Registry by SSRC. Parse failures and unknown SSRCs are logged and
// never terminate the loop.
package rtpdemux

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/registry"
	"github.com/cartesiancs/vessel/internal/telemetry"
)

// maxPacketSize bounds a single UDP read; RTP over UDP never exceeds the
// path MTU in practice, 1500 covers Ethernet-framed payloads with room.
const maxPacketSize = 1500

// readDeadline lets the receive loop notice context cancellation promptly
// without a dedicated goroutine per §5's "exits after the next datagram".
const readDeadline = 1 * time.Second

// Demuxer binds a UDP socket and fans incoming RTP packets out to the
// Stream Registry by SSRC.
type Demuxer struct {
	addr     string
	registry *registry.Registry
	logger   zerolog.Logger

	// OnListening, if set, is called once the UDP socket is bound, with
	// the concrete local address (useful in tests that bind ":0").
	OnListening func(addr net.Addr)
}

// New constructs a Demuxer bound to the given listen address and registry.
func New(addr string, reg *registry.Registry, logger zerolog.Logger) *Demuxer {
	return &Demuxer{
		addr:     addr,
		registry: reg,
		logger:   logger.With().Str("component", "rtpdemux").Logger(),
	}
}

// Run binds the UDP socket and processes datagrams until ctx is canceled.
// It is intended to run as a single long-lived goroutine for the process
// lifetime (spec §4.B: "this loop is a single long-running task").
func (d *Demuxer) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", d.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	d.logger.Info().Str("addr", d.addr).Msg("RTP demuxer listening")
	if d.OnListening != nil {
		d.OnListening(conn.LocalAddr())
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxPacketSize)
	pkt := &rtp.Packet{}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			d.logger.Warn().Err(err).Msg("UDP read error")
			continue
		}

		parsed := &rtp.Packet{}
		if err := parsed.Unmarshal(buf[:n]); err != nil {
			d.logger.Warn().Err(err).Msg("RTP parse failure")
			continue
		}
		pkt = parsed

		known, cameOnline, delivered, dropped := d.registry.Dispatch(pkt)
		if !known {
			d.logger.Warn().Uint32("ssrc", pkt.SSRC).Msg("RTP packet for unknown SSRC")
			telemetry.RTPPacketsDroppedTotal.WithLabelValues("unknown_ssrc").Inc()
			continue
		}

		if info, ok := d.registry.Get(pkt.SSRC); ok {
			if cameOnline {
				d.logger.Info().Uint32("ssrc", pkt.SSRC).Str("topic", info.Topic).Msg("stream came online")
			}
			telemetry.RTPPacketsDemuxedTotal.WithLabelValues(string(info.MediaType)).Inc()
		}
		if dropped > 0 && delivered == 0 {
			telemetry.RTPPacketsDroppedTotal.WithLabelValues("no_subscribers").Inc()
		}
	}
}
