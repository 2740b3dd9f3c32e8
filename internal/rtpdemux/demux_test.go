/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rtpdemux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/registry"
)

func TestDemuxer_DispatchesToRegisteredStream(t *testing.T) {
	reg := registry.New()
	info := reg.Register(0xDEADBEEF, "cam-1", "device-1", registry.MediaVideo)

	sub := make(registry.Subscriber, 4)
	unsubscribe := info.Subscribe(sub)
	defer unsubscribe()

	d := New("127.0.0.1:0", reg, zerolog.Nop())
	ready := make(chan net.Addr, 1)
	d.OnListening = func(addr net.Addr) { ready <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("demuxer never started listening")
	}

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 0xDEADBEEF, SequenceNumber: 1}, Payload: []byte{1, 2, 3}}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-sub:
		if got.SSRC != 0xDEADBEEF {
			t.Fatalf("unexpected ssrc %x", got.SSRC)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched packet")
	}

	if !info.Online() {
		t.Fatal("expected stream to be online after a packet")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("demuxer did not shut down after context cancellation")
	}
}

func TestDemuxer_UnknownSSRCDoesNotTerminateLoop(t *testing.T) {
	reg := registry.New()
	d := New("127.0.0.1:0", reg, zerolog.Nop())
	ready := make(chan net.Addr, 1)
	d.OnListening = func(addr net.Addr) { ready <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	addr := <-ready
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Malformed packet, then a well-formed packet for an unregistered SSRC.
	conn.Write([]byte{0xFF})
	pkt := &rtp.Packet{Header: rtp.Header{SSRC: 123}}
	raw, _ := pkt.Marshal()
	conn.Write(raw)

	// Now register the stream and confirm the loop is still alive and dispatching.
	info := reg.Register(123, "late", "d", registry.MediaAudio)
	sub := make(registry.Subscriber, 2)
	defer info.Subscribe(sub)()
	conn.Write(raw)

	select {
	case <-sub:
	case <-time.After(2 * time.Second):
		t.Fatal("demuxer loop did not survive malformed/unknown packets")
	}

	cancel()
	<-errCh
}
