/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package registry

import (
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestRegisterAndDispatch(t *testing.T) {
	r := New()
	info := r.Register(42, "sensors/temp-1/stream", "user-1", MediaAudio)
	if !info.Online() {
		t.Fatal("expected newly registered stream to be online")
	}

	sub := make(Subscriber, 1)
	unsubscribe := info.Subscribe(sub)
	defer unsubscribe()

	known, _, delivered, dropped := r.Dispatch(&rtp.Packet{Header: rtp.Header{SSRC: 42}})
	if !known {
		t.Fatal("expected SSRC 42 to be known")
	}
	if delivered != 1 || dropped != 0 {
		t.Fatalf("expected 1 delivered, 0 dropped, got %d/%d", delivered, dropped)
	}

	select {
	case <-sub:
	default:
		t.Fatal("expected packet to be delivered to subscriber")
	}
}

func TestDispatchUnknownSSRC(t *testing.T) {
	r := New()
	known, _, delivered, dropped := r.Dispatch(&rtp.Packet{Header: rtp.Header{SSRC: 999}})
	if known {
		t.Fatal("expected unknown SSRC to report known=false")
	}
	if delivered != 0 || dropped != 0 {
		t.Fatal("expected no delivery accounting for an unknown SSRC")
	}
}

func TestRegisterTouchesExisting(t *testing.T) {
	r := New()
	first := r.Register(7, "a", "u", MediaVideo)
	second := r.Register(7, "a", "u", MediaVideo)
	if first != second {
		t.Fatal("expected re-registering the same SSRC to return the existing entry")
	}
}

func TestMarkOfflineAndRemove(t *testing.T) {
	r := New()
	r.Register(1, "t", "u", MediaAudio)
	r.MarkOffline(1)

	info, ok := r.Get(1)
	if !ok {
		t.Fatal("expected stream to still be present after marking offline")
	}
	if info.Online() {
		t.Fatal("expected stream to be offline")
	}

	r.Remove(1)
	if _, ok := r.Get(1); ok {
		t.Fatal("expected stream to be gone after Remove")
	}
}

func TestDispatchDropsWithoutBlockingOnFullSubscriber(t *testing.T) {
	r := New()
	r.Register(5, "t", "u", MediaAudio)
	info, _ := r.Get(5)

	sub := make(Subscriber) // unbuffered, no reader
	unsubscribe := info.Subscribe(sub)
	defer unsubscribe()

	_, _, delivered, dropped := r.Dispatch(&rtp.Packet{Header: rtp.Header{SSRC: 5}})
	if delivered != 0 || dropped != 1 {
		t.Fatalf("expected the send to drop rather than block, got delivered=%d dropped=%d", delivered, dropped)
	}
}

// TestDispatchReportsOfflineToOnlineTransition exercises the logging hook
// the RTP demuxer relies on (spec §4.B: "set online=true, logging the
// transition").
func TestDispatchReportsOfflineToOnlineTransition(t *testing.T) {
	r := New()
	r.Register(9, "t", "u", MediaAudio)
	r.MarkOffline(9)

	_, cameOnline, _, _ := r.Dispatch(&rtp.Packet{Header: rtp.Header{SSRC: 9}})
	if !cameOnline {
		t.Fatal("expected the first packet after MarkOffline to report cameOnline=true")
	}

	_, cameOnline, _, _ = r.Dispatch(&rtp.Packet{Header: rtp.Header{SSRC: 9}})
	if cameOnline {
		t.Fatal("expected a subsequent packet while already online to report cameOnline=false")
	}
}

// TestLastSeenMonotonic exercises testable property 2: last_seen never
// decreases for the lifetime of a StreamInfo.
func TestLastSeenMonotonic(t *testing.T) {
	r := New()
	info := r.Register(11, "t", "u", MediaAudio)
	prev := info.LastSeen()
	for i := 0; i < 5; i++ {
		time.Sleep(time.Millisecond)
		r.Dispatch(&rtp.Packet{Header: rtp.Header{SSRC: 11}})
		next := info.LastSeen()
		if next.Before(prev) {
			t.Fatalf("last_seen decreased: prev=%v next=%v", prev, next)
		}
		prev = next
	}
}
