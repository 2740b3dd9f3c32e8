/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package liveness implements the Stream Fan-Out Plane's idle-stream
// reaper (spec §4.D): on a fixed tick it scans the Stream Registry for
// streams that have gone quiet past the liveness window, marks them
// offline, and removes the ones it just marked in the same pass —
// mirroring the mark-then-remove behavior of the hub's original
// stream-status checker.
package liveness

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/registry"
	"github.com/cartesiancs/vessel/internal/telemetry"
)

// Checker periodically ages out idle streams from a Registry.
type Checker struct {
	registry *registry.Registry
	bus      events.Bus
	logger   zerolog.Logger

	tick   time.Duration
	window time.Duration
}

// New constructs a Checker that scans reg every tick, marking offline (and
// then removing) any stream whose last packet is older than window.
func New(reg *registry.Registry, bus events.Bus, tick, window time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{
		registry: reg,
		bus:      bus,
		logger:   logger.With().Str("component", "liveness").Logger(),
		tick:     tick,
		window:   window,
	}
}

// Run ticks until ctx is canceled, exiting between ticks as spec §5
// requires ("the Liveness Checker exits between ticks").
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep performs one mark-then-remove pass over the registry. Marking reads
// each StreamInfo's own state independently of the registry's map lock;
// removal happens only for entries this very pass just transitioned to
// offline, matching the original checker's same-tick mark-and-remove.
func (c *Checker) sweep() {
	var wentOffline []uint32
	online := 0

	for _, info := range c.registry.Snapshot() {
		if !info.Online() {
			continue
		}
		online++
		if time.Since(info.LastSeen()) <= c.window {
			continue
		}

		c.registry.MarkOffline(info.SSRC)
		online--
		c.logger.Info().
			Str("topic", info.Topic).
			Uint32("ssrc", info.SSRC).
			Msg("stream is now offline due to timeout")
		c.bus.Publish(events.EventStreamOffline, events.Payload{
			"ssrc":  info.SSRC,
			"topic": info.Topic,
		})
		wentOffline = append(wentOffline, info.SSRC)
	}

	telemetry.StreamsOnline.Set(float64(online))

	for _, ssrc := range wentOffline {
		c.registry.Remove(ssrc)
		c.logger.Info().Uint32("ssrc", ssrc).Msg("removed timed-out stream")
		c.bus.Publish(events.EventStreamRemoved, events.Payload{"ssrc": ssrc})
	}
}
