/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package topicrouter holds the in-memory index that maps protocol topics
// (MQTT subjects, RTSP URLs, raw UDP/LoRa labels) to entities, and drives
// state persistence when an inbound message matches a known MQTT mapping.
//
// The mapping table is rebuilt atomically from the entities table by a
// single writer (remapTopics); readers take a coherent snapshot via a
// single pointer read behind an RWMutex, so a reader never observes a
// mixture of pre- and post-rebuild entries.
package topicrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/cartesiancs/vessel/internal/cache"
	"github.com/cartesiancs/vessel/internal/db"
	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/models"
)

// Protocol identifies the transport a topic mapping was derived from.
type Protocol string

const (
	ProtocolMQTT Protocol = "MQTT"
	ProtocolUDP  Protocol = "UDP"
	ProtocolLoRa Protocol = "LoRa"
	ProtocolRTSP Protocol = "RTSP"
)

// Mapping is one resolved topic-to-entity binding.
type Mapping struct {
	Protocol Protocol
	Topic    string
	EntityID string
}

// StateSetter persists a new entity state. It is satisfied by the
// repository layer (db.SetEntityState bound to a *gorm.DB), kept as an
// interface here so the router's unit tests can substitute a fake.
type StateSetter func(ctx context.Context, entityID, state string, attrs map[string]any) error

// Router holds the current topic map behind a reader-writer guard and
// drives state persistence for inbound MQTT traffic.
type Router struct {
	db     *gorm.DB
	bus    events.Bus
	setter StateSetter
	logger zerolog.Logger
	cache  *cache.Cache

	mu       sync.RWMutex
	mappings []Mapping
}

// New constructs a Router bound to the given database and broadcast bus. The
// default StateSetter persists through db.SetEntityState; tests may override
// it via WithStateSetter. cacheLayer may be nil, in which case the router
// simply always rebuilds from the database.
func New(database *gorm.DB, bus events.Bus, cacheLayer *cache.Cache, logger zerolog.Logger) *Router {
	r := &Router{
		db:     database,
		bus:    bus,
		cache:  cacheLayer,
		logger: logger.With().Str("component", "topicrouter").Logger(),
	}
	r.setter = func(ctx context.Context, entityID, state string, attrs map[string]any) error {
		_, err := db.SetEntityState(r.db.WithContext(ctx), entityID, state, attrs)
		return err
	}
	return r
}

// WithStateSetter overrides the state-persistence function, for tests.
func (r *Router) WithStateSetter(s StateSetter) {
	r.setter = s
}

// Snapshot returns the current mapping table. The returned slice must be
// treated as immutable by the caller; RemapTopics never mutates it in
// place, it only ever swaps in a new one.
func (r *Router) Snapshot() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings
}

// RemapTopics rebuilds the mapping table from the entities table: for
// every entity with a configuration row, it derives a Protocol from the
// entity's Platform field and scans the configuration JSON for
// state_topic, command_topic, and rtsp_url. The rebuilt slice is installed
// with a single pointer swap so concurrent readers always see either the
// whole pre-swap set or the whole post-swap set (testable property 7).
func (r *Router) RemapTopics(ctx context.Context) error {
	rows, err := db.GetAllEntitiesWithConfigs(r.db.WithContext(ctx))
	if err != nil {
		if r.cache != nil {
			if cached, ok := r.cache.GetTopicMapSnapshot(ctx); ok {
				r.logger.Warn().Err(err).Msg("entity load failed, seeding topic map from cache")
				built := make([]Mapping, 0, len(cached))
				for _, m := range cached {
					built = append(built, Mapping{Protocol: Protocol(m.Protocol), Topic: m.Topic, EntityID: m.EntityID})
				}
				r.mu.Lock()
				r.mappings = built
				r.mu.Unlock()
				return nil
			}
		}
		return fmt.Errorf("load entities with configs: %w", err)
	}

	built := make([]Mapping, 0, len(rows)*2)
	for _, row := range rows {
		proto, ok := protocolFor(row.Platform)
		if !ok {
			continue
		}
		if topic, ok := stringField(row.Configuration, "state_topic"); ok {
			built = append(built, Mapping{Protocol: proto, Topic: topic, EntityID: row.EntityID})
		}
		if topic, ok := stringField(row.Configuration, "command_topic"); ok {
			built = append(built, Mapping{Protocol: proto, Topic: topic, EntityID: row.EntityID})
		}
		if url, ok := stringField(row.Configuration, "rtsp_url"); ok {
			built = append(built, Mapping{Protocol: ProtocolRTSP, Topic: url, EntityID: row.EntityID})
		}
	}

	r.mu.Lock()
	r.mappings = built
	r.mu.Unlock()

	r.logger.Debug().Int("count", len(built)).Msg("topic map rebuilt")
	if r.bus != nil {
		r.bus.Publish(events.EventTopicMapRebuilt, events.Payload{"count": len(built)})
	}
	if r.cache != nil {
		snapshot := make([]cache.CachedTopicMapping, 0, len(built))
		for _, m := range built {
			snapshot = append(snapshot, cache.CachedTopicMapping{Protocol: string(m.Protocol), Topic: m.Topic, EntityID: m.EntityID})
		}
		if err := r.cache.SetTopicMapSnapshot(ctx, snapshot); err != nil {
			r.logger.Debug().Err(err).Msg("failed to cache topic map snapshot")
		}
	}
	return nil
}

// protocolFor derives a Protocol from the entity's "platform" field.
func protocolFor(platform string) (Protocol, bool) {
	switch platform {
	case "MQTT":
		return ProtocolMQTT, true
	case "udp":
		return ProtocolUDP, true
	case "lora":
		return ProtocolLoRa, true
	case "RTSP":
		return ProtocolRTSP, true
	default:
		return "", false
	}
}

func stringField(cfg models.JSONMap, key string) (string, bool) {
	if cfg == nil {
		return "", false
	}
	v, ok := cfg[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// RTSPMappings returns every current mapping with protocol RTSP, used by
// the RTSP Supervisor to discover pipelines to spawn at startup.
func (r *Router) RTSPMappings() []Mapping {
	snap := r.Snapshot()
	out := make([]Mapping, 0, len(snap))
	for _, m := range snap {
		if m.Protocol == ProtocolRTSP {
			out = append(out, m)
		}
	}
	return out
}

// ByMQTTTopic returns the exact-match MQTT mapping for topic, if any.
// Topic matching is exact-string; MQTT-style +/# wildcards are not
// honored (spec §9 open question, decided: conservative exact-match).
func (r *Router) ByMQTTTopic(topic string) (Mapping, bool) {
	snap := r.Snapshot()
	for _, m := range snap {
		if m.Protocol == ProtocolMQTT && m.Topic == topic {
			return m, true
		}
	}
	return Mapping{}, false
}

// HandleMQTTMessage implements the §4.E MQTT-ingress rule: on an exact
// topic match with protocol MQTT, persist the payload as the entity's new
// state and broadcast a change_state event to every WebSocket client.
func (r *Router) HandleMQTTMessage(ctx context.Context, topic string, payload string) error {
	mapping, ok := r.ByMQTTTopic(topic)
	if !ok {
		return nil
	}

	if err := r.setter(ctx, mapping.EntityID, payload, nil); err != nil {
		return fmt.Errorf("set entity state for %s: %w", mapping.EntityID, err)
	}

	if r.cache != nil {
		cached := &cache.CachedEntityState{EntityID: mapping.EntityID, State: payload, UpdatedAt: time.Now().Unix()}
		if err := r.cache.SetEntityState(ctx, cached); err != nil {
			r.logger.Debug().Err(err).Str("entity", mapping.EntityID).Msg("failed to cache entity state")
		}
	}

	if r.bus != nil {
		r.bus.Publish(events.EventEntityStateChanged, events.Payload{
			"entity": mapping.EntityID,
			"state":  payload,
			"topic":  topic,
		})
	}
	return nil
}

// ByRTSPURL returns the mapping for an RTSP url, used when the supervisor
// needs the originating entity id for a pipeline it is about to spawn.
func (r *Router) ByRTSPURL(url string) (Mapping, bool) {
	snap := r.Snapshot()
	for _, m := range snap {
		if m.Protocol == ProtocolRTSP && m.Topic == url {
			return m, true
		}
	}
	return Mapping{}, false
}
