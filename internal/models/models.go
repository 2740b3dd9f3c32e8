/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the persisted entity, flow, and configuration
// shapes used by the repository layer. These map 1:1 onto gorm models;
// the relational storage internals behind them are not part of this
// package's concern.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Device represents a physical or logical device grouping one or more entities.
type Device struct {
	ID           uint   `gorm:"primaryKey"`
	DeviceID     string `gorm:"uniqueIndex;size:128"`
	Name         string
	Manufacturer string
	Model        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Entity is an addressable point (sensor, actuator, stream source) known to the hub.
// EntityID is the stable external identifier referenced by topics and flow nodes;
// Platform drives the protocol derivation used by the Topic Router ("MQTT", "udp",
// "lora", "RTSP", or empty for HTTP-only entities).
type Entity struct {
	ID           uint   `gorm:"primaryKey"`
	EntityID     string `gorm:"uniqueIndex;size:191"`
	DeviceID     *uint
	FriendlyName string
	Platform     string `gorm:"size:32"`
	EntityType   string `gorm:"size:64"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JSONMap is a gorm-compatible column type for arbitrary JSON documents.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap scan type %T", value)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// EntityConfiguration stores the entity's protocol wiring (state_topic,
// command_topic, stream topic, RTSP URL, and so on) as a single JSON document.
// One row per entity; the Topic Router rebuilds its in-memory map by scanning
// every row's Configuration for state_topic/command_topic keys.
type EntityConfiguration struct {
	ID            uint `gorm:"primaryKey"`
	EntityID      uint `gorm:"uniqueIndex"`
	Configuration JSONMap
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntityWithConfig is the join projection returned by the entity listing query,
// grounding the Topic Router's remap pass and the entities-with-state API.
type EntityWithConfig struct {
	Entity
	Configuration JSONMap
}

// StatesMeta is the per-entity metadata row states are attached to.
type StatesMeta struct {
	MetadataID uint   `gorm:"primaryKey"`
	EntityID   string `gorm:"uniqueIndex;size:191"`
}

// State is a single recorded state transition for an entity.
type State struct {
	StateID     uint `gorm:"primaryKey"`
	MetadataID  uint `gorm:"index"`
	State       string
	Attributes  JSONMap
	LastChanged time.Time
	LastUpdated time.Time
	Created     time.Time
}

// SystemConfiguration is a flat, key/value process-wide setting (broker
// addresses, default STUN/TURN overrides, feature toggles) editable at runtime.
type SystemConfiguration struct {
	ID          uint `gorm:"primaryKey"`
	Key         string `gorm:"uniqueIndex;size:191"`
	Value       string
	Enabled     bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeviceToken is a bearer credential a device presents to push state over HTTP.
type DeviceToken struct {
	ID         uint `gorm:"primaryKey"`
	DeviceID   uint `gorm:"uniqueIndex"`
	TokenHash  string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Flow is a saved dataflow graph definition. Enabled is stored as-is; the
// hub does not start flows on its own, a flow runs when a session sends
// compute_flow for it.
type Flow struct {
	ID          uint `gorm:"primaryKey"`
	Name        string
	Description string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FlowVersion is an immutable, numbered snapshot of a flow's graph JSON.
// The highest Version number for a Flow is what the Flow Manager runs.
type FlowVersion struct {
	ID        uint `gorm:"primaryKey"`
	FlowID    uint `gorm:"index"`
	Version   int
	GraphJSON string `gorm:"type:text"`
	Comment   string
	CreatedAt time.Time
}
