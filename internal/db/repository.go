/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cartesiancs/vessel/internal/models"
	"gorm.io/gorm"
)

// GetAllEntitiesWithConfigs loads every entity together with its (optional)
// protocol configuration. This backs both the Topic Router's remap pass and
// any read-only entity listing surface.
func GetAllEntitiesWithConfigs(tx *gorm.DB) ([]models.EntityWithConfig, error) {
	var entities []models.Entity
	if err := tx.Find(&entities).Error; err != nil {
		return nil, err
	}

	out := make([]models.EntityWithConfig, 0, len(entities))
	for _, e := range entities {
		var cfg models.EntityConfiguration
		err := tx.Where("entity_id = ?", e.ID).First(&cfg).Error
		row := models.EntityWithConfig{Entity: e}
		if err == nil {
			row.Configuration = cfg.Configuration
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// GetEntityByEntityID looks up an entity by its external, topic-facing identifier.
func GetEntityByEntityID(tx *gorm.DB, entityID string) (*models.Entity, error) {
	var entity models.Entity
	if err := tx.Where("entity_id = ?", entityID).First(&entity).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// SetEntityState records a new state value for the given entity, creating its
// states_meta row on first write. attributes may be nil.
func SetEntityState(tx *gorm.DB, entityID string, state string, attributes map[string]any) (*models.State, error) {
	var meta models.StatesMeta
	err := tx.Where("entity_id = ?", entityID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		meta = models.StatesMeta{EntityID: entityID}
		if err := tx.Create(&meta).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	now := time.Now()
	row := models.State{
		MetadataID:  meta.MetadataID,
		State:       state,
		Attributes:  models.JSONMap(attributes),
		LastChanged: now,
		LastUpdated: now,
		Created:     now,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// GetLatestState returns the most recently recorded state for an entity, if any.
func GetLatestState(tx *gorm.DB, entityID string) (*models.State, error) {
	var meta models.StatesMeta
	if err := tx.Where("entity_id = ?", entityID).First(&meta).Error; err != nil {
		return nil, err
	}
	var state models.State
	if err := tx.Where("metadata_id = ?", meta.MetadataID).Order("state_id desc").First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// GetAllSystemConfigs returns every system configuration row.
func GetAllSystemConfigs(tx *gorm.DB) ([]models.SystemConfiguration, error) {
	var rows []models.SystemConfiguration
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetAllFlows returns every saved flow definition, independent of run state.
func GetAllFlows(tx *gorm.DB) ([]models.Flow, error) {
	var rows []models.Flow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetVersionsForFlow returns every saved version of a flow, newest first.
func GetVersionsForFlow(tx *gorm.DB, flowID uint) ([]models.FlowVersion, error) {
	var rows []models.FlowVersion
	if err := tx.Where("flow_id = ?", flowID).Order("version desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetLatestFlowVersion returns the highest-numbered version for a flow, the
// one the Flow Manager should run (spec §6: "get_versions_for_flow(flow_id)
// — used before Start"), or gorm.ErrRecordNotFound if none exist.
func GetLatestFlowVersion(tx *gorm.DB, flowID uint) (*models.FlowVersion, error) {
	versions, err := GetVersionsForFlow(tx, flowID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &versions[0], nil
}

// CreateFlowVersion persists a new, incrementally-numbered graph snapshot for a flow.
func CreateFlowVersion(tx *gorm.DB, flowID uint, graph any, comment string) (*models.FlowVersion, error) {
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return nil, err
	}

	var maxVersion int
	if err := tx.Model(&models.FlowVersion{}).
		Where("flow_id = ?", flowID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error; err != nil {
		return nil, err
	}

	row := models.FlowVersion{
		FlowID:    flowID,
		Version:   maxVersion + 1,
		GraphJSON: string(graphJSON),
		Comment:   comment,
		CreatedAt: time.Now(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
