/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/config"
	"github.com/cartesiancs/vessel/internal/models"
)

// turnServerConfigValue is the shape of the turn_server_config system
// configuration row's JSON value (spec §6).
type turnServerConfigValue struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// applySystemConfigs overrides cfg with the system_configurations rows read
// once at startup (spec §6: "get_all_system_configs() — read once at
// startup; keys recognized: mqtt_broker_url (host:port, enabled),
// rtp_broker_port (listen address, enabled), turn_server_config (JSON,
// optional)"). A row with enabled=false is left in place so operators can
// stage a value without activating it; env/CLI config remains the default
// when no row for a key exists at all.
func applySystemConfigs(cfg *config.Config, rows []models.SystemConfiguration, logger zerolog.Logger) {
	for _, row := range rows {
		switch row.Key {
		case "mqtt_broker_url":
			if !row.Enabled {
				continue
			}
			if row.Value == "" {
				logger.Warn().Msg("mqtt_broker_url system config is enabled but empty, keeping prior value")
				continue
			}
			cfg.MQTTBrokerAddr = row.Value
		case "rtp_broker_port":
			if !row.Enabled {
				continue
			}
			if row.Value == "" {
				logger.Warn().Msg("rtp_broker_port system config is enabled but empty, keeping prior value")
				continue
			}
			cfg.RTPListenAddr = row.Value
		case "turn_server_config":
			if row.Value == "" {
				continue
			}
			var turn turnServerConfigValue
			if err := json.Unmarshal([]byte(row.Value), &turn); err != nil {
				logger.Warn().Err(err).Msg("turn_server_config system config is not valid JSON, ignoring")
				continue
			}
			if turn.URL != "" {
				cfg.WebRTCTURNURL = turn.URL
			}
			if turn.Username != "" {
				cfg.WebRTCTURNUsername = turn.Username
			}
			if turn.Password != "" {
				cfg.WebRTCTURNPassword = turn.Password
			}
		}
	}
}
