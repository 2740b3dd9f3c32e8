package server

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/config"
	"github.com/cartesiancs/vessel/internal/models"
)

func TestApplySystemConfigs_OverridesEnabledKeys(t *testing.T) {
	cfg := &config.Config{
		MQTTBrokerAddr: "localhost:1883",
		RTPListenAddr:  "0.0.0.0:5004",
	}
	rows := []models.SystemConfiguration{
		{Key: "mqtt_broker_url", Value: "broker.example.com:1883", Enabled: true},
		{Key: "rtp_broker_port", Value: "0.0.0.0:6000", Enabled: true},
		{Key: "turn_server_config", Value: `{"url":"turn:turn.example.com:3478","username":"u","password":"p"}`},
	}

	applySystemConfigs(cfg, rows, zerolog.Nop())

	if cfg.MQTTBrokerAddr != "broker.example.com:1883" {
		t.Fatalf("MQTTBrokerAddr = %q", cfg.MQTTBrokerAddr)
	}
	if cfg.RTPListenAddr != "0.0.0.0:6000" {
		t.Fatalf("RTPListenAddr = %q", cfg.RTPListenAddr)
	}
	if cfg.WebRTCTURNURL != "turn:turn.example.com:3478" || cfg.WebRTCTURNUsername != "u" || cfg.WebRTCTURNPassword != "p" {
		t.Fatalf("turn config not applied: %+v", cfg)
	}
}

func TestApplySystemConfigs_IgnoresDisabledRows(t *testing.T) {
	cfg := &config.Config{MQTTBrokerAddr: "localhost:1883"}
	rows := []models.SystemConfiguration{
		{Key: "mqtt_broker_url", Value: "broker.example.com:1883", Enabled: false},
	}

	applySystemConfigs(cfg, rows, zerolog.Nop())

	if cfg.MQTTBrokerAddr != "localhost:1883" {
		t.Fatalf("expected disabled row to be ignored, got %q", cfg.MQTTBrokerAddr)
	}
}

func TestApplySystemConfigs_IgnoresMalformedTurnJSON(t *testing.T) {
	cfg := &config.Config{WebRTCTURNURL: "turn:original:3478"}
	rows := []models.SystemConfiguration{
		{Key: "turn_server_config", Value: "not json"},
	}

	applySystemConfigs(cfg, rows, zerolog.Nop())

	if cfg.WebRTCTURNURL != "turn:original:3478" {
		t.Fatalf("expected malformed turn config to be ignored, got %q", cfg.WebRTCTURNURL)
	}
}
