/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
// Every setting is looked up under the VESSEL_ prefix first, falling back to
// the legacy HUB_ prefix so existing deployments keep working during a rename.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string

	DBBackend DatabaseBackend
	DBDSN     string

	JWTSigningKey string
	MetricsBind   string

	// Stream Fan-Out Plane
	RTPListenAddr      string        // UDP address the RTP demuxer binds, e.g. "0.0.0.0:5004"
	LivenessTickPeriod time.Duration // how often the Liveness Checker scans the registry
	LivenessWindow     time.Duration // idle duration after which a stream is marked offline

	// Topic-to-Entity Router / MQTT Ingress
	MQTTBrokerAddr string // "host:port" of the MQTT broker to subscribe to
	MQTTClientID   string

	// Per-Session WebRTC Actor
	WebRTCSTUNURL      string
	WebRTCTURNURL      string
	WebRTCTURNUsername string
	WebRTCTURNPassword string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Session-presence cache (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string

	// Debug disables ingress subsystems (RTP demuxer, RTSP supervisor, MQTT
	// ingress) so the HTTP/flow/session surface can be exercised in isolation.
	Debug bool

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"VESSEL_ENV", "HUB_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"VESSEL_HTTP_BIND", "HUB_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"VESSEL_HTTP_PORT", "HUB_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"VESSEL_BASE_URL", "HUB_BASE_URL"}, ""),

		DBBackend: DatabaseBackend(getEnvAny([]string{"VESSEL_DB_BACKEND", "HUB_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"VESSEL_DB_DSN", "HUB_DB_DSN"}, ""),

		JWTSigningKey: getEnvAny([]string{"VESSEL_JWT_SIGNING_KEY", "HUB_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"VESSEL_METRICS_BIND", "HUB_METRICS_BIND"}, "127.0.0.1:9000"),

		RTPListenAddr:      getEnvAny([]string{"VESSEL_RTP_LISTEN_ADDR", "HUB_RTP_LISTEN_ADDR"}, "0.0.0.0:5004"),
		LivenessTickPeriod: time.Duration(getEnvIntAny([]string{"VESSEL_LIVENESS_TICK_SECONDS", "HUB_LIVENESS_TICK_SECONDS"}, 5)) * time.Second,
		LivenessWindow:     time.Duration(getEnvIntAny([]string{"VESSEL_LIVENESS_WINDOW_SECONDS", "HUB_LIVENESS_WINDOW_SECONDS"}, 10)) * time.Second,

		MQTTBrokerAddr: getEnvAny([]string{"VESSEL_MQTT_BROKER_ADDR", "HUB_MQTT_BROKER_ADDR"}, "localhost:1883"),
		MQTTClientID:   getEnvAny([]string{"VESSEL_MQTT_CLIENT_ID", "HUB_MQTT_CLIENT_ID"}, "vessel-hub"),

		WebRTCSTUNURL:      getEnvAny([]string{"VESSEL_WEBRTC_STUN_URL", "HUB_WEBRTC_STUN_URL"}, "stun:stun.l.google.com:19302"),
		WebRTCTURNURL:      getEnvAny([]string{"VESSEL_WEBRTC_TURN_URL", "HUB_WEBRTC_TURN_URL"}, ""),
		WebRTCTURNUsername: getEnvAny([]string{"VESSEL_WEBRTC_TURN_USERNAME", "HUB_WEBRTC_TURN_USERNAME"}, ""),
		WebRTCTURNPassword: getEnvAny([]string{"VESSEL_WEBRTC_TURN_PASSWORD", "HUB_WEBRTC_TURN_PASSWORD"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"VESSEL_TRACING_ENABLED", "HUB_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"VESSEL_OTLP_ENDPOINT", "HUB_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"VESSEL_TRACING_SAMPLE_RATE", "HUB_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:     getEnvAny([]string{"VESSEL_REDIS_ADDR", "HUB_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"VESSEL_REDIS_PASSWORD", "HUB_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"VESSEL_REDIS_DB", "HUB_REDIS_DB"}, 0),
		InstanceID:    getEnvAny([]string{"VESSEL_INSTANCE_ID", "HUB_INSTANCE_ID"}, ""),

		Debug: getEnvBoolAny([]string{"VESSEL_DEBUG", "HUB_DEBUG"}, false),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("VESSEL_DB_DSN or HUB_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("VESSEL_JWT_SIGNING_KEY or HUB_JWT_SIGNING_KEY must be provided")
	}

	if cfg.WebRTCTURNURL != "" && (cfg.WebRTCTURNUsername == "" || cfg.WebRTCTURNPassword == "") && strings.EqualFold(cfg.Environment, "production") {
		return nil, fmt.Errorf("VESSEL_WEBRTC_TURN_USERNAME and VESSEL_WEBRTC_TURN_PASSWORD are required when TURN is enabled in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"HUB_ENV":              "use VESSEL_ENV",
		"HUB_JWT_SIGNING_KEY":  "use VESSEL_JWT_SIGNING_KEY",
		"HUB_DB_DSN":           "use VESSEL_DB_DSN",
		"HUB_MQTT_BROKER_ADDR": "use VESSEL_MQTT_BROKER_ADDR",
		"HUB_TRACING_ENABLED":  "use VESSEL_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
