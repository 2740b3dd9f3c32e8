/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP API metrics, consumed by MetricsMiddleware.
var (
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_api_active_connections",
		Help: "Number of in-flight HTTP requests.",
	})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vessel_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_api_requests_total",
		Help: "Total HTTP requests handled.",
	}, []string{"method", "endpoint", "status"})
)

// Database metrics, consumed by the gorm callback hooks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vessel_database_query_duration_seconds",
		Help:    "Database query latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_database_errors_total",
		Help: "Total database errors, by operation and table.",
	}, []string{"operation", "table"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_database_connections_active",
		Help: "Open connections in the database connection pool.",
	})
)

// Stream Fan-Out Plane metrics.
var (
	RTPPacketsDemuxedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_rtp_packets_demuxed_total",
		Help: "RTP packets successfully routed to a known stream, by media type.",
	}, []string{"media_type"})

	RTPPacketsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_rtp_packets_dropped_total",
		Help: "RTP packets dropped due to an unknown SSRC or a stream with no subscribers.",
	}, []string{"reason"})

	StreamsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_streams_online",
		Help: "Streams currently considered live by the liveness checker.",
	})

	RTSPSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_rtsp_sessions_active",
		Help: "RTSP ingestion sessions currently supervised.",
	})
)

// Flow Execution Engine metrics.
var (
	FlowExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_flow_node_executions_total",
		Help: "Flow node executions, by flow id and node type.",
	}, []string{"flow_id", "node_type"})

	FlowsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_flows_running",
		Help: "Flows currently active in the flow manager.",
	})
)

// Per-session WebRTC actor and ingress metrics.
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vessel_sessions_active",
		Help: "WebRTC session actors currently connected.",
	})

	MQTTMessagesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vessel_mqtt_messages_ingested_total",
		Help: "MQTT messages received and routed through the topic router, by outcome.",
	}, []string{"outcome"})
)

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
