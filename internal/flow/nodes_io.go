/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"gopkg.in/hraban/opus.v2"
)

func init() {
	Register("MQTT_PUBLISH", newMQTTPublishNode)
	Register("HTTP", newHTTPNode)
	Register("DECODE_OPUS", newDecodeOpusNode)
}

// mqttPublishNode publishes input "payload" to its configured topic. A
// string payload is sent as-is; anything else is JSON-serialized first.
type mqttPublishNode struct {
	topic  string
	qos    byte
	retain bool
}

func newMQTTPublishNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Topic  string `json:"topic"`
		QoS    byte   `json:"qos"`
		Retain bool   `json:"retain"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("MQTT_PUBLISH config: %w", err)
	}
	return &mqttPublishNode{topic: cfg.Topic, qos: cfg.QoS, retain: cfg.Retain}, nil
}

func (n *mqttPublishNode) IsTrigger() bool { return false }

func (n *mqttPublishNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	payload, ok := inputs["payload"]
	if !ok {
		return ExecutionResult{}, fmt.Errorf("MQTT_PUBLISH: missing input %q", "payload")
	}
	if ec.MQTT == nil {
		return ExecutionResult{}, fmt.Errorf("MQTT_PUBLISH: no MQTT client configured")
	}

	var body []byte
	if s, ok := payload.(string); ok {
		body = []byte(s)
	} else {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("MQTT_PUBLISH: encode payload: %w", err)
		}
		body = encoded
	}

	if err := ec.MQTT.Publish(n.topic, n.qos, n.retain, body); err != nil {
		return ExecutionResult{}, fmt.Errorf("MQTT_PUBLISH: %w", err)
	}
	return ExecutionResult{}, nil
}

// httpNode issues a request and returns the response body as a string,
// failing on a non-2xx status.
type httpNode struct {
	url    string
	method string
	client *http.Client
}

func newHTTPNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("HTTP config: %w", err)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	return &httpNode{url: cfg.URL, method: cfg.Method, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (n *httpNode) IsTrigger() bool { return false }

func (n *httpNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	var body io.Reader
	if payload, ok := inputs["body"]; ok {
		if s, ok := payload.(string); ok {
			body = strings.NewReader(s)
		} else {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return ExecutionResult{}, fmt.Errorf("HTTP: encode body: %w", err)
			}
			body = strings.NewReader(string(encoded))
		}
	}

	req, err := http.NewRequestWithContext(ctx, n.method, n.url, body)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("HTTP: build request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("HTTP: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("HTTP: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ExecutionResult{}, fmt.Errorf("HTTP: non-2xx response %d", resp.StatusCode)
	}

	return ExecutionResult{Outputs: Outputs{"body": string(respBody)}}, nil
}

// opusSampleRate and opusChannels fix the decode format this hub's Opus
// payloads always use: 48kHz mono, matching the capture pipeline's encoder
// settings.
const (
	opusSampleRate = 48000
	opusChannels   = 1
	// opusMaxFrameSamples is the largest decoded frame size Opus can
	// produce at 48kHz (120ms), the buffer size libopus itself recommends
	// callers allocate regardless of the encoded frame's actual duration.
	opusMaxFrameSamples = 5760
)

// decodeOpusNode decodes a base64 Opus payload to PCM and emits audio
// statistics computed from the decoded samples.
type decodeOpusNode struct{}

func newDecodeOpusNode(raw json.RawMessage) (Node, error) { return &decodeOpusNode{}, nil }

func (n *decodeOpusNode) IsTrigger() bool { return false }

func (n *decodeOpusNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	encoded, ok := inputs["payload"].(string)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("DECODE_OPUS: missing string input %q", "payload")
	}

	frame, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("DECODE_OPUS: decode base64: %w", err)
	}

	decoder, err := opus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("DECODE_OPUS: new decoder: %w", err)
	}

	pcm := make([]int16, opusMaxFrameSamples)
	n2, err := decoder.Decode(frame, pcm)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("DECODE_OPUS: decode: %w", err)
	}
	samples := pcm[:n2]

	decibels := dbfsOf(samples)
	durationMs := float64(len(samples)) * 1000.0 / float64(opusSampleRate)

	return ExecutionResult{Outputs: Outputs{
		"decibels":    decibels,
		"duration_ms": durationMs,
		"sample_rate": opusSampleRate,
		"channels":    opusChannels,
	}}, nil
}

// dbfsOf computes the RMS loudness of decoded PCM samples relative to full
// scale (the int16 maximum), returning -120dBFS for silence or an empty
// frame rather than negative infinity.
func dbfsOf(samples []int16) float64 {
	if len(samples) == 0 {
		return -120.0
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms <= 0 {
		return -120.0
	}
	return 20*math.Log10(rms) - 20*math.Log10(math.MaxInt16)
}
