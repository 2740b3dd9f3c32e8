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
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/registry"
)

func init() {
	Register("INTERVAL", newIntervalNode)
	Register("MQTT_SUBSCRIBE", newMQTTSubscribeNode)
	Register("RTP_STREAM_IN", newRTPStreamInNode)
}

// intervalUnitDuration converts the configured interval to a time.Duration.
func intervalUnitDuration(interval int, unit string) (time.Duration, error) {
	switch unit {
	case "ms", "milliseconds":
		return time.Duration(interval) * time.Millisecond, nil
	case "s":
		return time.Duration(interval) * time.Second, nil
	case "min":
		return time.Duration(interval) * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown INTERVAL unit %q", unit)
	}
}

// intervalNode ticks at a configured rate, emitting exec=null each tick.
type intervalNode struct {
	interval int
	unit     string
}

func newIntervalNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Interval int    `json:"interval"`
		Unit     string `json:"unit"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("INTERVAL config: %w", err)
	}
	return &intervalNode{interval: cfg.Interval, unit: cfg.Unit}, nil
}

func (n *intervalNode) IsTrigger() bool { return true }

func (n *intervalNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	return ExecutionResult{Outputs: Outputs{"exec": nil}}, nil
}

func (n *intervalNode) StartTrigger(ctx context.Context, ec *ExecutionContext, nodeID string, trigCh chan<- Trigger) {
	period, err := intervalUnitDuration(n.interval, n.unit)
	if err != nil {
		ec.Logger.Error().Str("node_id", nodeID).Err(err).Msg("INTERVAL: invalid config")
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case trigCh <- Trigger{NodeID: nodeID, Inputs: Inputs{"exec": nil}}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// mqttSubscribeNode fires when a raw MQTT message matching its topic is
// observed on the event bus, parsing the payload as JSON when possible.
// On the first observed message it also fires every other source node, to
// unblock dependents that only have this subscription as their entry
// point into the graph.
type mqttSubscribeNode struct {
	topic string

	mu    sync.Mutex
	fired bool
}

func newMQTTSubscribeNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("MQTT_SUBSCRIBE config: %w", err)
	}
	return &mqttSubscribeNode{topic: cfg.Topic}, nil
}

func (n *mqttSubscribeNode) IsTrigger() bool { return true }

func (n *mqttSubscribeNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	return ExecutionResult{Outputs: Outputs{"payload": inputs["payload"]}}, nil
}

func (n *mqttSubscribeNode) StartTrigger(ctx context.Context, ec *ExecutionContext, nodeID string, trigCh chan<- Trigger) {
	sub := ec.Bus.Subscribe(events.EventMQTTMessage)
	defer ec.Bus.Unsubscribe(events.EventMQTTMessage, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			topic, _ := payload["topic"].(string)
			if topic != n.topic {
				continue
			}

			raw, _ := payload["payload"].(string)
			var value Value = raw
			var parsed any
			if json.Unmarshal([]byte(raw), &parsed) == nil {
				value = parsed
			}

			n.mu.Lock()
			first := !n.fired
			n.fired = true
			n.mu.Unlock()

			select {
			case trigCh <- Trigger{NodeID: nodeID, Inputs: Inputs{"payload": value}}:
			case <-ctx.Done():
				return
			}

			if first {
				for _, sourceID := range ec.SourceNodes {
					if sourceID == nodeID {
						continue
					}
					select {
					case trigCh <- Trigger{NodeID: sourceID}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}
}

// rtpStreamInNode fires once per RTP packet observed on the matching
// topic's stream, emitting the payload as base64.
type rtpStreamInNode struct {
	topic string
}

func newRTPStreamInNode(raw json.RawMessage) (Node, error) {
	var cfg struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("RTP_STREAM_IN config: %w", err)
	}
	return &rtpStreamInNode{topic: cfg.Topic}, nil
}

func (n *rtpStreamInNode) IsTrigger() bool { return true }

func (n *rtpStreamInNode) Execute(ctx context.Context, ec *ExecutionContext, inputs Inputs) (ExecutionResult, error) {
	return ExecutionResult{Outputs: Outputs{"payload": inputs["payload"]}}, nil
}

func (n *rtpStreamInNode) StartTrigger(ctx context.Context, ec *ExecutionContext, nodeID string, trigCh chan<- Trigger) {
	if ec.Stream == nil {
		return
	}

	var info *registry.StreamInfo
	var ok bool
	if info, ok = ec.Stream.ByTopic(n.topic, registry.MediaVideo); !ok {
		if info, ok = ec.Stream.ByTopic(n.topic, registry.MediaAudio); !ok {
			ec.Logger.Warn().Str("topic", n.topic).Msg("RTP_STREAM_IN: no stream registered for topic yet")
			return
		}
	}

	sub := make(registry.Subscriber, 32)
	unsubscribe := info.Subscribe(sub)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, more := <-sub:
			if !more {
				return
			}
			payload := base64Payload(pkt)
			select {
			case trigCh <- Trigger{NodeID: nodeID, Inputs: Inputs{"payload": payload}}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func base64Payload(pkt *rtp.Packet) string {
	return base64.StdEncoding.EncodeToString(pkt.Payload)
}
