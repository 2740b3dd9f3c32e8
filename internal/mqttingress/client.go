/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mqttingress connects to the configured MQTT broker, subscribes
// the wildcard topic, and fans every inbound Publish out to the raw
// broadcast bus and the Topic Router (spec §4.F).
package mqttingress

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/cartesiancs/vessel/internal/events"
)

// Router is the narrow surface the Topic Router exposes to ingress: on an
// exact MQTT topic match it persists entity state and broadcasts a
// change_state event (spec §4.E); a miss is a silent no-op.
type Router interface {
	HandleMQTTMessage(ctx context.Context, topic, payload string) error
}

// Client owns the paho connection and the event bus it fans messages out
// to. It satisfies flow.MQTTPublisher structurally so MQTT_PUBLISH nodes
// can publish through the same connection ingress reads from.
type Client struct {
	opts   *mqtt.ClientOptions
	client mqtt.Client

	bus    events.Bus
	router Router
	logger zerolog.Logger
}

// New builds a disconnected client for brokerAddr (host:port, TCP). clientID
// identifies this process to the broker.
func New(brokerAddr, clientID string, bus events.Bus, router Router, logger zerolog.Logger) *Client {
	c := &Client{
		bus:    bus,
		router: router,
		logger: logger.With().Str("component", "mqtt_ingress").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", brokerAddr))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.opts = opts
	return c
}

// Connect dials the broker and blocks until the connection succeeds or ctx
// is done. Subscription happens in the OnConnect handler so a later
// auto-reconnect re-subscribes without extra bookkeeping.
func (c *Client) Connect(ctx context.Context) error {
	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Disconnect tears the connection down, logging per spec §4.F
// ("disconnection terminates the loop after logging").
func (c *Client) Disconnect() {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	c.client.Disconnect(250)
	c.logger.Info().Msg("mqtt client disconnected")
}

// Publish implements flow.MQTTPublisher for the MQTT_PUBLISH node.
func (c *Client) Publish(topic string, qos byte, retain bool, payload []byte) error {
	if c.client == nil || !c.client.IsConnected() {
		return fmt.Errorf("mqtt publish: not connected")
	}
	token := c.client.Publish(topic, qos, retain, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("mqtt connected, subscribing to #")
	token := client.Subscribe("#", 0, c.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn().Err(err).Msg("mqtt connection lost")
}

// onMessage implements the §4.F per-message rule: best-effort UTF-8
// decode, broadcast the raw message, then hand the topic/payload to the
// Topic Router.
func (c *Client) onMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	c.bus.Publish(events.EventMQTTMessage, events.Payload{
		"topic":   topic,
		"payload": string(payload),
		"bytes":   payload,
	})

	if c.router == nil {
		return
	}
	if err := c.router.HandleMQTTMessage(context.Background(), topic, string(payload)); err != nil {
		c.logger.Error().Str("topic", topic).Err(err).Msg("topic router failed to handle mqtt message")
	}
}
