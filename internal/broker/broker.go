// Package broker implements the Broker Adapter (§4.8): bit-exact MQTT
// topic formatting, TTL-cached server selection, and fire-and-forget
// publish, following tr-engine's paho.mqtt.golang usage pattern
// (auto-reconnect, Token().Wait() only on connect).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServerNameResolver reads the well-known BrokerName tag (§4.8).
type ServerNameResolver interface {
	ReadBrokerName(ctx context.Context) (string, bool)
}

const serverCacheTTL = 60 * time.Second

// DefaultServer is the ultimate fallback when no server tag resolves.
const DefaultServer = "Local Broker"

// Client wraps a paho MQTT client with the topic-formatting and
// server-selection behavior the spec requires.
type Client struct {
	mqtt         mqtt.Client
	resolver     ServerNameResolver
	topicBuilder *TopicBuilder
	log          *zap.Logger

	mu         sync.Mutex
	cachedName string
	cachedAt   time.Time
}

// SetTopicBuilder wires the hierarchy-backed topic builder used by the
// payload-specific Publish* methods.
func (c *Client) SetTopicBuilder(t *TopicBuilder) { c.topicBuilder = t }

// New connects a paho client to brokerURL with auto-reconnect enabled,
// mirroring tr-engine's connection options. clientID is suffixed with a
// random instance ID so two engine processes sharing the same configured
// base ID don't collide on the broker (MQTT drops the older session).
func New(brokerURL, clientID string, resolver ServerNameResolver, log *zap.Logger) (*Client, error) {
	instanceID := clientID + "-" + uuid.NewString()[:8]
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(instanceID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	cl := mqtt.NewClient(opts)
	token := cl.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &Client{mqtt: cl, resolver: resolver, log: log}, nil
}

// Close disconnects the underlying MQTT client.
func (c *Client) Close() { c.mqtt.Disconnect(250) }

// ServerName returns the current broker server name, TTL-cached at 60s,
// falling back to DefaultServer (§4.8).
func (c *Client) ServerName(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.cachedAt) < serverCacheTTL && c.cachedName != "" {
		return c.cachedName
	}
	if c.resolver != nil {
		if name, ok := c.resolver.ReadBrokerName(ctx); ok && name != "" {
			c.cachedName = name
			c.cachedAt = time.Now()
			return name
		}
	}
	c.cachedName = DefaultServer
	c.cachedAt = time.Now()
	return c.cachedName
}

// Topic formats a bit-exact topic string from the hierarchy (§4.8):
// m/<division>/<plant>/<area>/<subarea>/line/<line>/<scope_slug>, with
// every name space-stripped.
func Topic(division, plant, area, subarea, line, scopeSlug string) string {
	strip := func(s string) string { return strings.ReplaceAll(s, " ", "") }
	return fmt.Sprintf("m/%s/%s/%s/%s/line/%s/%s",
		strip(division), strip(plant), strip(area), strip(subarea), strip(line), strip(scopeSlug))
}

// Publish is fire-and-forget: no Token().Wait() on the publish path so a
// slow broker never blocks an engine tick (§4.8, §7 BrokerUnavailable).
func (c *Client) Publish(topic string, qos byte, retain bool, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	token := c.mqtt.Publish(topic, qos, retain, body)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn("broker: publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
	return nil
}
