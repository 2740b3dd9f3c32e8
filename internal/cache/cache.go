/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultSessionPresenceTTL = 30 * time.Second
	DefaultEntityStateTTL     = 5 * time.Minute
	DefaultTopicMapTTL        = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeySessionPresence = "vessel:cache:session:"     // + session_id
	KeyEntityState     = "vessel:cache:entity_state:" // + entity_id
	KeyTopicMap        = "vessel:cache:topic_map"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	SessionPresenceTTL time.Duration
	EntityStateTTL     time.Duration
	TopicMapTTL        time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:          "localhost:6379",
		SessionPresenceTTL: DefaultSessionPresenceTTL,
		EntityStateTTL:     DefaultEntityStateTTL,
		TopicMapTTL:        DefaultTopicMapTTL,
		DisableOnError:     true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}


// Session-presence caching methods
//
// These track which hub instance a WebRTC session actor is currently
// attached to, so a renegotiation or signaling message arriving at a
// different instance can be routed to the right place.

// CachedSessionPresence represents a session actor's last known location.
type CachedSessionPresence struct {
	SessionID  string `json:"session_id"`
	EntityID   string `json:"entity_id"`
	UserID     string `json:"user_id"`
	InstanceID string `json:"instance_id"`
	ConnectedAt int64 `json:"connected_at"`
}

// GetSessionPresence retrieves the cached presence record for a session.
func (c *Cache) GetSessionPresence(ctx context.Context, sessionID string) (*CachedSessionPresence, bool) {
	var presence CachedSessionPresence
	found, err := c.get(ctx, KeySessionPresence+sessionID, &presence)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("session_id", sessionID).Msg("session presence cache hit")
	return &presence, true
}

// SetSessionPresence records a session actor's presence, refreshing its TTL.
func (c *Cache) SetSessionPresence(ctx context.Context, presence *CachedSessionPresence) error {
	c.logger.Debug().Str("session_id", presence.SessionID).Str("instance_id", presence.InstanceID).Msg("caching session presence")
	return c.set(ctx, KeySessionPresence+presence.SessionID, presence, c.config.SessionPresenceTTL)
}

// InvalidateSessionPresence removes a session's presence record on disconnect.
func (c *Cache) InvalidateSessionPresence(ctx context.Context, sessionID string) error {
	c.logger.Debug().Str("session_id", sessionID).Msg("invalidating session presence cache")
	return c.delete(ctx, KeySessionPresence+sessionID)
}

// Entity state caching methods
//
// The Topic Router writes these through on every MQTT-driven state change;
// it does not read them back, and state reads go to the database.

// CachedEntityState represents the last known state pushed through the router.
type CachedEntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	UpdatedAt  int64          `json:"updated_at"`
}

// GetEntityState retrieves the cached last-known state for an entity.
func (c *Cache) GetEntityState(ctx context.Context, entityID string) (*CachedEntityState, bool) {
	var state CachedEntityState
	found, err := c.get(ctx, KeyEntityState+entityID, &state)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("entity_id", entityID).Msg("entity state cache hit")
	return &state, true
}

// SetEntityState caches the last-known state for an entity.
func (c *Cache) SetEntityState(ctx context.Context, state *CachedEntityState) error {
	c.logger.Debug().Str("entity_id", state.EntityID).Msg("caching entity state")
	return c.set(ctx, KeyEntityState+state.EntityID, state, c.config.EntityStateTTL)
}

// InvalidateEntityState removes an entity's cached state.
func (c *Cache) InvalidateEntityState(ctx context.Context, entityID string) error {
	c.logger.Debug().Str("entity_id", entityID).Msg("invalidating entity state cache")
	return c.delete(ctx, KeyEntityState+entityID)
}

// Topic map snapshot caching
//
// The Topic Router stores its map here after every successful rebuild
// from the database; when loading entities from the database fails, it
// seeds its in-memory map from this snapshot instead.

// CachedTopicMapping mirrors a single topicrouter mapping entry.
type CachedTopicMapping struct {
	Protocol string `json:"protocol"`
	Topic    string `json:"topic"`
	EntityID string `json:"entity_id"`
}

// GetTopicMapSnapshot retrieves the cached topic map.
func (c *Cache) GetTopicMapSnapshot(ctx context.Context) ([]CachedTopicMapping, bool) {
	var mappings []CachedTopicMapping
	found, err := c.get(ctx, KeyTopicMap, &mappings)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(mappings)).Msg("topic map cache hit")
	return mappings, true
}

// SetTopicMapSnapshot caches the current topic map.
func (c *Cache) SetTopicMapSnapshot(ctx context.Context, mappings []CachedTopicMapping) error {
	c.logger.Debug().Int("count", len(mappings)).Msg("caching topic map snapshot")
	return c.set(ctx, KeyTopicMap, mappings, c.config.TopicMapTTL)
}

// InvalidateTopicMapSnapshot removes the cached topic map, forcing a rebuild.
func (c *Cache) InvalidateTopicMapSnapshot(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating topic map cache")
	return c.delete(ctx, KeyTopicMap)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "vessel:cache:*")
}
