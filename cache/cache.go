// Copyright 2025 CrossAudit
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache stores delivered answers in Redis so identical
// questions skip the upstream call and the evaluation mesh. Only
// passing answers are cached. Redis failures degrade to cache misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/crossaudit/gateway/shared/logger"
)

const keyPrefix = "respcache"

// CachedAnswer is the payload stored per cache key.
type CachedAnswer struct {
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	Vendor    string    `json:"vendor,omitempty"`
	Aggregate float64   `json:"aggregate_score"`
	CreatedAt time.Time `json:"created_at"`
}

// ResponseCache is a per-tenant answer cache.
type ResponseCache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis at the given URL (redis://host:port/db).
func New(redisURL string) (*ResponseCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client, log: logger.New("response-cache")}
}

// Key derives the cache key for a tenant's question plus any fetched
// context. Different context means a different key.
func Key(tenantID, prompt, contextText string) string {
	sum := sha256.Sum256([]byte(prompt + "|" + contextText))
	return fmt.Sprintf("%s:%s:%s", keyPrefix, tenantID, hex.EncodeToString(sum[:]))
}

// Get looks up a cached answer. Errors are logged and reported as a
// miss so the request proceeds to the upstream.
func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedAnswer, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("", "", "cache lookup failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil, false
	}

	var answer CachedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		c.log.Warn("", "", "cache entry corrupt, evicting", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		c.client.Del(ctx, key)
		return nil, false
	}
	return &answer, true
}

// Put stores a passing answer with the tenant's TTL.
func (c *ResponseCache) Put(ctx context.Context, key string, answer CachedAnswer, ttl time.Duration) error {
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal cached answer: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store cached answer: %w", err)
	}
	return nil
}

// Invalidate removes every cached answer for a tenant. Used when the
// tenant's policy changes so stale passes are not replayed.
func (c *ResponseCache) Invalidate(ctx context.Context, tenantID string) error {
	pattern := fmt.Sprintf("%s:%s:*", keyPrefix, tenantID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("evict %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Close releases the Redis connection.
func (c *ResponseCache) Close() error {
	return c.client.Close()
}
