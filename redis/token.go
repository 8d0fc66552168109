// Package redis reserves idempotency tokens with atomic SET NX EX, backed by
// an optional in-process tier that short-circuits known-reserved tokens
// without a network round-trip.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/outbox"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

type TokenConfig struct {
	// TTL should be at least the retention of the matching Sent row, or a
	// replayed producer could slip a duplicate in after the key expires.
	TTL       time.Duration
	KeyPrefix string
	// LocalCacheCapacity > 0 enables the in-process tier.
	LocalCacheCapacity int
}

func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		TTL:       24 * time.Hour,
		KeyPrefix: "i_token",
	}
}

type TokenCache struct {
	client *redis.Client
	cfg    TokenConfig
	local  *expirable.LRU[string, struct{}]
}

func NewTokenCache(client *redis.Client, cfg TokenConfig) *TokenCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "i_token"
	}

	c := &TokenCache{client: client, cfg: cfg}
	if cfg.LocalCacheCapacity > 0 {
		c.local = expirable.NewLRU[string, struct{}](cfg.LocalCacheCapacity, nil, cfg.TTL)
	}
	return c
}

// TryReserve returns true iff this call was the first reservation of token
// within its TTL. A Redis failure surfaces as an error: the caller treats it
// as a hard stop rather than silently skipping dedup.
func (c *TokenCache) TryReserve(ctx context.Context, token outbox.IdempotencyToken) (bool, error) {
	key := c.cfg.KeyPrefix + ":" + string(token)

	if c.local != nil {
		if _, known := c.local.Get(string(token)); known {
			return false, nil
		}
	}

	ok, err := c.client.SetNX(ctx, key, 1, c.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis reserve token: %w", err)
	}

	// The local tier is populated only on a confirmed remote reservation, so
	// it never manufactures false negatives across replicas.
	if ok && c.local != nil {
		c.local.Add(string(token), struct{}{})
	}
	return ok, nil
}
