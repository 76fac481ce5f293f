// Package statecache remembers the last trusted lifecycle state of each item.
//
// A state becomes trusted when a token is issued for it or when a token
// claiming it verifies cleanly. Scan points that do not know what to expect
// use it as the expected state.
package statecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

const (
	// DefaultLocalTTL bounds how long a state is served from memory.
	DefaultLocalTTL = 5 * time.Minute
	// DefaultRedisTTL is how long Redis keeps a state after its last write.
	DefaultRedisTTL = 30 * 24 * time.Hour
)

type entry struct {
	state models.TokenState
	at    time.Time
}

// Cache is a local TTL map in front of an optional Redis client.
type Cache struct {
	redis    *redis.Client
	logger   *zap.Logger
	localTTL time.Duration
	redisTTL time.Duration

	local sync.Map // item id -> entry
}

// New creates a cache. client may be nil, in which case states live only in
// memory for the local TTL.
func New(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		redis:    client,
		logger:   logger.Named("statecache"),
		localTTL: DefaultLocalTTL,
		redisTTL: DefaultRedisTTL,
	}
}

// Key returns the Redis key for an item.
func Key(itemID string) string {
	return "guardian:item:" + itemID + ":state"
}

// Get returns the trusted state for itemID, if any.
func (c *Cache) Get(ctx context.Context, itemID string) (models.TokenState, bool) {
	if v, ok := c.local.Load(itemID); ok {
		e := v.(entry)
		if time.Since(e.at) < c.localTTL {
			return e.state, true
		}
	}

	if c.redis == nil {
		return "", false
	}

	val, err := c.redis.Get(ctx, Key(itemID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.String("item", itemID), zap.Error(err))
		}
		return "", false
	}

	state := models.TokenState(val)
	if !state.Valid() {
		return "", false
	}
	c.local.Store(itemID, entry{state: state, at: time.Now()})
	return state, true
}

// Set records state as the trusted state of itemID.
func (c *Cache) Set(ctx context.Context, itemID string, state models.TokenState) {
	c.local.Store(itemID, entry{state: state, at: time.Now()})

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, Key(itemID), string(state), c.redisTTL).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("item", itemID), zap.Error(err))
	}
}

// Sweep drops expired local entries and returns how many are left.
func (c *Cache) Sweep() int {
	var left int
	c.local.Range(func(k, v any) bool {
		if time.Since(v.(entry).at) >= c.localTTL {
			c.local.Delete(k)
		} else {
			left++
		}
		return true
	})
	return left
}
