package statecache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

func TestCache_LocalOnly(t *testing.T) {
	c := New(nil, zap.NewNop())
	ctx := context.Background()

	_, ok := c.Get(ctx, "ITEM-1")
	assert.False(t, ok)

	c.Set(ctx, "ITEM-1", models.StateReadyForDispatch)
	state, ok := c.Get(ctx, "ITEM-1")
	assert.True(t, ok)
	assert.Equal(t, models.StateReadyForDispatch, state)

	c.Set(ctx, "ITEM-1", models.StateDispatched)
	state, _ = c.Get(ctx, "ITEM-1")
	assert.Equal(t, models.StateDispatched, state)
}

func TestCache_LocalExpiry(t *testing.T) {
	c := New(nil, zap.NewNop())
	c.localTTL = 10 * time.Millisecond
	ctx := context.Background()

	c.Set(ctx, "ITEM-1", models.StateInFacility)
	c.Set(ctx, "ITEM-2", models.StateInFacility)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, "ITEM-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Sweep())
}

func TestCache_RedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := New(client, zap.NewNop())
	ctx := context.Background()

	_, ok := c.Get(ctx, "ITEM-1")
	assert.False(t, ok)

	// writes still land locally
	c.Set(ctx, "ITEM-1", models.StateInFacility)
	state, ok := c.Get(ctx, "ITEM-1")
	assert.True(t, ok)
	assert.Equal(t, models.StateInFacility, state)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "guardian:item:3C-LAPTOP-001:state", Key("3C-LAPTOP-001"))
}
