// Package relay gets alerts from the instance that produced them to every
// instance holding live connections for the tenant.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/broadcast"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// DefaultChannel is the Redis channel alerts are relayed on.
const DefaultChannel = "guardian:alerts"

const (
	initialResubscribeDelay = time.Second
	maxResubscribeDelay     = 30 * time.Second

	// fallbackTTL bounds how long a locally delivered alert is remembered
	// in case its publish went through after all.
	fallbackTTL = 5 * time.Minute
)

// Broadcaster is the local hub.
type Broadcaster interface {
	Broadcast(ctx context.Context, tenant string, alert *models.Alert) (broadcast.Result, error)
}

// Deliverer hands an alert to live viewers.
type Deliverer interface {
	Deliver(ctx context.Context, alert *models.Alert) error
}

// Direct delivers to the local hub only.
type Direct struct {
	hub    Broadcaster
	logger *zap.Logger
}

// NewDirect creates a single-instance deliverer.
func NewDirect(hub Broadcaster, logger *zap.Logger) *Direct {
	return &Direct{hub: hub, logger: logger.Named("relay")}
}

// Deliver broadcasts alert to its tenant on this instance.
func (d *Direct) Deliver(ctx context.Context, alert *models.Alert) error {
	res, err := d.hub.Broadcast(ctx, alert.TenantID, alert)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", alert.ID, err)
	}
	d.logger.Debug("alert delivered",
		zap.String("alert", alert.ID),
		zap.String("tenant", alert.TenantID),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed))
	return nil
}

// Redis publishes alerts on a channel that every instance subscribes to.
type Redis struct {
	client  *redis.Client
	channel string
	local   *Direct
	logger  *zap.Logger

	mu       sync.Mutex
	fallback map[string]time.Time // alert id -> local delivery time
}

// NewRedis creates a relay over client. Run must be started for this
// instance to receive anything.
func NewRedis(client *redis.Client, channel string, local *Direct, logger *zap.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:   client,
		channel:  channel,
		local:    local,
		logger:   logger.Named("relay"),
		fallback: make(map[string]time.Time),
	}
}

// Deliver publishes alert. When publishing fails the alert is delivered to
// local connections and remembered, so a publish that did reach Redis is not
// delivered here a second time.
func (r *Redis) Deliver(ctx context.Context, alert *models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish failed, delivering locally", zap.String("alert", alert.ID), zap.Error(err))
		r.markLocal(alert.ID, time.Now())
		return r.local.Deliver(ctx, alert)
	}
	return nil
}

func (r *Redis) markLocal(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, at := range r.fallback {
		if now.Sub(at) > fallbackTTL {
			delete(r.fallback, k)
		}
	}
	r.fallback[id] = now
}

// deliveredLocally reports whether id already went out through the fallback
// and forgets it.
func (r *Redis) deliveredLocally(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fallback[id]; !ok {
		return false
	}
	delete(r.fallback, id)
	return true
}

// Run subscribes and feeds relayed alerts to the local hub until ctx ends.
// A broken subscription is re-established with backoff.
func (r *Redis) Run(ctx context.Context) error {
	delay := initialResubscribeDelay
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("subscription lost, resubscribing", zap.Error(err), zap.Duration("in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
			delay *= 2
			if delay > maxResubscribeDelay {
				delay = maxResubscribeDelay
			}
		}
	}
}

func (r *Redis) listen(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay listener started", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("channel %s closed", r.channel)
			}
			r.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Redis) handle(ctx context.Context, payload string) {
	var alert models.Alert
	if err := json.Unmarshal([]byte(payload), &alert); err != nil {
		r.logger.Warn("dropping undecodable relayed alert", zap.Error(err))
		return
	}
	if alert.TenantID == "" {
		r.logger.Warn("dropping relayed alert without tenant", zap.String("alert", alert.ID))
		return
	}
	if r.deliveredLocally(alert.ID) {
		r.logger.Debug("skipping alert already delivered locally", zap.String("alert", alert.ID))
		return
	}
	if err := r.local.Deliver(ctx, &alert); err != nil {
		r.logger.Warn("local delivery failed", zap.String("alert", alert.ID), zap.Error(err))
	}
}
