// Package broadcast delivers alerts to live connections, isolated per tenant.
//
// The Hub keeps one connection set per tenant. The registry lock only guards
// the tenant map; membership and snapshots take the tenant's own lock, and
// sends happen with no lock held, so a slow tenant never stalls another.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/metrics"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

var (
	// ErrHubClosed is returned by Connect after Close.
	ErrHubClosed = errors.New("broadcast: hub closed")
	// ErrNoTenant is returned when connecting without a tenant id.
	ErrNoTenant = errors.New("broadcast: empty tenant id")
)

// Conn is a live channel owned by one tenant.
type Conn interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Frame types
const (
	FrameFraudAlert            = "fraud_alert"
	FrameConnectionEstablished = "connection_established"
	FramePong                  = "pong"
)

// Frame is the envelope of every outbound message.
type Frame struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TenantID  string      `json:"tenant_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Result counts the outcome of one Broadcast.
type Result struct {
	Delivered int
	Failed    int
}

type tenantSet struct {
	mu    sync.Mutex
	conns map[string]Conn
	// dead is set once the set has been emptied and is about to leave the
	// registry; Connect must then start over with a fresh set.
	dead atomic.Bool
}

// Hub is the tenant id → connection set registry.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	tenants map[string]*tenantSet
	closed  bool

	total atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		logger:  logger.Named("hub"),
		metrics: m,
		tenants: make(map[string]*tenantSet),
	}
}

func (h *Hub) getOrCreate(tenant string) (*tenantSet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	set := h.tenants[tenant]
	if set == nil || set.dead.Load() {
		set = &tenantSet{conns: make(map[string]Conn)}
		h.tenants[tenant] = set
	}
	return set, nil
}

func (h *Hub) lookup(tenant string) *tenantSet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tenants[tenant]
}

// Connect registers c under tenant.
func (h *Hub) Connect(c Conn, tenant string) error {
	if tenant == "" {
		return ErrNoTenant
	}
	for {
		set, err := h.getOrCreate(tenant)
		if err != nil {
			return err
		}

		set.mu.Lock()
		if set.dead.Load() {
			set.mu.Unlock()
			continue
		}
		_, exists := set.conns[c.ID()]
		set.conns[c.ID()] = c
		set.mu.Unlock()

		if !exists {
			h.metrics.ActiveConnections.Set(float64(h.total.Add(1)))
		}
		h.logger.Debug("connection registered", zap.String("tenant", tenant), zap.String("conn", c.ID()))
		return nil
	}
}

// Disconnect removes c from tenant. The tenant entry goes away with its last
// connection. Unknown connections are ignored.
func (h *Hub) Disconnect(c Conn, tenant string) {
	set := h.lookup(tenant)
	if set == nil {
		return
	}

	set.mu.Lock()
	if _, ok := set.conns[c.ID()]; !ok {
		set.mu.Unlock()
		return
	}
	delete(set.conns, c.ID())
	empty := len(set.conns) == 0
	if empty {
		set.dead.Store(true)
	}
	set.mu.Unlock()

	h.metrics.ActiveConnections.Set(float64(h.total.Add(-1)))

	if empty {
		h.mu.Lock()
		if h.tenants[tenant] == set {
			delete(h.tenants, tenant)
		}
		h.mu.Unlock()
	}
	h.logger.Debug("connection removed", zap.String("tenant", tenant), zap.String("conn", c.ID()))
}

// Broadcast sends alert to every connection of tenant. Connections that fail
// are disconnected and closed after the pass; other tenants are not touched.
func (h *Hub) Broadcast(ctx context.Context, tenant string, alert *models.Alert) (Result, error) {
	set := h.lookup(tenant)
	if set == nil {
		return Result{}, nil
	}

	set.mu.Lock()
	snapshot := make([]Conn, 0, len(set.conns))
	for _, c := range set.conns {
		snapshot = append(snapshot, c)
	}
	set.mu.Unlock()

	if len(snapshot) == 0 {
		return Result{}, nil
	}

	frame, err := EncodeFrame(Frame{
		Type:      FrameFraudAlert,
		Timestamp: time.Now().UTC(),
		Payload:   alert,
	})
	if err != nil {
		return Result{}, err
	}

	failed := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, c := range snapshot {
		wg.Add(1)
		go func(i int, c Conn) {
			defer wg.Done()
			failed[i] = c.Send(ctx, frame)
		}(i, c)
	}
	wg.Wait()

	var res Result
	for i, c := range snapshot {
		if failed[i] == nil {
			res.Delivered++
			continue
		}
		res.Failed++
		h.logger.Warn("delivery failed, dropping connection",
			zap.String("tenant", tenant),
			zap.String("conn", c.ID()),
			zap.Error(failed[i]))
		h.Disconnect(c, tenant)
		_ = c.Close()
	}

	h.metrics.Deliveries.WithLabelValues("ok").Add(float64(res.Delivered))
	h.metrics.Deliveries.WithLabelValues("failed").Add(float64(res.Failed))
	return res, nil
}

// Count returns the number of connections for tenant.
func (h *Hub) Count(tenant string) int {
	set := h.lookup(tenant)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}

// Total returns the number of connections across all tenants.
func (h *Hub) Total() int {
	return int(h.total.Load())
}

// Counts returns connection counts keyed by tenant.
func (h *Hub) Counts() map[string]int {
	h.mu.RLock()
	sets := make(map[string]*tenantSet, len(h.tenants))
	for t, s := range h.tenants {
		sets[t] = s
	}
	h.mu.RUnlock()

	out := make(map[string]int, len(sets))
	for t, s := range sets {
		s.mu.Lock()
		if n := len(s.conns); n > 0 {
			out[t] = n
		}
		s.mu.Unlock()
	}
	return out
}

// Close refuses new connections and closes every registered one.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	tenants := h.tenants
	h.tenants = make(map[string]*tenantSet)
	h.mu.Unlock()

	var closed int
	for _, set := range tenants {
		set.mu.Lock()
		set.dead.Store(true)
		conns := set.conns
		set.conns = make(map[string]Conn)
		set.mu.Unlock()

		for _, c := range conns {
			_ = c.Close()
			closed++
		}
	}
	h.total.Store(0)
	h.metrics.ActiveConnections.Set(0)
	h.logger.Info("hub closed", zap.Int("connections", closed))
}

// EncodeFrame renders f as a text message.
func EncodeFrame(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}
