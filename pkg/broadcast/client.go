package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxInboundMessage   = 4096
)

// ErrNotActive is returned by Send on a connection that is not Active.
var ErrNotActive = errors.New("broadcast: connection not active")

// State is the lifecycle of a live connection.
type State int32

// Connection states. Transitions only go forward.
const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Client is a websocket connection registered in the hub.
type Client struct {
	id     string
	tenant string
	conn   *websocket.Conn
	logger *zap.Logger

	pingInterval time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded websocket connection. It starts in
// StateConnecting.
func NewClient(conn *websocket.Conn, tenant string, logger *zap.Logger, pingInterval, writeTimeout time.Duration) *Client {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	id := uuid.New().String()
	return &Client{
		id:           id,
		tenant:       tenant,
		conn:         conn,
		logger:       logger.With(zap.String("conn", id), zap.String("tenant", tenant)),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Tenant returns the owning tenant.
func (c *Client) Tenant() string { return c.tenant }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Send writes one text frame. It fails unless the connection is Active.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	return c.write(ctx, websocket.TextMessage, frame)
}

func (c *Client) write(ctx context.Context, messageType int, data []byte) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(messageType, data)
}

// Close moves the connection to StateClosed and releases the socket. It is
// safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// Serve announces the connection, registers it in hub and blocks reading
// heartbeats until the peer goes away or the connection is closed.
func (c *Client) Serve(ctx context.Context, hub *Hub) error {
	established, err := EncodeFrame(Frame{
		Type:      FrameConnectionEstablished,
		Timestamp: time.Now().UTC(),
		TenantID:  c.tenant,
	})
	if err != nil {
		return err
	}
	if err := c.write(ctx, websocket.TextMessage, established); err != nil {
		c.Close()
		return fmt.Errorf("send connection_established: %w", err)
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return ErrNotActive
	}
	if err := hub.Connect(c, c.tenant); err != nil {
		c.Close()
		return err
	}
	defer func() {
		hub.Disconnect(c, c.tenant)
		c.Close()
	}()

	c.logger.Info("live connection established")

	go c.pingLoop()
	return c.readLoop()
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop answers heartbeats. Alerts never flow through here.
func (c *Client) readLoop() error {
	c.conn.SetReadLimit(maxInboundMessage)
	readTimeout := 2 * c.pingInterval
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pong, err := EncodeFrame(Frame{Type: FramePong, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.State() == StateClosed {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage || !isPing(message) {
			continue
		}
		if err := c.write(context.Background(), websocket.TextMessage, pong); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}
	}
}

// isPing accepts the bare text "ping" or a {"type":"ping"} object.
func isPing(message []byte) bool {
	message = bytes.TrimSpace(message)
	if string(message) == "ping" {
		return true
	}
	var f struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(message, &f) == nil && f.Type == "ping"
}
