package broadcast

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TenantAuthenticator resolves the tenant a request is acting for.
type TenantAuthenticator interface {
	TenantFromRequest(r *http.Request) (string, error)
}

// HandlerConfig tunes the live endpoint.
type HandlerConfig struct {
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Handler upgrades authenticated requests and serves them until they close.
type Handler struct {
	ctx      context.Context
	hub      *Hub
	auth     TenantAuthenticator
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the websocket endpoint. ctx bounds the lifetime of every
// connection it serves.
func NewHandler(ctx context.Context, hub *Hub, auth TenantAuthenticator, cfg HandlerConfig, logger *zap.Logger) *Handler {
	h := &Handler{
		ctx:    ctx,
		hub:    hub,
		auth:   auth,
		cfg:    cfg,
		logger: logger.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.auth.TenantFromRequest(r)
	if err != nil {
		h.logger.Info("rejected live connection", zap.Error(err), zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, tenant, h.logger, h.cfg.PingInterval, h.cfg.WriteTimeout)

	stop := context.AfterFunc(h.ctx, func() { client.Close() })
	defer stop()

	if err := client.Serve(h.ctx, h.hub); err != nil {
		client.logger.Debug("live connection ended", zap.Error(err))
	}
}
