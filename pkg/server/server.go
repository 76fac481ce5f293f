// Package server exposes the HTTP surface: live alerts, token issuance and
// verification, health, stats and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/auth"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/verifier"
)

const maxBodyBytes = 1 << 20

// StateStore remembers the last trusted state of each item.
type StateStore interface {
	Get(ctx context.Context, itemID string) (models.TokenState, bool)
	Set(ctx context.Context, itemID string, state models.TokenState)
}

// TenantLookup maps a facility to its owning tenant, or "" when unknown.
type TenantLookup interface {
	Resolve(facilityID string) string
}

// Config is the listener configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Deps wires the handlers. States, Tenants, Stats and Gatherer may be nil.
type Deps struct {
	Verifier *verifier.Verifier
	Auth     *auth.Validator
	Live     http.Handler
	States   StateStore
	Tenants  TenantLookup
	Stats    func() map[string]any
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the HTTP front of one instance.
type Server struct {
	cfg    Config
	d      Deps
	router *chi.Mux
	logger *zap.Logger
}

// New builds the router.
func New(cfg Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		d:      d,
		router: chi.NewRouter(),
		logger: d.Logger.Named("http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/stats", s.stats)
		r.Handle("/metrics", promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{}))
		// The live endpoint authenticates before upgrading.
		if s.d.Live != nil {
			r.Handle("/ws", s.d.Live)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.d.Auth, s.logger))
		r.Use(middleware.AllowContentType("application/json"))

		r.Route("/v1/tokens", func(r chi.Router) {
			r.Post("/", s.issueToken)
			r.Post("/verify", s.verifyToken)
		})
	})
}

// ServeHTTP makes Server a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{}
	if s.d.Stats != nil {
		out = s.d.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
