// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/rigrun-relay/internal/config"
	"github.com/jeranaias/rigrun-relay/internal/ollama"
	"github.com/jeranaias/rigrun-relay/internal/relay"
	"github.com/jeranaias/rigrun-relay/internal/session"
	"github.com/jeranaias/rigrun-relay/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultRequestTimeout bounds one-shot upstream calls when the config sets none.
	DefaultRequestTimeout = 30 * time.Second

	// healthTimeout bounds the Ollama probe in /health.
	healthTimeout = 2 * time.Second

	// shutdownGrace is how long Serve waits for channels to drain on shutdown.
	shutdownGrace = 10 * time.Second
)

// ============================================================================
// RESPONSE ENVELOPE
// ============================================================================

// Envelope wraps every one-shot response.
type Envelope struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Error   *relay.ErrorPayload `json:"error,omitempty"`
}

// ============================================================================
// SERVER
// ============================================================================

// Ledger is the read side of the operation ledger.
type Ledger interface {
	Summary(ctx context.Context) (storage.Summary, error)
	Recent(ctx context.Context, n int) ([]storage.OperationRecord, error)
}

// Options configures a Server.
type Options struct {
	Store   *config.Store
	Client  *ollama.Client
	Manager *session.Manager

	// Ledger is optional; /stats omits ledger data without it.
	Ledger Ledger

	// Logger defaults to log.Default().
	Logger *log.Logger

	// Version is reported by /health.
	Version string
}

// Server is the HTTP and websocket front of the relay.
type Server struct {
	opts     Options
	router   *chi.Mux
	upgrader websocket.Upgrader
	limiter  *RateLimiter
	flight   singleflight.Group

	startTime time.Time

	// ctx is cancelled on shutdown; open channels abort their operations.
	ctx      context.Context
	cancel   context.CancelFunc
	channels sync.WaitGroup

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// New creates a server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		opts.Store = config.NewStore(nil, "")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Client == nil {
		opts.Client = ollama.NewClient().
			WithBaseURLFunc(opts.Store.BaseURL).
			WithCatalogURLFunc(opts.Store.CatalogURL)
	}
	if opts.Manager == nil {
		return nil, errors.New("server: Options.Manager is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		limiter:   NewRateLimiter(opts.Store.Current().Server.RateLimitPerMinute),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return OriginAllowed(r.Header.Get("Origin"), s.allowedOrigins())
		},
	}

	opts.Store.OnChange(func(cfg *config.Config) {
		s.limiter.SetLimit(cfg.Server.RateLimitPerMinute)
	})

	s.setupRoutes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) authToken() string {
	return s.opts.Store.Current().Server.AuthToken
}

func (s *Server) allowedOrigins() []string {
	return s.opts.Store.Current().Server.AllowedOrigins
}

func (s *Server) requestTimeout() time.Duration {
	if d := s.opts.Store.Current().RequestTimeout(); d > 0 {
		return d
	}
	return DefaultRequestTimeout
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(TrustedRealIP)
	r.Use(LoggingMiddleware(s.opts.Logger))
	r.Use(RecoveryMiddleware())
	r.Use(SecurityHeadersMiddleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Liveness stays open so supervisors can probe without the token.
	r.Get("/health", s.handleHealth)

	// Channels: the upgrader checks the origin itself.
	r.Group(func(ch chi.Router) {
		ch.Use(RateLimitMiddleware(s.limiter))
		ch.Use(AuthMiddleware(s.authToken))
		ch.Get("/channel/{name}", s.handleChannel)
	})

	// One-shot API. CORS runs first so preflights never need the token.
	r.Group(func(api chi.Router) {
		api.Use(CORSMiddleware(s.allowedOrigins))
		api.Use(RateLimitMiddleware(s.limiter))
		api.Use(AuthMiddleware(s.authToken))

		api.Options("/api/*", noContent)
		api.Options("/stats", noContent)

		api.Get("/api/models", s.handleModels)
		api.Get("/api/running", s.handleRunning)
		api.Get("/api/version", s.handleVersion)
		api.Post("/api/unload", s.handleUnload)
		api.Get("/api/catalog/model/{name}", s.handleCatalogModel)
		api.Get("/api/catalog/search", s.handleCatalogSearch)
		api.Get("/api/operations", s.handleOperations)
		api.Get("/stats", s.handleStats)
	})

	s.router = r
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// CHANNEL HANDLER
// ============================================================================

// handleChannel handles GET /channel/{name}: it upgrades to a websocket and
// hands the connection to the session manager until the channel closes.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	s.channels.Add(1)
	s.mu.Unlock()
	defer s.channels.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.opts.Logger.Printf("CHANNEL_UPGRADE_FAILED | name=%s ip=%s error=%v", name, GetClientIP(r), err)
		return
	}

	ch := newChannel(name, conn)
	s.opts.Logger.Printf("CHANNEL_ACCEPTED | conn=%s name=%s ip=%s request_id=%s",
		ch.ID(), name, GetClientIP(r), middleware.GetReqID(r.Context()))

	if err := s.opts.Manager.Serve(s.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
		s.opts.Logger.Printf("CHANNEL_ENDED | conn=%s error=%v", ch.ID(), err)
	}
}

// ============================================================================
// ONE-SHOT HANDLERS
// ============================================================================

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.coalesced(w, r, "models", func(ctx context.Context) (any, error) {
		return s.opts.Client.ListModels(ctx)
	})
}

// handleRunning handles GET /api/running.
func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	s.coalesced(w, r, "running", func(ctx context.Context) (any, error) {
		return s.opts.Client.ListRunning(ctx)
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.coalesced(w, r, "version", func(ctx context.Context) (any, error) {
		v, err := s.opts.Client.Version(ctx)
		if err != nil {
			return nil, err
		}
		return ollama.VersionResponse{Version: v}, nil
	})
}

// UnloadRequest is the body of POST /api/unload.
type UnloadRequest struct {
	Model string `json:"model"`
}

// handleUnload handles POST /api/unload.
func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	var req UnloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()

	resp, err := s.opts.Client.Unload(ctx, req.Model)
	if err != nil {
		s.writeUpstreamError(w, r, "unload", err)
		return
	}
	s.opts.Logger.Printf("MODEL_UNLOADED | model=%s ip=%s", req.Model, GetClientIP(r))
	writeData(w, resp)
}

// handleCatalogModel handles GET /api/catalog/model/{name}.
func (s *Server) handleCatalogModel(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "model name is required")
		return
	}
	s.coalesced(w, r, "catalog-model:"+name, func(ctx context.Context) (any, error) {
		return s.opts.Client.CatalogModel(ctx, name)
	})
}

// handleCatalogSearch handles GET /api/catalog/search?q=.
func (s *Server) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	s.coalesced(w, r, "catalog-search:"+q, func(ctx context.Context) (any, error) {
		return s.opts.Client.CatalogSearch(ctx, q)
	})
}

// coalesced runs fn once for all concurrent requests sharing key and writes
// the shared result. The upstream call is detached from any single caller,
// so one client hanging up does not fail the others.
func (s *Server) coalesced(w http.ResponseWriter, r *http.Request, key string, fn func(ctx context.Context) (any, error)) {
	ch := s.flight.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.requestTimeout())
		defer cancel()
		return fn(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.writeUpstreamError(w, r, key, res.Err)
			return
		}
		writeData(w, res.Val)
	case <-r.Context().Done():
		// Client went away; nobody to answer.
	}
}

// writeUpstreamError maps an upstream failure to the error envelope.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	payload, ok := relay.ErrorPayloadFor(err)
	if !ok {
		// Cancelled by the client; it is no longer listening.
		return
	}
	s.opts.Logger.Printf("UPSTREAM_ERROR | op=%s status=%d error=%q request_id=%s",
		op, payload.Status, payload.Message, middleware.GetReqID(r.Context()))

	httpStatus := payload.Status
	if httpStatus < 400 || httpStatus > 599 {
		httpStatus = http.StatusBadGateway
	}
	writeJSON(w, httpStatus, Envelope{Success: false, Error: &payload})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	OllamaStatus  string `json:"ollama_status"`
	OllamaURL     string `json:"ollama_url"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       s.opts.Version,
		OllamaStatus:  "ok",
		OllamaURL:     s.opts.Client.BaseURL(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.opts.Client.CheckRunning(ctx); err != nil {
		health.OllamaStatus = "unavailable"
		health.Status = "degraded"
	}

	writeData(w, health)
}

// ============================================================================
// STATS HANDLERS
// ============================================================================

// StatsResponse represents the relay statistics response.
type StatsResponse struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Sessions      session.Stats    `json:"sessions"`
	Ledger        *storage.Summary `json:"ledger,omitempty"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Sessions:      s.opts.Manager.Stats(),
	}

	if s.opts.Ledger != nil {
		sum, err := s.opts.Ledger.Summary(r.Context())
		if err != nil {
			s.opts.Logger.Printf("LEDGER_ERROR | op=summary error=%v", err)
			writeError(w, http.StatusInternalServerError, "ledger unavailable")
			return
		}
		resp.Ledger = &sum
	}

	writeData(w, resp)
}

// handleOperations handles GET /api/operations?limit=n.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}

	limit := storage.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > storage.MaxRecentLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be 1-%d", storage.MaxRecentLimit))
			return
		}
		limit = n
	}

	records, err := s.opts.Ledger.Recent(r.Context(), limit)
	if err != nil {
		s.opts.Logger.Printf("LEDGER_ERROR | op=recent error=%v", err)
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	writeData(w, records)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.opts.Logger.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), s.opts.Version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown aborts open channels, waits for them to close, then stops the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Logger.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	// Hijacked websocket connections are invisible to http.Server.Shutdown.
	drained := make(chan struct{})
	go func() {
		s.channels.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.opts.Logger.Printf("SERVER_SHUTDOWN | channels still open at deadline")
	}

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Error: &relay.ErrorPayload{Status: status, Message: message}})
}
