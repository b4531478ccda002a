// Package gateway exposes watch status over HTTP, streams cycle reports over
// WebSocket and serves Prometheus metrics.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// historySize is how many cycle reports are kept for new WebSocket clients
// and /api/v1/cycles.
const historySize = 50

// Watch is the scheduler view the gateway needs. *pipeline.Scheduler
// implements it.
type Watch interface {
	Name() string
	State() pipeline.State
	Paused() bool
	Pause()
	Resume()
	Cache() *pipeline.ProcessedCache
	LastReport() *pipeline.CycleReport
}

// Server is the status gateway. It is safe for concurrent use.
type Server struct {
	config     *Config
	authConfig *AuthConfig
	version    string
	sessions   *SessionManager
	router     *Router
	metrics    *Metrics
	upgrader   websocket.Upgrader
	server     *http.Server
	startedAt  time.Time
	now        func() time.Time

	mu      sync.RWMutex
	running bool
	watches []Watch
	history []pipeline.CycleReport
}

// Config holds gateway server configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Host    string `yaml:"host" toml:"host"`
	Port    int    `yaml:"port" toml:"port"`
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerOption is a functional option for configuring Server.
type ServerOption func(*Server)

// WithAuthConfig protects /api/v1/*, /metrics and /ws.
func WithAuthConfig(auth *AuthConfig) ServerOption {
	return func(s *Server) {
		s.authConfig = auth
	}
}

// WithVersion sets the version reported by /api/v1/status.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithWatches registers the watches to expose.
func WithWatches(watches ...Watch) ServerOption {
	return func(s *Server) {
		s.watches = append(s.watches, watches...)
	}
}

// NewServer creates a gateway server. The server is not started until Start
// is called.
func NewServer(config *Config, opts ...ServerOption) *Server {
	s := &Server{
		config:   config,
		version:  "dev",
		sessions: NewSessionManager(),
		router:   NewRouter(),
		metrics:  NewMetrics(),
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
	s.startedAt = s.now()
	for _, opt := range opts {
		opt(s)
	}

	s.router.RegisterMessageHandler(MessageTypeStatus, s.handleStatusMessage)
	s.router.RegisterMessageHandler(MessageTypePause, s.handlePauseMessage(true))
	s.router.RegisterMessageHandler(MessageTypeResume, s.handlePauseMessage(false))
	return s
}

// AddWatch registers a watch after construction.
func (s *Server) AddWatch(w Watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches = append(s.watches, w)
}

// Publish records a finished cycle and pushes it to connected clients.
// Register it with Scheduler.OnCycle.
func (s *Server) Publish(report pipeline.CycleReport) {
	s.metrics.Observe(report)

	s.mu.Lock()
	s.history = append(s.history, report)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.mu.Unlock()

	msg, err := newMessage(MessageTypeCycle, report)
	if err != nil {
		return
	}
	s.sessions.Broadcast(msg)
}

// History returns recent cycle reports, oldest first.
func (s *Server) History() []pipeline.CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pipeline.CycleReport(nil), s.history...)
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	protect := func(h http.HandlerFunc) http.Handler { return h }
	if s.authConfig != nil && s.authConfig.Type != AuthTypeNone {
		auth := NewAuthenticator(s.authConfig)
		protect = func(h http.HandlerFunc) http.Handler { return auth.Middleware(h) }
	}

	mux.Handle("GET /ws", protect(s.handleWebSocket))
	mux.Handle("GET /metrics", protect(s.handleMetrics))
	mux.Handle("GET /api/v1/status", protect(s.handleStatus))
	mux.Handle("GET /api/v1/cycles", protect(s.handleCycles))
	mux.Handle("POST /api/v1/watches/{name}/pause", protect(s.handlePause(true)))
	mux.Handle("POST /api/v1/watches/{name}/resume", protect(s.handlePause(false)))
	return mux
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	logging.WithComponent("gateway").Info("Gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown closes WebSocket sessions and stops the HTTP server with a
// 10-second grace period.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.sessions.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// WatchStatus is one watch in /api/v1/status.
type WatchStatus struct {
	Name      string                `json:"name"`
	State     string                `json:"state"`
	Paused    bool                  `json:"paused"`
	CacheSize int                   `json:"cache_size"`
	LastCycle *pipeline.CycleReport `json:"last_cycle,omitempty"`
}

// StatusResponse is the /api/v1/status body.
type StatusResponse struct {
	Version  string        `json:"version"`
	Uptime   string        `json:"uptime"`
	Sessions int           `json:"sessions"`
	Watches  []WatchStatus `json:"watches"`
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	watches := append([]Watch(nil), s.watches...)
	s.mu.RUnlock()

	resp := StatusResponse{
		Version:  s.version,
		Uptime:   s.now().Sub(s.startedAt).Round(time.Second).String(),
		Sessions: s.sessions.Count(),
		Watches:  make([]WatchStatus, 0, len(watches)),
	}
	for _, w := range watches {
		resp.Watches = append(resp.Watches, WatchStatus{
			Name:      w.Name(),
			State:     w.State().String(),
			Paused:    w.Paused(),
			CacheSize: w.Cache().Len(),
			LastCycle: w.LastReport(),
		})
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": s.History()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	watches := append([]Watch(nil), s.watches...)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = s.metrics.WritePrometheus(w, watches)
}

func (s *Server) handlePause(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if !s.setPaused(name, pause) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown watch: " + name})
			return
		}
		writeJSON(w, http.StatusOK, s.status())
	}
}

// setPaused pauses or resumes the named watch, or all watches for "" and
// "all". It reports whether any watch matched.
func (s *Server) setPaused(name string, pause bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := false
	for _, w := range s.watches {
		if name != "" && name != "all" && w.Name() != name {
			continue
		}
		matched = true
		if pause {
			w.Pause()
		} else {
			w.Resume()
		}
	}
	if matched {
		logging.WithComponent("gateway").Info("Watch state changed",
			slog.String("watch", name), slog.Bool("paused", pause))
	}
	return matched
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
