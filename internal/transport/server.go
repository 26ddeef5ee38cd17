package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/rickgao/taprace/internal/codec"
	"github.com/rickgao/taprace/internal/connection"
	"github.com/rickgao/taprace/internal/model"
	"github.com/rickgao/taprace/internal/room"
	"github.com/rickgao/taprace/internal/version"
)

// Config configures the HTTP server.
type Config struct {
	ListenAddr        string
	ConnectPath       string
	AllowedOrigins    []string // "*" allows any origin
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Session           connection.SessionConfig
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics serves h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// Server accepts WebSocket sessions and serves the health endpoints.
type Server struct {
	cfg      Config
	store    *room.Store
	registry *connection.Registry
	handler  connection.Handler
	logger   *slog.Logger

	metricsPath string
	metrics     http.Handler

	upgrader websocket.Upgrader
	origins  map[string]bool
	anyOrig  bool

	// Sessions outlive the HTTP listener; base is cancelled only when
	// Wait gives up on them.
	base       context.Context
	cancelBase context.CancelFunc
	sessions   sync.WaitGroup
	accepted   sync.Mutex
	closing    bool

	httpServer *http.Server
}

// New creates a Server. handler receives every frame from every session.
func New(cfg Config, store *room.Store, registry *connection.Registry, handler connection.Handler, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		handler:  handler,
		logger:   slog.Default(),
		origins:  make(map[string]bool, len(cfg.AllowedOrigins)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			s.anyOrig = true
		}
		s.origins[o] = true
	}

	s.upgrader = websocket.Upgrader{
		Subprotocols: codec.Subprotocols(),
		CheckOrigin:  s.checkOrigin,
	}
	s.base, s.cancelBase = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(s.cfg.ConnectPath, s.ServeWS)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})
	mux.Handle("/health", c.Handler(http.HandlerFunc(s.serveHealth)))
	mux.Handle("/debug/rooms", c.Handler(http.HandlerFunc(s.serveRooms)))

	if s.metrics != nil {
		mux.Handle(s.metricsPath, s.metrics)
	}
	return mux
}

// ServeWS upgrades the request and runs a session until it ends.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	s.accepted.Lock()
	if s.closing {
		s.accepted.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.sessions.Add(1)
	s.accepted.Unlock()
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	fc := codec.ForSubprotocol(conn.Subprotocol())
	session := connection.NewSession(id, conn, fc, s.cfg.Session, s.logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	s.logger.Debug("session accepted",
		"conn_id", id,
		"remote", r.RemoteAddr,
		"subprotocol", fc.Subprotocol(),
	)

	if err := session.Run(ctx, s.registry, s.handler); err != nil {
		s.logger.Info("session ended", "conn_id", id, "error", err)
		return
	}
	s.logger.Debug("session ended", "conn_id", id)
}

// Run listens on ListenAddr until ctx is cancelled, then stops accepting.
// Open sessions keep running; close them through the registry and call Wait.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String(), "ws_path", s.cfg.ConnectPath)
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.accepted.Lock()
	s.closing = true
	s.accepted.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Wait blocks until every session has ended. When ctx expires first the
// remaining sessions are cancelled.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("sessions still open at shutdown deadline, cancelling")
		s.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.anyOrig {
		return true
	}
	if s.origins[origin] {
		return true
	}
	s.logger.Warn("origin rejected", "origin", origin, "remote", r.RemoteAddr)
	return false
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Rooms       int    `json:"rooms"`
	Players     int    `json:"players"`
	Connections int    `json:"connections"`
	Topics      int    `json:"topics"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	rooms := s.store.Stats()
	conns := s.registry.Stats()

	s.accepted.Lock()
	status := "healthy"
	if s.closing {
		status = "draining"
	}
	s.accepted.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(healthResponse{
		Status:      status,
		Version:     version.Version,
		Rooms:       rooms.Rooms,
		Players:     rooms.Players,
		Connections: conns.Connections,
		Topics:      conns.Topics,
	})
}

type roomView struct {
	RoomID   string         `json:"roomId"`
	Phase    model.Phase    `json:"phase"`
	HostID   string         `json:"hostId"`
	WinnerID string         `json:"winnerId,omitempty"`
	Capacity int            `json:"capacity"`
	Target   int            `json:"target"`
	Version  uint64         `json:"version"`
	Players  []model.Player `json:"players"`
}

func (s *Server) serveRooms(w http.ResponseWriter, r *http.Request) {
	snaps := s.store.List()

	// Limit to first 100 for debugging
	limit := 100
	showing := snaps
	if len(showing) > limit {
		showing = showing[:limit]
	}

	views := make([]roomView, 0, len(showing))
	for _, snap := range showing {
		views = append(views, roomView{
			RoomID:   snap.RoomID,
			Phase:    snap.Phase,
			HostID:   snap.HostID,
			WinnerID: snap.WinnerID,
			Capacity: snap.Capacity,
			Target:   snap.Target,
			Version:  snap.Version,
			Players:  snap.Players,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(snaps),
		"showing": len(views),
		"rooms":   views,
	})
}
