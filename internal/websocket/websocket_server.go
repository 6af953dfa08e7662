package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsmanager"
)

// Server implements the wsmanager.Server interface
type Server struct {
	addr    string
	path    string
	handler *Handler
	logger  Logger

	mu       sync.RWMutex
	running  bool
	server   *http.Server
	listener net.Listener
	stopped  chan struct{}
}

var _ wsmanager.Server = (*Server)(nil)

// New creates a new WebSocket server instance with the specified configuration.
//
// Zero fields of cfg take their defaults: path "/ws", DefaultRateLimitConfig(),
// the default codec, 1024 byte buffers, a 54s ping interval, a 60s pong wait and
// a 10s write wait.
//
// Example:
//
//	server := New(&ServerConfig{
//	    Addr:      ":8080",
//	    OnConnect: func(conn wsmanager.Connection) {
//	        log.Printf("Client connected: %s", conn.ID())
//	    },
//	})
func New(cfg *ServerConfig) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		addr:    cfg.Addr,
		path:    cfg.Path,
		handler: NewHandler(cfg),
		logger:  cfg.Logger,
	}
}

// Handler returns the dispatcher the server mounts.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Addr returns the address the server listens on, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start starts the WebSocket server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return wsmanager.ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.handler)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = ln
	s.running = true
	stopped := make(chan struct{})
	s.stopped = stopped
	server := s.server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("websocket server stopped: %v", err)
		}
	}()

	// The server keeps running until Stop is called or ctx is cancelled
	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.Stop(stopCtx)
		case <-stopped:
		}
	}()

	s.logger.Infof("websocket server listening on %s%s", ln.Addr(), s.path)
	return nil
}

// Stop stops the WebSocket server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	close(s.stopped)
	s.mu.Unlock()

	// Close all client connections
	for _, conn := range s.handler.registry.CloseAll(ctx, websocket.CloseGoingAway, wsmanager.CloseReasonServerStopping) {
		if s.handler.cfg.OnClientDisconnect != nil {
			s.handler.cfg.OnClientDisconnect(conn, false)
		}
	}

	return server.Shutdown(ctx)
}

// RegisterMethod registers a method clients may invoke by name.
func (s *Server) RegisterMethod(name string, fn any) error {
	return s.handler.RegisterMethod(name, fn)
}

// Connection returns a connection by ID
func (s *Server) Connection(id string) (wsmanager.Connection, bool) {
	conn, ok := s.handler.registry.Get(id)
	if !ok {
		return nil, false
	}
	return conn, true
}

// Connections returns the open connections
func (s *Server) Connections() []wsmanager.Connection {
	open := s.handler.registry.OpenConnections()
	out := make([]wsmanager.Connection, len(open))
	for i, conn := range open {
		out[i] = conn
	}
	return out
}

// Send sends a message to a specific connection
func (s *Server) Send(ctx context.Context, id string, msg wsmanager.Message) error {
	return s.handler.Send(ctx, id, msg)
}

// Broadcast sends a message to all matching connections
func (s *Server) Broadcast(ctx context.Context, msg wsmanager.Message, pred wsmanager.Predicate) error {
	return s.handler.Broadcast(ctx, msg, pred)
}

// InvokeRemote asks the client registered under id to run method
func (s *Server) InvokeRemote(ctx context.Context, id string, method string, args ...any) error {
	return s.handler.InvokeRemote(ctx, id, method, args...)
}

// InvokeRemoteToAll asks every open client matching pred to run method.
// A nil pred matches all of them.
func (s *Server) InvokeRemoteToAll(ctx context.Context, method string, pred wsmanager.Predicate, args ...any) error {
	return s.handler.InvokeRemoteToAll(ctx, method, pred, args...)
}

// Disconnect removes a connection and closes it
func (s *Server) Disconnect(ctx context.Context, id string) {
	s.handler.OnDisconnected(ctx, id)
}
