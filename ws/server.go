package ws

import (
	"io"
	"net/http"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
	"github.com/luciancaetano/wsmanager/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type OnTextFn = websocket.OnTextFn
type ServerConfig = *websocket.ServerConfig
type ClientConfig = websocket.ClientConfig
type Logger = websocket.Logger
type Codec = protocol.Codec

// Handler is the server-side dispatcher as an http.Handler, for mounting on an existing mux.
type Handler = websocket.Handler

// New creates a new WebSocket server with rate limiting and connection callbacks.
//
// Use NewConfig for the common settings, then set any remaining fields
// (Path, OnText, Logger, Codec, timeouts) on the returned config.
//
// Example:
//
//	cfg := ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), func(conn wsmanager.Connection) {
//	    log.Printf("Client connected: %s", conn.ID())
//	}, nil)
//	cfg.Logger = ws.NewConsoleLogger(os.Stderr, false)
//	server := ws.New(cfg)
func New(cfg ServerConfig) wsmanager.Server {
	return websocket.New(cfg)
}

// NewConfig builds a ServerConfig.
//
// Parameters:
//   - addr: The server address (e.g., ":8080" or "localhost:8080")
//   - rateLimitConfig: Rate limiting configuration. Use DefaultRateLimitConfig() or NoRateLimit()
//   - checkOrigin: Function to validate WebSocket origins. Use AllOrigins() to allow all (dev only)
//   - onConnect: Optional callback called once a client has been sent its id. Can be nil.
//   - onDisconnect: Optional callback called once per removed connection. Can be nil.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// NewHandler creates a dispatcher without a listener of its own. cfg.Addr and cfg.Path are ignored.
func NewHandler(cfg ServerConfig) *Handler {
	return websocket.NewHandler(cfg)
}

// NewClient creates a client. A nil cfg uses the defaults.
func NewClient(cfg *ClientConfig) wsmanager.Client {
	return websocket.NewClient(cfg)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// NewConsoleLogger returns a Logger writing colored lines to out.
func NewConsoleLogger(out io.Writer, debug bool) Logger {
	return websocket.NewConsoleLogger(out, debug)
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return websocket.NopLogger()
}

// DefaultCodec returns the codec used when none is configured.
func DefaultCodec() *Codec {
	return protocol.DefaultCodec()
}
