package websocket

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

const (
	defaultBufferSize       = 1024
	defaultPingInterval     = 54 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
	closeWriteWait          = time.Second
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called once a connection is registered and has been sent its id,
// before its receive loop starts. It runs synchronously during connection setup,
// so avoid long-running work.
type OnConnectFn = func(conn wsmanager.Connection)

// OnClientDisconnectFn is called once per removed connection. voluntary is true when
// the client initiated a normal close, false for transport failures, protocol
// violations and server-initiated removal.
type OnClientDisconnectFn = func(conn wsmanager.Connection, voluntary bool)

// OnTextFn receives Text messages sent by a client.
type OnTextFn = func(conn wsmanager.Connection, text string)

// ServerConfig configures a Server or a standalone Handler.
type ServerConfig struct {
	Addr               string
	Path               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	OnText             OnTextFn
	Logger             Logger
	Codec              *protocol.Codec

	ReadBufferSize  int
	WriteBufferSize int

	// PingInterval is how often a keepalive ping is written. It is kept below PongWait.
	PingInterval time.Duration
	// PongWait is how long a connection may stay silent before its read fails.
	PongWait time.Duration
	// WriteWait bounds every single write.
	WriteWait time.Duration

	// ConnectionIDParam, when set, names the query parameter a client may use to request its own id.
	ConnectionIDParam string
}

func (c *ServerConfig) withDefaults() *ServerConfig {
	out := ServerConfig{}
	if c != nil {
		out = *c
	}
	if out.Path == "" {
		out.Path = wsmanager.DefaultPath
	}
	if out.RateLimitConfig == nil {
		out.RateLimitConfig = DefaultRateLimitConfig()
	}
	if out.Logger == nil {
		out.Logger = NopLogger()
	}
	if out.Codec == nil {
		out.Codec = protocol.DefaultCodec()
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = defaultBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = defaultBufferSize
	}
	if out.PongWait <= 0 {
		out.PongWait = defaultPongWait
	}
	if out.PingInterval <= 0 {
		out.PingInterval = defaultPingInterval
	}
	if out.PingInterval >= out.PongWait {
		out.PingInterval = out.PongWait * 9 / 10
	}
	if out.WriteWait <= 0 {
		out.WriteWait = defaultWriteWait
	}
	return &out
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Logger           Logger
	Codec            *protocol.Codec
	HandshakeTimeout time.Duration
	WriteWait        time.Duration

	// EchoErrors sends invocation failures back to the server as Text messages.
	EchoErrors bool

	OnConnected    func(id string)
	OnDisconnected func(err error)
	OnText         func(text string)
}

func (c *ClientConfig) withDefaults() *ClientConfig {
	out := ClientConfig{}
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = NopLogger()
	}
	if out.Codec == nil {
		out.Codec = protocol.DefaultCodec()
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = defaultHandshakeTimeout
	}
	if out.WriteWait <= 0 {
		out.WriteWait = defaultWriteWait
	}
	return &out
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) newLimiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}
