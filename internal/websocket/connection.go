package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

// ConnectionOptions is shared by every connection a Registry creates.
type ConnectionOptions struct {
	Codec           *protocol.Codec
	WriteWait       time.Duration
	RateLimitConfig *RateLimitConfig
	// OnWriteError is called, outside the write lock, when a write to the socket fails.
	OnWriteError func(conn *Connection, err error)
}

// Connection is a registered client socket. Writes are serialized by a
// per-connection mutex; the socket never sees two concurrent writers.
type Connection struct {
	id         string
	socket     Socket
	metadata   url.Values
	remoteAddr string

	codec        *protocol.Codec
	writeWait    time.Duration
	onWriteError func(conn *Connection, err error)

	ctx    context.Context
	cancel context.CancelFunc

	state       atomic.Int32
	writeMu     sync.Mutex
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
}

var _ wsmanager.Connection = (*Connection)(nil)

func newConnection(id string, socket Socket, metadata url.Values, remoteAddr string, opts ConnectionOptions) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	if metadata == nil {
		metadata = url.Values{}
	}
	codec := opts.Codec
	if codec == nil {
		codec = protocol.DefaultCodec()
	}
	writeWait := opts.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	c := &Connection{
		id:           id,
		socket:       socket,
		metadata:     metadata,
		remoteAddr:   remoteAddr,
		codec:        codec,
		writeWait:    writeWait,
		onWriteError: opts.OnWriteError,
		ctx:          ctx,
		cancel:       cancel,
		rateLimiter:  opts.RateLimitConfig.newLimiter(),
	}
	c.state.Store(int32(wsmanager.StateConnecting))
	return c
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Metadata returns the query parameters captured at accept time. It must not be modified.
func (c *Connection) Metadata() url.Values {
	return c.metadata
}

// RemoteAddr returns the client's remote network address
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the connection's lifecycle context
func (c *Connection) Context() context.Context {
	return c.ctx
}

// State returns the current lifecycle state
func (c *Connection) State() wsmanager.ConnectionState {
	return wsmanager.ConnectionState(c.state.Load())
}

// IsAlive returns true if the connection is open
func (c *Connection) IsAlive() bool {
	return c.State() == wsmanager.StateOpen
}

// Socket returns the underlying transport.
func (c *Connection) Socket() Socket {
	return c.socket
}

// open writes the handshake message and moves the connection to Open.
// Holding the write lock across both steps keeps any other message from
// reaching the peer first.
func (c *Connection) open(ctx context.Context, enc *protocol.Encoded) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != wsmanager.StateConnecting {
		return wsmanager.ErrConnectionClosed
	}
	if err := c.write(ctx, websocket.TextMessage, enc.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
	}
	if !c.state.CompareAndSwap(int32(wsmanager.StateConnecting), int32(wsmanager.StateOpen)) {
		return wsmanager.ErrConnectionClosed
	}
	return nil
}

// Send serializes and writes msg. It is a no-op unless the connection is open.
func (c *Connection) Send(ctx context.Context, msg wsmanager.Message) error {
	enc, err := c.codec.Seal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.sendEncoded(ctx, enc)
}

// SendText writes a Text message.
func (c *Connection) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, wsmanager.TextMessage(text))
}

// Invoke asks the client to run one of its registered methods.
func (c *Connection) Invoke(ctx context.Context, method string, args ...any) error {
	msg, err := c.codec.InvocationMessage(method, args...)
	if err != nil {
		return err
	}
	return c.Send(ctx, msg)
}

func (c *Connection) sendEncoded(ctx context.Context, enc *protocol.Encoded) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	if c.State() != wsmanager.StateOpen {
		c.writeMu.Unlock()
		return nil
	}
	err := c.write(ctx, websocket.TextMessage, enc.Bytes())
	c.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
		if c.onWriteError != nil {
			c.onWriteError(c, err)
		}
	}
	return err
}

// write must be called with writeMu held.
func (c *Connection) write(ctx context.Context, messageType int, data []byte) error {
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.socket.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.socket.WriteMessage(messageType, data)
}

// Close closes the client connection
func (c *Connection) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason.
// Only the first call has any effect.
func (c *Connection) CloseWithCode(ctx context.Context, code int, reason string) error {
	for {
		s := c.state.Load()
		if s == int32(wsmanager.StateClosing) || s == int32(wsmanager.StateClosed) {
			return nil
		}
		if c.state.CompareAndSwap(s, int32(wsmanager.StateClosing)) {
			break
		}
	}
	c.cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(closeWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	err := c.socket.Close()
	c.state.Store(int32(wsmanager.StateClosed))
	return err
}

// CheckRateLimit checks if the client has exceeded the rate limit
// Returns true if the message is allowed, false if rate limited
func (c *Connection) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return c.rateLimiter.Allow()
}

// keepalive pings the peer until the connection's context ends.
func (c *Connection) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				if c.onWriteError != nil {
					c.onWriteError(c, fmt.Errorf("%w: ping: %v", wsmanager.ErrTransport, err))
				}
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != wsmanager.StateOpen {
		return nil
	}
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}
