package websocket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

// Client implements the wsmanager.Client interface. A Client connects once;
// create a new one to reconnect.
type Client struct {
	cfg     *ClientConfig
	codec   *protocol.Codec
	logger  Logger
	methods *methodTable

	mu     sync.Mutex
	socket Socket
	id     string
	err    error

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
}

var _ wsmanager.Client = (*Client)(nil)

// NewClient creates a client. Zero fields of cfg take their defaults.
func NewClient(cfg *ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		codec:   cfg.Codec,
		logger:  cfg.Logger,
		methods: newMethodTable(nil),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Connect dials url and starts the receive loop in the background.
func (c *Client) Connect(ctx context.Context, url string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.logger.Errorf("connect to %s failed: %v", url, err)
		return fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
	}

	if err := c.start(conn); err != nil {
		conn.Close()
		return err
	}
	c.logger.Debugf("connected to %s", url)
	return nil
}

func (c *Client) start(socket Socket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		return wsmanager.ErrAlreadyConnected
	}
	c.socket = socket
	socket.SetReadLimit(int64(c.codec.Limit()))

	go c.run(socket)
	return nil
}

func (c *Client) run(socket Socket) {
	defer close(c.done)

	r := &receiver{
		socket: socket,
		codec:  c.codec,
		logger: c.logger,
		alive:  func() bool { return !c.closing.Load() },
		route:  c.route,
	}
	err := r.run()

	var te *terminalError
	if errors.As(err, &te) {
		c.writeMu.Lock()
		socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(te.code, te.reason), time.Now().Add(closeWriteWait))
		c.writeMu.Unlock()
	}

	if isQuietExit(err) {
		err = nil
	} else if !c.closing.Load() {
		c.logger.Errorf("connection %s: %v", c.ID(), err)
	}

	c.closing.Store(true)
	socket.Close()

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	if c.cfg.OnDisconnected != nil {
		c.cfg.OnDisconnected(err)
	}
}

func (c *Client) route(msg protocol.Message) error {
	switch msg.Type {
	case wsmanager.ConnectionEvent:
		c.setID(msg.Data)
	case wsmanager.Text:
		if c.cfg.OnText != nil {
			c.cfg.OnText(msg.Data)
		} else {
			c.logger.Infof("text message received: %s", msg.Data)
		}
	case wsmanager.MethodInvocation:
		return c.dispatch(msg.Data)
	}
	return nil
}

func (c *Client) setID(id string) {
	first := false
	c.readyOnce.Do(func() {
		c.mu.Lock()
		c.id = id
		c.mu.Unlock()
		close(c.ready)
		first = true
	})
	if !first {
		c.logger.Debugf("ignoring repeated connection event %q", id)
		return
	}

	c.logger.Debugf("connected, connection id %s", id)
	if c.cfg.OnConnected != nil {
		c.cfg.OnConnected(id)
	}
}

// dispatch runs an invocation from the server. Only a malformed descriptor is fatal.
func (c *Client) dispatch(payload string) error {
	desc, err := c.codec.DecodeInvocation(payload)
	if err != nil {
		return protocolFailure(websocket.CloseProtocolError, wsmanager.CloseReasonInvalidMessage, err)
	}

	m, args, err := c.methods.resolve(c.codec, desc)
	if err != nil {
		var ie *invocationError
		if errors.As(err, &ie) {
			c.logger.Errorf("%v", err)
			c.echo(ie.reply)
		}
		return nil
	}

	if err := m.call(reflect.Value{}, args); err != nil {
		c.logger.Errorf("method %q: %v", desc.MethodName, err)
		var mp *methodPanic
		if errors.As(err, &mp) {
			c.echo(fmt.Sprintf(wsmanager.ReplyInvocationFailed, desc.MethodName))
		}
	}
	return nil
}

func (c *Client) echo(text string) {
	if !c.cfg.EchoErrors {
		return
	}
	if err := c.SendText(context.Background(), text); err != nil {
		c.logger.Errorf("failed to echo error: %v", err)
	}
}

// ID returns the connection id assigned by the server
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Ready is closed once the server has announced the connection id.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed once the receive loop has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended; nil after a normal closure.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// On registers a method the server may invoke, replacing any earlier one with the same name.
func (c *Client) On(name string, fn any) error {
	return c.methods.register(name, fn)
}

// Invoke asks the server to run method.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) error {
	msg, err := c.codec.InvocationMessage(method, args...)
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// SendText sends an informational message.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.send(ctx, wsmanager.TextMessage(text))
}

func (c *Client) send(ctx context.Context, msg wsmanager.Message) error {
	data, err := c.codec.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return wsmanager.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closing.Load() {
		return wsmanager.ErrConnectionClosed
	}

	deadline := time.Now().Add(c.cfg.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := socket.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
	}
	if err := socket.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Errorf("write failed: %v", err)
		return fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
	}
	return nil
}

// Close sends a normal closure and waits for the server to acknowledge it,
// or for ctx to end, whichever comes first.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return wsmanager.ErrNotConnected
	}

	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closing.Store(true)
		err = socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteWait))
		c.writeMu.Unlock()
		if err != nil {
			// No close handshake is possible, drop the socket so the receive loop ends
			socket.Close()
		}
	})

	select {
	case <-c.done:
	case <-ctx.Done():
		socket.Close()
		<-c.done
		return ctx.Err()
	}

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
	}
	return nil
}
