package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

// Handler is the server-side dispatcher. It registers accepted sockets, runs one
// receive loop per connection and resolves invocations against its method table.
// It implements http.Handler so it can be mounted on any mux.
type Handler struct {
	cfg      *ServerConfig
	codec    *protocol.Codec
	logger   Logger
	registry *Registry
	methods  *methodTable
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. Zero fields of cfg take their defaults.
func NewHandler(cfg *ServerConfig) *Handler {
	cfg = cfg.withDefaults()

	h := &Handler{
		cfg:     cfg,
		codec:   cfg.Codec,
		logger:  cfg.Logger,
		methods: newMethodTable(connectionType),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	h.registry = NewRegistry(ConnectionOptions{
		Codec:           cfg.Codec,
		WriteWait:       cfg.WriteWait,
		RateLimitConfig: cfg.RateLimitConfig,
		OnWriteError:    h.handleWriteError,
	})
	return h
}

// Registry returns the connection registry the handler owns.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// RegisterMethod adds fn to the methods clients may invoke. fn takes a
// wsmanager.Connection followed by JSON-decodable parameters.
func (h *Handler) RegisterMethod(name string, fn any) error {
	return h.methods.register(name, fn)
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade request", http.StatusBadRequest)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Debugf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	metadata := r.URL.Query()
	requestedID := ""
	if h.cfg.ConnectionIDParam != "" {
		requestedID = metadata.Get(h.cfg.ConnectionIDParam)
	}

	conn, err := h.accept(context.Background(), socket, metadata, r.RemoteAddr, requestedID)
	if err != nil {
		h.logger.Errorf("rejecting connection from %s: %v", r.RemoteAddr, err)
		socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, truncateReason(err.Error())),
			time.Now().Add(closeWriteWait))
		socket.Close()
		return
	}

	h.Serve(conn)
}

// OnConnected registers socket and sends it the ConnectionEvent carrying its id.
// No other message reaches the peer before that event.
func (h *Handler) OnConnected(ctx context.Context, socket Socket, metadata url.Values, requestedID string) (string, error) {
	conn, err := h.accept(ctx, socket, metadata, "", requestedID)
	if err != nil {
		return "", err
	}
	return conn.ID(), nil
}

func (h *Handler) accept(ctx context.Context, socket Socket, metadata url.Values, remoteAddr, requestedID string) (*Connection, error) {
	conn, err := h.registry.Add(socket, metadata, remoteAddr, requestedID)
	if err != nil {
		return nil, err
	}

	enc, err := h.codec.Seal(wsmanager.Message{Type: wsmanager.ConnectionEvent, Data: conn.ID()})
	if err == nil {
		err = conn.open(ctx, enc)
	}
	if err != nil {
		h.registry.Remove(ctx, conn.ID())
		return nil, err
	}

	h.logger.Debugf("connection %s opened from %s", conn.ID(), remoteAddr)
	if h.cfg.OnConnect != nil {
		h.cfg.OnConnect(conn)
	}
	return conn, nil
}

// Serve runs the receive loop of an accepted connection on the calling
// goroutine and removes the connection once the loop ends.
func (h *Handler) Serve(conn *Connection) {
	socket := conn.Socket()
	socket.SetReadLimit(int64(h.codec.Limit()))
	socket.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	go conn.keepalive(h.cfg.PingInterval)

	r := &receiver{
		socket: socket,
		codec:  h.codec,
		logger: h.logger,
		alive:  conn.IsAlive,
		onMessage: func() error {
			// Reset read deadline after successful read
			socket.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

			if !conn.CheckRateLimit() {
				return &terminalError{
					code:   websocket.ClosePolicyViolation,
					reason: wsmanager.CloseReasonRateLimited,
					err:    fmt.Errorf("%w: connection %s", wsmanager.ErrRateLimited, conn.ID()),
				}
			}
			return nil
		},
		route: func(msg protocol.Message) error {
			return h.route(conn, msg)
		},
	}

	err := r.run()
	wasOpen := conn.IsAlive()

	var te *terminalError
	if errors.As(err, &te) {
		conn.CloseWithCode(context.Background(), te.code, te.reason)
	}
	if wasOpen && !isQuietExit(err) {
		h.logger.Errorf("connection %s: %v", conn.ID(), err)
	}

	h.disconnect(context.Background(), conn.ID(), wasOpen && errors.Is(err, wsmanager.ErrCloseRequested))
}

func (h *Handler) route(conn *Connection, msg protocol.Message) error {
	switch msg.Type {
	case wsmanager.MethodInvocation:
		return h.DispatchInvocation(conn.Context(), conn, msg.Data)
	case wsmanager.Text:
		if h.cfg.OnText != nil {
			h.cfg.OnText(conn, msg.Data)
		} else {
			h.logger.Debugf("text message from %s: %s", conn.ID(), msg.Data)
		}
	case wsmanager.ConnectionEvent:
		h.logger.Debugf("ignoring connection event from %s", conn.ID())
	}
	return nil
}

// OnDisconnected removes the connection. Unknown ids are ignored.
func (h *Handler) OnDisconnected(ctx context.Context, id string) {
	h.disconnect(ctx, id, false)
}

func (h *Handler) disconnect(ctx context.Context, id string, voluntary bool) {
	conn := h.registry.Remove(ctx, id)
	if conn == nil {
		return
	}
	h.logger.Debugf("connection %s closed (voluntary=%v)", id, voluntary)
	if h.cfg.OnClientDisconnect != nil {
		h.cfg.OnClientDisconnect(conn, voluntary)
	}
}

func (h *Handler) handleWriteError(conn *Connection, err error) {
	h.logger.Errorf("connection %s: %v", conn.ID(), err)
	h.disconnect(context.Background(), conn.ID(), false)
}

// Send writes msg to the connection registered under id.
func (h *Handler) Send(ctx context.Context, id string, msg wsmanager.Message) error {
	conn, ok := h.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", wsmanager.ErrConnectionNotFound, id)
	}
	return conn.Send(ctx, msg)
}

// SendSocket writes msg to the connection registered for socket.
func (h *Handler) SendSocket(ctx context.Context, socket Socket, msg wsmanager.Message) error {
	id, ok := h.registry.IDOf(socket)
	if !ok {
		return wsmanager.ErrConnectionNotFound
	}
	return h.Send(ctx, id, msg)
}

// Broadcast sends msg to every open connection matching pred, concurrently.
// The message is serialized once. Every failure is reported, tagged with its connection id.
func (h *Handler) Broadcast(ctx context.Context, msg wsmanager.Message, pred wsmanager.Predicate) error {
	enc, err := h.codec.Seal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	var targets []*Connection
	for _, conn := range h.registry.OpenConnections() {
		if pred == nil || pred(conn) {
			targets = append(targets, conn)
		}
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, conn := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.sendEncoded(ctx, enc); err != nil {
				errs[i] = fmt.Errorf("connection %s: %w", conn.ID(), err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// InvokeRemote asks the client registered under id to run method.
func (h *Handler) InvokeRemote(ctx context.Context, id string, method string, args ...any) error {
	msg, err := h.codec.InvocationMessage(method, args...)
	if err != nil {
		return err
	}
	return h.Send(ctx, id, msg)
}

// InvokeRemoteToAll asks every open client matching pred to run method.
func (h *Handler) InvokeRemoteToAll(ctx context.Context, method string, pred wsmanager.Predicate, args ...any) error {
	msg, err := h.codec.InvocationMessage(method, args...)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, msg, pred)
}

// DispatchInvocation decodes and runs an invocation sent by conn.
//
// Unknown methods and arguments that do not fit the method are answered with
// a Text message and nil is returned. Only a malformed descriptor produces an
// error, which is fatal to the connection.
func (h *Handler) DispatchInvocation(ctx context.Context, conn *Connection, payload string) error {
	desc, err := h.codec.DecodeInvocation(payload)
	if err != nil {
		return protocolFailure(websocket.CloseProtocolError, wsmanager.CloseReasonInvalidMessage, err)
	}

	m, args, err := h.methods.resolve(h.codec, desc)
	if err != nil {
		var ie *invocationError
		if errors.As(err, &ie) {
			h.logger.Debugf("connection %s: %v", conn.ID(), err)
			h.reply(ctx, conn, ie.reply)
		}
		return nil
	}

	if err := m.call(reflect.ValueOf(conn), args); err != nil {
		var mp *methodPanic
		if errors.As(err, &mp) {
			h.logger.Errorf("method %q invoked by %s panicked: %v", desc.MethodName, conn.ID(), mp.value)
			h.reply(ctx, conn, fmt.Sprintf(wsmanager.ReplyInvocationFailed, desc.MethodName))
			return nil
		}
		h.logger.Errorf("method %q invoked by %s: %v", desc.MethodName, conn.ID(), err)
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, conn *Connection, text string) {
	if err := conn.SendText(ctx, text); err != nil {
		h.logger.Errorf("failed to reply to %s: %v", conn.ID(), err)
	}
}

// truncateReason keeps a close reason within the 123 bytes a close frame allows.
// The cut never splits a UTF-8 sequence.
func truncateReason(reason string) string {
	const maxReason = 123
	if len(reason) <= maxReason {
		return reason
	}
	cut := maxReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
