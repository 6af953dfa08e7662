package wsmanager

import (
	"context"
	"net/url"

	"github.com/luciancaetano/wsmanager/internal/protocol"
)

// Message is the envelope exchanged between peers.
type Message = protocol.Message

// MessageType selects how Message.Data is interpreted.
type MessageType = protocol.MessageType

// Message types as they appear on the wire.
const (
	Text             = protocol.Text
	MethodInvocation = protocol.MethodInvocation
	ConnectionEvent  = protocol.ConnectionEvent
)

// TextMessage builds a Text message.
func TextMessage(text string) Message {
	return Message{Type: Text, Data: text}
}

// ConnectionState is the lifecycle state of a connection.
type ConnectionState int32

const (
	// StateConnecting is a registered connection whose ConnectionEvent has not been written yet.
	StateConnecting ConnectionState = iota
	// StateOpen accepts messages in both directions.
	StateOpen
	// StateClosing has started its close handshake; writes are dropped.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Predicate selects connections for broadcast operations. A nil Predicate selects every open connection.
type Predicate func(conn Connection) bool

// Server accepts websocket connections, keeps a registry of them and
// dispatches method invocations received from clients.
//
// Example usage:
//
//	import "github.com/luciancaetano/wsmanager/ws"
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.RegisterMethod("join", func(conn wsmanager.Connection, room string) {
//	    server.InvokeRemoteToAll(ctx, "joined", ws.WithMetadata("room", room), conn.ID())
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start starts listening for connections. It returns once the listener is up,
	// or with the bind error if the address cannot be used.
	//
	// Returns ErrServerAlreadyRunning if called twice.
	Start(ctx context.Context) error

	// Stop closes every registered connection and shuts the HTTP server down.
	Stop(ctx context.Context) error

	// RegisterMethod adds fn to the set of methods clients may invoke by name.
	//
	// fn must be a func whose first parameter is a Connection, followed by any
	// number of JSON-decodable parameters. It may return nothing or a single error,
	// which is logged. Registering a name twice replaces the earlier method.
	//
	// Example:
	//
	//	server.RegisterMethod("add", func(conn wsmanager.Connection, a, b int) {
	//	    conn.SendText(ctx, strconv.Itoa(a+b))
	//	})
	RegisterMethod(name string, fn any) error

	// Connection returns the registered connection with the given id.
	Connection(id string) (Connection, bool)

	// Connections returns a snapshot of the open connections.
	Connections() []Connection

	// Send delivers msg to a single connection. Sending to a connection that is not
	// open is a no-op. Returns ErrConnectionNotFound if no connection has that id.
	Send(ctx context.Context, id string, msg Message) error

	// Broadcast delivers msg to every open connection matching pred, concurrently.
	// A failure on one connection does not stop delivery to the others; all
	// failures are returned joined.
	Broadcast(ctx context.Context, msg Message, pred Predicate) error

	// InvokeRemote asks a single client to run one of its registered methods.
	// There is no reply.
	InvokeRemote(ctx context.Context, id string, method string, args ...any) error

	// InvokeRemoteToAll asks every open client matching pred to run a method.
	InvokeRemoteToAll(ctx context.Context, method string, pred Predicate, args ...any) error

	// Disconnect removes a connection and closes it with a normal closure.
	// Disconnecting an unknown id is a no-op.
	Disconnect(ctx context.Context, id string)
}

// Connection is a client connection as seen by the server.
//
// Each connection has a unique identifier, the query parameters of the upgrade
// request, and a context that is cancelled when the connection closes.
type Connection interface {
	// ID returns the identifier assigned at accept time.
	ID() string

	// Metadata returns the query parameters captured from the upgrade request.
	Metadata() url.Values

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the connection's lifecycle context, cancelled on close.
	Context() context.Context

	// State returns the current lifecycle state.
	State() ConnectionState

	// IsAlive reports whether the connection is open.
	IsAlive() bool

	// Send writes msg to the peer. It is a no-op when the connection is not open.
	Send(ctx context.Context, msg Message) error

	// SendText writes a Text message.
	SendText(ctx context.Context, text string) error

	// Invoke asks the peer to run one of its registered methods.
	Invoke(ctx context.Context, method string, args ...any) error

	// Close closes the connection with a normal closure code.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific websocket close code and reason.
	//
	// Common close codes:
	//   - 1000 (websocket.CloseNormalClosure): Normal closure
	//   - 1001 (websocket.CloseGoingAway): Endpoint going away
	//   - 1002 (websocket.CloseProtocolError): Protocol error
	//   - 1008 (websocket.ClosePolicyViolation): Policy violation
	CloseWithCode(ctx context.Context, code int, reason string) error
}

// Client is the client-side mirror of Server: it connects to a server,
// learns its connection id, and exposes its own table of invokable methods.
//
// Example usage:
//
//	client := ws.NewClient(nil)
//	client.On("joined", func(id string) { fmt.Println("joined:", id) })
//
//	if err := client.Connect(ctx, "ws://localhost:8080/ws"); err != nil {
//	    return err
//	}
//	<-client.Ready()
//	client.Invoke(ctx, "join", "lobby")
type Client interface {
	// Connect dials the server and starts receiving in the background.
	Connect(ctx context.Context, url string) error

	// ID returns the connection id announced by the server, or "" until it arrives.
	ID() string

	// Ready is closed once the connection id has been received.
	Ready() <-chan struct{}

	// Done is closed once the connection has ended.
	Done() <-chan struct{}

	// Err returns why the connection ended, or nil if it closed normally or is still running.
	Err() error

	// On registers fn as a method the server may invoke, replacing any earlier
	// registration for name. fn takes any number of JSON-decodable parameters.
	On(name string, fn any) error

	// Invoke asks the server to run one of its registered methods.
	Invoke(ctx context.Context, method string, args ...any) error

	// SendText sends an informational Text message to the server.
	SendText(ctx context.Context, text string) error

	// Close closes the connection with a normal closure.
	Close(ctx context.Context) error
}
