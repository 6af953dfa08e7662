package wsmanager

import "errors"

// Error taxonomy. Concrete errors wrap one of these with fmt.Errorf("%w: ...").
var (
	// ErrProtocol reports a malformed Message or InvocationDescriptor. Fatal to the connection.
	ErrProtocol = errors.New("protocol error")
	// ErrMethodNotFound reports an invocation of an unregistered method.
	ErrMethodNotFound = errors.New("method not found")
	// ErrArgumentMismatch reports arguments that do not fit the method signature.
	ErrArgumentMismatch = errors.New("argument mismatch")
	// ErrTransport reports a failure reading or writing the socket.
	ErrTransport = errors.New("transport error")
	// ErrCloseRequested reports a normal close initiated by either peer.
	ErrCloseRequested = errors.New("close requested")

	// ErrConnectionClosed reports an operation on a connection that is closing or closed.
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrConnectionNotFound reports an id with no registered connection.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrDuplicateConnectionID reports a requested id that is already registered.
	ErrDuplicateConnectionID = errors.New("connection id already in use")
	// ErrServerAlreadyRunning is returned by Start on a running server.
	ErrServerAlreadyRunning = errors.New("server already running")
	// ErrNotConnected reports a client operation before Connect.
	ErrNotConnected = errors.New("client is not connected")
	// ErrAlreadyConnected is returned by a second Connect; clients are single use.
	ErrAlreadyConnected = errors.New("client is already connected")
	// ErrInvalidMethod reports a registration whose func does not fit the method table.
	ErrInvalidMethod = errors.New("invalid method")
	// ErrRateLimited reports a connection that exceeded its message rate.
	ErrRateLimited = errors.New("rate limit exceeded")
)
