package websocket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsmanager"
)

// Socket is the full-duplex frame transport a connection runs on.
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
// Implementations must be comparable (pointer types), since the registry
// keeps a reverse index keyed by socket.
type Socket interface {
	NextReader() (messageType int, r io.Reader, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

// terminalError ends a receive loop and tells the owner which close code to send.
type terminalError struct {
	code   int
	reason string
	err    error
}

func (e *terminalError) Error() string {
	return e.err.Error()
}

func (e *terminalError) Unwrap() error {
	return e.err
}

func protocolFailure(code int, reason string, err error) error {
	return &terminalError{
		code:   code,
		reason: reason,
		err:    fmt.Errorf("%w: %s: %v", wsmanager.ErrProtocol, reason, err),
	}
}

// classifyReadError maps a transport read failure onto CloseRequested or TransportError.
func classifyReadError(err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return fmt.Errorf("%w: %v", wsmanager.ErrCloseRequested, err)
	case errors.Is(err, websocket.ErrReadLimit):
		return protocolFailure(websocket.CloseMessageTooBig, wsmanager.CloseReasonMessageTooBig, err)
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", wsmanager.ErrConnectionClosed, err)
	default:
		return fmt.Errorf("%w: %v", wsmanager.ErrTransport, err)
	}
}

// isQuietExit reports whether a receive loop ended in a way not worth logging.
func isQuietExit(err error) bool {
	return err == nil ||
		errors.Is(err, wsmanager.ErrCloseRequested) ||
		errors.Is(err, wsmanager.ErrConnectionClosed)
}

func typeMsg(code int) string {
	switch code {
	case websocket.TextMessage:
		return "Text"
	case websocket.BinaryMessage:
		return "Binary"
	case websocket.CloseMessage:
		return "Close"
	case websocket.PingMessage:
		return "Ping"
	case websocket.PongMessage:
		return "Pong"
	default:
		return fmt.Sprintf("Unknown(%d)", code)
	}
}
