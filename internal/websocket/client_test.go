package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

func startClient(t *testing.T, cfg *ClientConfig) (*Client, *fakeSocket) {
	t.Helper()
	c := NewClient(cfg)
	sock := newFakeSocket()
	sock.echoClose = true
	require.NoError(t, c.start(sock))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Close(ctx)
	})
	return c, sock
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestClientConnectionEvent(t *testing.T) {
	t.Parallel()

	ids := make(chan string, 2)
	c, sock := startClient(t, &ClientConfig{
		OnConnected: func(id string) { ids <- id },
	})
	assert.Empty(t, c.ID())

	sock.deliverMessage(t, protocol.Message{Type: protocol.ConnectionEvent, Data: "abc-123"})
	waitClosed(t, c.Ready(), "ready")
	assert.Equal(t, "abc-123", c.ID())
	assert.Equal(t, "abc-123", <-ids)

	// a repeated event neither changes the id nor fires the hook again
	sock.deliverMessage(t, protocol.Message{Type: protocol.ConnectionEvent, Data: "other"})
	sock.deliverMessage(t, wsmanager.TextMessage("sync"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "abc-123", c.ID())
	assert.Empty(t, ids)
}

func TestClientRunsServerInvocations(t *testing.T) {
	t.Parallel()

	type update struct {
		Score int `json:"score"`
	}
	var (
		mu    sync.Mutex
		calls []string
	)
	c, sock := startClient(t, nil)
	require.NoError(t, c.On("greet", func(name string, u update) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
		assert.Equal(t, 7, u.Score)
	}))

	sock.deliverInvocation(t, "greet", "alice", update{Score: 7})
	sock.deliverInvocation(t, "greet", "bob", update{Score: 7})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, calls)
}

func TestClientEchoesInvocationFailures(t *testing.T) {
	t.Parallel()

	c, sock := startClient(t, &ClientConfig{EchoErrors: true})
	require.NoError(t, c.On("sum", func(a, b int) {}))
	require.NoError(t, c.On("explode", func() { panic("kaboom") }))

	sock.deliverInvocation(t, "missing")
	sock.deliverInvocation(t, "sum", 1)
	sock.deliverInvocation(t, "explode")

	msgs := sock.waitMessages(t, 3)
	assert.Equal(t, `cannot find method "missing"`, msgs[0].Data)
	assert.Equal(t, `method "sum" takes 2 arguments, got 1`, msgs[1].Data)
	assert.Equal(t, `method "explode" failed`, msgs[2].Data)
	for _, m := range msgs {
		assert.Equal(t, wsmanager.Text, m.Type)
	}

	select {
	case <-c.Done():
		t.Fatal("invocation failures must not end the connection")
	default:
	}
}

func TestClientSilentInvocationFailures(t *testing.T) {
	t.Parallel()

	texts := make(chan string, 1)
	c, sock := startClient(t, &ClientConfig{OnText: func(text string) { texts <- text }})

	sock.deliverInvocation(t, "missing")
	sock.deliverMessage(t, wsmanager.TextMessage("still here"))

	select {
	case text := <-texts:
		assert.Equal(t, "still here", text)
	case <-time.After(2 * time.Second):
		t.Fatal("text message not delivered")
	}
	assert.Empty(t, sock.messages(t))
	assert.NoError(t, c.Err())
}

func TestClientProtocolViolation(t *testing.T) {
	t.Parallel()

	disconnected := make(chan error, 1)
	c, sock := startClient(t, &ClientConfig{
		OnDisconnected: func(err error) { disconnected <- err },
	})

	sock.deliverMessage(t, protocol.Message{Type: protocol.MethodInvocation, Data: "[not a descriptor"})
	waitClosed(t, c.Done(), "receive loop")

	assert.ErrorIs(t, c.Err(), wsmanager.ErrProtocol)
	assert.ErrorIs(t, <-disconnected, wsmanager.ErrProtocol)
	frames := sock.closeFrames()
	require.NotEmpty(t, frames)
	assert.Equal(t, websocket.CloseProtocolError, frames[0].code)
	assert.True(t, sock.isClosed())
}

func TestClientTransportFailure(t *testing.T) {
	t.Parallel()

	c, sock := startClient(t, nil)
	sock.deliverError(errors.New("connection reset by peer"))
	waitClosed(t, c.Done(), "receive loop")

	assert.ErrorIs(t, c.Err(), wsmanager.ErrTransport)
	assert.ErrorIs(t, c.SendText(context.Background(), "late"), wsmanager.ErrConnectionClosed)
}

func TestClientServerClose(t *testing.T) {
	t.Parallel()

	c, sock := startClient(t, nil)
	sock.deliverError(&websocket.CloseError{Code: websocket.CloseGoingAway, Text: wsmanager.CloseReasonServerStopping})
	waitClosed(t, c.Done(), "receive loop")

	assert.NoError(t, c.Err())
}

func TestClientSend(t *testing.T) {
	t.Parallel()

	c, sock := startClient(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Invoke(ctx, "join", "lobby", 2))
	require.NoError(t, c.SendText(ctx, "hello"))

	msgs := sock.waitMessages(t, 2)
	require.Equal(t, wsmanager.MethodInvocation, msgs[0].Type)
	desc, err := protocol.DefaultCodec().DecodeInvocation(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "join", desc.MethodName)
	require.Len(t, desc.Arguments, 2)
	assert.JSONEq(t, `"lobby"`, string(desc.Arguments[0]))

	assert.Equal(t, wsmanager.TextMessage("hello"), msgs[1])
}

func TestClientClose(t *testing.T) {
	t.Parallel()

	disconnected := make(chan error, 1)
	c, sock := startClient(t, &ClientConfig{
		OnDisconnected: func(err error) { disconnected <- err },
	})

	require.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Err())
	assert.NoError(t, <-disconnected)
	assert.True(t, sock.isClosed())

	frames := sock.closeFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, websocket.CloseNormalClosure, frames[0].code)

	assert.NoError(t, c.Close(context.Background()))
	assert.ErrorIs(t, c.SendText(context.Background(), "late"), wsmanager.ErrConnectionClosed)
}

func TestClientCloseTimesOut(t *testing.T) {
	t.Parallel()

	c := NewClient(nil)
	sock := newFakeSocket()
	require.NoError(t, c.start(sock))

	// the peer never answers the close frame
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	waitClosed(t, c.Done(), "receive loop")
	assert.True(t, sock.isClosed())
}

func TestClientNotConnected(t *testing.T) {
	t.Parallel()

	c := NewClient(nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.SendText(ctx, "hi"), wsmanager.ErrNotConnected)
	assert.ErrorIs(t, c.Invoke(ctx, "m"), wsmanager.ErrNotConnected)
	assert.ErrorIs(t, c.Close(ctx), wsmanager.ErrNotConnected)
}

func TestClientSingleUse(t *testing.T) {
	t.Parallel()

	c, _ := startClient(t, nil)
	assert.ErrorIs(t, c.start(newFakeSocket()), wsmanager.ErrAlreadyConnected)
}

func TestClientConnectFailure(t *testing.T) {
	t.Parallel()

	c := NewClient(&ClientConfig{HandshakeTimeout: 200 * time.Millisecond})
	err := c.Connect(context.Background(), "ws://127.0.0.1:1/ws")
	assert.ErrorIs(t, err, wsmanager.ErrTransport)
}

func TestClientRegisterValidation(t *testing.T) {
	t.Parallel()

	c := NewClient(nil)
	assert.NoError(t, c.On("plain", func(a int, b string) error { return nil }))
	assert.ErrorIs(t, c.On("", func() {}), wsmanager.ErrInvalidMethod)
	assert.ErrorIs(t, c.On("notfunc", 42), wsmanager.ErrInvalidMethod)
}
