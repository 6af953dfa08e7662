package websocket

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/wsmanager/internal/protocol"
)

type fakeFrame struct {
	kind   int
	chunks [][]byte
	err    error
}

type fakeControl struct {
	kind   int
	code   int
	reason string
}

// fakeSocket is an in-memory Socket. Frames pushed with deliver are returned by
// NextReader; every write is recorded.
type fakeSocket struct {
	incoming chan fakeFrame
	closeCh  chan struct{}

	mu        sync.Mutex
	written   [][]byte
	controls  []fakeControl
	closed    bool
	closes    int
	writeErr  error
	echoClose bool
	// lateWrites counts data writes attempted after a close frame went out
	lateWrites int

	writers    atomic.Int32
	overlapped atomic.Bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		incoming: make(chan fakeFrame, 64),
		closeCh:  make(chan struct{}),
	}
}

func (f *fakeSocket) NextReader() (int, io.Reader, error) {
	select {
	case frame := <-f.incoming:
		if frame.err != nil {
			return 0, nil, frame.err
		}
		return frame.kind, &chunkReader{chunks: frame.chunks}, nil
	case <-f.closeCh:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if f.writers.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.writers.Add(-1)
	// widen the window in which an unserialized writer would overlap
	time.Sleep(50 * time.Microsecond)

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.controls {
		if c.kind == websocket.CloseMessage {
			f.lateWrites++
			break
		}
	}
	if f.closed {
		return net.ErrClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return net.ErrClosed
	}
	ctrl := fakeControl{kind: messageType}
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		ctrl.code = int(binary.BigEndian.Uint16(data[:2]))
		ctrl.reason = string(data[2:])
	}
	f.controls = append(f.controls, ctrl)
	echo := f.echoClose && messageType == websocket.CloseMessage
	f.mu.Unlock()

	if echo {
		f.incoming <- fakeFrame{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
	}
	return nil
}

func (f *fakeSocket) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeSocket) SetReadLimit(int64)                        {}
func (f *fakeSocket) SetPongHandler(func(appData string) error) {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeSocket) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// deliver queues a text message split into the given chunks.
func (f *fakeSocket) deliver(chunks ...string) {
	frame := fakeFrame{kind: websocket.TextMessage}
	for _, c := range chunks {
		frame.chunks = append(frame.chunks, []byte(c))
	}
	f.incoming <- frame
}

func (f *fakeSocket) deliverMessage(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.DefaultCodec().EncodeMessage(msg)
	require.NoError(t, err)
	f.deliver(string(data))
}

func (f *fakeSocket) deliverInvocation(t *testing.T, method string, args ...any) {
	t.Helper()
	msg, err := protocol.DefaultCodec().InvocationMessage(method, args...)
	require.NoError(t, err)
	f.deliverMessage(t, msg)
}

func (f *fakeSocket) deliverError(err error) {
	f.incoming <- fakeFrame{err: err}
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSocket) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeSocket) writesAfterClose() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lateWrites
}

func (f *fakeSocket) closeFrames() []fakeControl {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []fakeControl
	for _, c := range f.controls {
		if c.kind == websocket.CloseMessage {
			out = append(out, c)
		}
	}
	return out
}

// messages decodes everything written so far.
func (f *fakeSocket) messages(t *testing.T) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	written := append([][]byte(nil), f.written...)
	f.mu.Unlock()

	out := make([]protocol.Message, 0, len(written))
	for _, data := range written {
		msg, err := protocol.DefaultCodec().DecodeMessage(data)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// waitMessages waits until at least n messages have been written and returns them.
func (f *fakeSocket) waitMessages(t *testing.T, n int) []protocol.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.written) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d messages", n)
	return f.messages(t)
}

// chunkReader returns one chunk per Read call, the way a fragmented message arrives.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.chunks) > 0 && len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	return n, nil
}
