package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

// frameBufferSize is the bounded chunk a message is read in.
const frameBufferSize = 4 * 1024

var errLocalClose = fmt.Errorf("%w: closed locally", wsmanager.ErrCloseRequested)

// receiver turns the frames of one socket into decoded messages.
type receiver struct {
	socket Socket
	codec  *protocol.Codec
	logger Logger

	// alive is checked before every read; the loop ends once it reports false.
	alive func() bool
	// onMessage runs after a complete message has been read and before it is decoded.
	// A non-nil error ends the loop.
	onMessage func() error
	// route receives every decoded message. A non-nil error ends the loop.
	route func(msg protocol.Message) error
}

// run blocks until the socket closes or fails, and returns why it stopped.
// It never returns nil.
func (r *receiver) run() error {
	buf := make([]byte, frameBufferSize)
	var acc bytes.Buffer

	for r.alive() {
		kind, rd, err := r.socket.NextReader()
		if err != nil {
			return classifyReadError(err)
		}

		acc.Reset()
		if err := r.accumulate(&acc, rd, buf); err != nil {
			return err
		}

		if r.onMessage != nil {
			if err := r.onMessage(); err != nil {
				return err
			}
		}

		if kind != websocket.TextMessage {
			return protocolFailure(websocket.CloseUnsupportedData, wsmanager.CloseReasonUnsupportedData,
				fmt.Errorf("unexpected %s message", typeMsg(kind)))
		}

		msg, err := r.codec.DecodeMessage(acc.Bytes())
		if err != nil {
			return protocolFailure(websocket.CloseProtocolError, wsmanager.CloseReasonInvalidMessage, err)
		}

		r.logger.Debugf("recv [%s]: %s", msg.Type, msg.Data)

		if err := r.route(msg); err != nil {
			return err
		}
	}
	return errLocalClose
}

// accumulate reads one message in bounded chunks until its final frame has been consumed.
func (r *receiver) accumulate(acc *bytes.Buffer, rd io.Reader, buf []byte) error {
	limit := r.codec.Limit()
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			if acc.Len()+n > limit {
				return protocolFailure(websocket.CloseMessageTooBig, wsmanager.CloseReasonMessageTooBig,
					fmt.Errorf("message exceeds %d bytes", limit))
			}
			acc.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyReadError(err)
		}
	}
}
