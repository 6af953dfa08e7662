package wsmanager

// Close reasons sent with the close frame.
const (
	CloseReasonRemoved         = "closed by the connection manager"
	CloseReasonServerStopping  = "server stopping"
	CloseReasonRateLimited     = "rate limit exceeded"
	CloseReasonInvalidMessage  = "invalid message format"
	CloseReasonUnsupportedData = "unsupported message kind"
	CloseReasonMessageTooBig   = "message too big"
)

// Text reply formats for failed invocations.
const (
	ReplyMethodNotFound   = "cannot find method %q"
	ReplyArgumentCount    = "method %q takes %d arguments, got %d"
	ReplyArgumentType     = "method %q: argument %d: %v"
	ReplyInvocationFailed = "method %q failed"
)

// DefaultPath is where the server accepts websocket upgrades.
const DefaultPath = "/ws"
