package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	defaultMaxPayloadSize = 10 * 1024 * 1024 // 10MB max payload size
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed payload")

// MessageType selects how the Data field of a Message is interpreted.
type MessageType int

const (
	// Text carries opaque informational text.
	Text MessageType = 0
	// MethodInvocation carries a serialized InvocationDescriptor.
	MethodInvocation MessageType = 1
	// ConnectionEvent carries the connection id assigned by the server.
	ConnectionEvent MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "Text"
	case MethodInvocation:
		return "MethodInvocation"
	case ConnectionEvent:
		return "ConnectionEvent"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	return t >= Text && t <= ConnectionEvent
}

// Message is the envelope exchanged over the wire.
type Message struct {
	Type MessageType `json:"messageType"`
	Data string      `json:"data"`
}

// InvocationDescriptor names a remote method and its arguments.
// Arguments stay raw until the receiving side binds them to the
// declared parameter types of the resolved method.
type InvocationDescriptor struct {
	MethodName string            `json:"methodName"`
	Arguments  []json.RawMessage `json:"arguments"`
}

// Encoded is a Message together with its serialized form.
// It is immutable once built and can be written to any number of connections.
type Encoded struct {
	msg     Message
	payload []byte
}

// Message returns the envelope the payload was built from.
func (e *Encoded) Message() Message {
	return e.msg
}

// Bytes returns the serialized envelope. Callers must not modify it.
func (e *Encoded) Bytes() []byte {
	return e.payload
}

// Codec holds the serializer configuration. It is passed explicitly to every
// encode and decode call instead of living in package state.
type Codec struct {
	// MaxPayloadSize bounds a single serialized message in bytes. Zero means the default (10MB).
	MaxPayloadSize int
	// DisallowUnknownFields rejects envelopes and descriptors carrying unknown keys.
	DisallowUnknownFields bool
	// EscapeHTML escapes <, > and & inside JSON strings.
	EscapeHTML bool
}

// DefaultCodec returns the codec used when none is configured.
func DefaultCodec() *Codec {
	return &Codec{MaxPayloadSize: defaultMaxPayloadSize}
}

// Limit returns the effective maximum payload size.
func (c *Codec) Limit() int {
	if c == nil || c.MaxPayloadSize <= 0 {
		return defaultMaxPayloadSize
	}
	return c.MaxPayloadSize
}

func (c *Codec) marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(c != nil && c.EscapeHTML)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder terminates every value with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (c *Codec) unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if c != nil && c.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	// anything after the first value, stray closers included, is an error
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// EncodeMessage serializes a Message to its wire text form.
func (c *Codec) EncodeMessage(msg Message) ([]byte, error) {
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("unknown message type %d", int(msg.Type))
	}
	data, err := c.marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(data) > c.Limit() {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(data), c.Limit())
	}
	return data, nil
}

// Seal serializes msg once and returns the reusable result.
func (c *Codec) Seal(msg Message) (*Encoded, error) {
	data, err := c.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return &Encoded{msg: msg, payload: data}, nil
}

// DecodeMessage parses a wire text form into a Message.
func (c *Codec) DecodeMessage(data []byte) (Message, error) {
	if len(data) > c.Limit() {
		return Message{}, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrMalformed, len(data), c.Limit())
	}

	var raw struct {
		Type *MessageType `json:"messageType"`
		Data *string      `json:"data"`
	}
	if err := c.unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Type == nil {
		return Message{}, fmt.Errorf("%w: missing messageType", ErrMalformed)
	}
	if !raw.Type.Valid() {
		return Message{}, fmt.Errorf("%w: unknown messageType %d", ErrMalformed, int(*raw.Type))
	}

	msg := Message{Type: *raw.Type}
	if raw.Data != nil {
		msg.Data = *raw.Data
	}
	return msg, nil
}

// NewInvocation builds a descriptor, serializing every argument.
func (c *Codec) NewInvocation(methodName string, args ...any) (InvocationDescriptor, error) {
	if methodName == "" {
		return InvocationDescriptor{}, errors.New("method name is empty")
	}
	desc := InvocationDescriptor{
		MethodName: methodName,
		Arguments:  make([]json.RawMessage, 0, len(args)),
	}
	for i, arg := range args {
		raw, err := c.marshal(arg)
		if err != nil {
			return InvocationDescriptor{}, fmt.Errorf("argument %d: %w", i, err)
		}
		desc.Arguments = append(desc.Arguments, raw)
	}
	return desc, nil
}

// EncodeInvocation serializes a descriptor for use as Message data.
func (c *Codec) EncodeInvocation(desc InvocationDescriptor) (string, error) {
	if desc.Arguments == nil {
		desc.Arguments = []json.RawMessage{}
	}
	data, err := c.marshal(desc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeInvocation parses the data of a MethodInvocation message.
func (c *Codec) DecodeInvocation(data string) (InvocationDescriptor, error) {
	var desc InvocationDescriptor
	if err := c.unmarshal([]byte(data), &desc); err != nil {
		return InvocationDescriptor{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if desc.MethodName == "" {
		return InvocationDescriptor{}, fmt.Errorf("%w: missing methodName", ErrMalformed)
	}
	if desc.Arguments == nil {
		desc.Arguments = []json.RawMessage{}
	}
	return desc, nil
}

// InvocationMessage wraps a call to methodName in a MethodInvocation message.
func (c *Codec) InvocationMessage(methodName string, args ...any) (Message, error) {
	desc, err := c.NewInvocation(methodName, args...)
	if err != nil {
		return Message{}, err
	}
	data, err := c.EncodeInvocation(desc)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MethodInvocation, Data: data}, nil
}

// BindArgument decodes a single raw argument into v.
func (c *Codec) BindArgument(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
