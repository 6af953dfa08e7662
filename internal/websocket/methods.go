package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/luciancaetano/wsmanager"
	"github.com/luciancaetano/wsmanager/internal/protocol"
)

var (
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	connectionType = reflect.TypeOf((*wsmanager.Connection)(nil)).Elem()
	nullArgument   = []byte("null")
)

// invocationError is a non-fatal invocation failure. reply is the text sent back to the caller.
type invocationError struct {
	kind  error
	reply string
}

func (e *invocationError) Error() string {
	return e.kind.Error() + ": " + e.reply
}

func (e *invocationError) Unwrap() error {
	return e.kind
}

// methodPanic wraps a value recovered from a method call.
type methodPanic struct {
	value any
}

func (p *methodPanic) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

type method struct {
	name   string
	fn     reflect.Value
	lead   bool
	params []reflect.Type
}

// methodTable maps invokable names to typed Go funcs. Only registered funcs can be reached.
// When lead is set, every func must take it as its first parameter, and the caller
// supplies it on each call rather than the remote peer.
type methodTable struct {
	lead reflect.Type

	mu      sync.RWMutex
	methods map[string]*method
}

func newMethodTable(lead reflect.Type) *methodTable {
	return &methodTable{
		lead:    lead,
		methods: make(map[string]*method),
	}
}

func (t *methodTable) register(name string, fn any) error {
	if name == "" {
		return fmt.Errorf("%w: empty method name", wsmanager.ErrInvalidMethod)
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: %s: want a func, got %T", wsmanager.ErrInvalidMethod, name, fn)
	}

	typ := v.Type()
	if typ.IsVariadic() {
		return fmt.Errorf("%w: %s: variadic funcs are not supported", wsmanager.ErrInvalidMethod, name)
	}
	if typ.NumOut() > 1 || (typ.NumOut() == 1 && typ.Out(0) != errorType) {
		return fmt.Errorf("%w: %s: may only return error", wsmanager.ErrInvalidMethod, name)
	}

	m := &method{name: name, fn: v}
	start := 0
	if t.lead != nil {
		if typ.NumIn() == 0 || typ.In(0) != t.lead {
			return fmt.Errorf("%w: %s: first parameter must be %s", wsmanager.ErrInvalidMethod, name, t.lead)
		}
		m.lead = true
		start = 1
	}

	for i := start; i < typ.NumIn(); i++ {
		p := typ.In(i)
		switch p.Kind() {
		case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
			return fmt.Errorf("%w: %s: parameter %d of type %s cannot be decoded", wsmanager.ErrInvalidMethod, name, i, p)
		}
		m.params = append(m.params, p)
	}

	t.mu.Lock()
	t.methods[name] = m
	t.mu.Unlock()
	return nil
}

func (t *methodTable) lookup(name string) (*method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.methods[name]
	return m, ok
}

// resolve finds the method named by desc and binds its arguments.
func (t *methodTable) resolve(codec *protocol.Codec, desc protocol.InvocationDescriptor) (*method, []reflect.Value, error) {
	m, ok := t.lookup(desc.MethodName)
	if !ok {
		return nil, nil, &invocationError{
			kind:  wsmanager.ErrMethodNotFound,
			reply: fmt.Sprintf(wsmanager.ReplyMethodNotFound, desc.MethodName),
		}
	}
	args, err := m.bind(codec, desc.Arguments)
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

// bind decodes raw arguments into the declared parameter types.
func (m *method) bind(codec *protocol.Codec, raw []json.RawMessage) ([]reflect.Value, error) {
	if len(raw) != len(m.params) {
		return nil, &invocationError{
			kind:  wsmanager.ErrArgumentMismatch,
			reply: fmt.Sprintf(wsmanager.ReplyArgumentCount, m.name, len(m.params), len(raw)),
		}
	}

	args := make([]reflect.Value, len(raw))
	for i, p := range m.params {
		if bytes.Equal(bytes.TrimSpace(raw[i]), nullArgument) && !nillable(p) {
			return nil, m.mismatch(i, fmt.Errorf("cannot use null as %s", p))
		}
		ptr := reflect.New(p)
		if err := codec.BindArgument(raw[i], ptr.Interface()); err != nil {
			return nil, m.mismatch(i, describeBindError(err, p))
		}
		args[i] = ptr.Elem()
	}
	return args, nil
}

func (m *method) mismatch(i int, cause error) error {
	return &invocationError{
		kind:  wsmanager.ErrArgumentMismatch,
		reply: fmt.Sprintf(wsmanager.ReplyArgumentType, m.name, i+1, cause),
	}
}

// call runs the method. A panic inside it is recovered and returned as *methodPanic.
func (m *method) call(lead reflect.Value, args []reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &methodPanic{value: r}
		}
	}()

	in := args
	if m.lead {
		in = make([]reflect.Value, 0, len(args)+1)
		in = append(in, lead)
		in = append(in, args...)
	}

	out := m.fn.Call(in)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

func describeBindError(err error, p reflect.Type) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Errorf("cannot use %s as %s in field %s", typeErr.Value, typeErr.Type, typeErr.Field)
		}
		return fmt.Errorf("cannot use %s as %s", typeErr.Value, p)
	}
	return fmt.Errorf("cannot decode %s: %v", p, err)
}
