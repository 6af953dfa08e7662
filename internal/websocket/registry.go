package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsmanager"
)

// Registry owns the set of live connections, keyed by id with a reverse
// index by socket. Entries are built completely before they are inserted.
type Registry struct {
	opts ConnectionOptions

	mu       sync.RWMutex
	byID     map[string]*Connection
	bySocket map[Socket]string
}

// NewRegistry creates an empty registry whose connections use opts.
func NewRegistry(opts ConnectionOptions) *Registry {
	return &Registry{
		opts:     opts,
		byID:     make(map[string]*Connection),
		bySocket: make(map[Socket]string),
	}
}

// Add registers socket under requestedID, or under a fresh uuid when requestedID is empty.
// A requested id held by a live connection is rejected with ErrDuplicateConnectionID;
// the existing connection is left untouched.
func (r *Registry) Add(socket Socket, metadata url.Values, remoteAddr string, requestedID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySocket[socket]; ok {
		return nil, fmt.Errorf("%w: socket already registered as %s", wsmanager.ErrDuplicateConnectionID, id)
	}

	id := requestedID
	if id != "" {
		if _, taken := r.byID[id]; taken {
			return nil, fmt.Errorf("%w: %s", wsmanager.ErrDuplicateConnectionID, id)
		}
	} else {
		for {
			id = uuid.New().String()
			if _, taken := r.byID[id]; !taken {
				break
			}
		}
	}

	conn := newConnection(id, socket, metadata, remoteAddr, r.opts)
	r.byID[id] = conn
	r.bySocket[socket] = id
	return conn, nil
}

// Remove deletes the connection and closes it with a normal closure.
// It returns the removed connection, or nil when id was not registered.
// Of several concurrent callers only one receives the connection and closes it.
func (r *Registry) Remove(ctx context.Context, id string) *Connection {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.bySocket, conn.socket)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	conn.CloseWithCode(ctx, websocket.CloseNormalClosure, wsmanager.CloseReasonRemoved)
	return conn
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byID[id]
	return conn, ok
}

// IDOf returns the id a socket is registered under.
func (r *Registry) IDOf(socket Socket) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySocket[socket]
	return id, ok
}

// OpenConnections returns a snapshot of the connections in state Open.
func (r *Registry) OpenConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		if conn.IsAlive() {
			out = append(out, conn)
		}
	}
	return out
}

// Len returns the number of registered connections, open or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CloseAll removes every connection, closing each with code and reason.
// It returns the removed connections.
func (r *Registry) CloseAll(ctx context.Context, code int, reason string) []*Connection {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byID))
	for id, conn := range r.byID {
		conns = append(conns, conn)
		delete(r.byID, id)
		delete(r.bySocket, conn.socket)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.CloseWithCode(ctx, code, reason)
	}
	return conns
}
