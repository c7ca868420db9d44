// Package session tracks live chat connections: the authentication gate at
// handshake time and the fan-out set the broadcast engine delivers to.
package session

import (
	"crypto/subtle"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/watsonu/WebChat-Furia/internal/metrics"
)

// ErrAuthRejected reports a handshake token that does not match the shared
// secret. The transport closes the connection before any event is processed.
var ErrAuthRejected = errors.New("authentication rejected")

// Connection is one open, authenticated client connection. Its identifier is
// unique for the process lifetime; registry membership exists exactly while
// the connection is open.
type Connection struct {
	id        uint64
	sendQueue chan []byte
	closeOnce sync.Once
}

// ID returns the process-lifetime connection identifier.
func (c *Connection) ID() uint64 { return c.id }

// Outbound returns the channel the transport's write loop drains. The
// registry closes it when the connection is unregistered.
func (c *Connection) Outbound() <-chan []byte { return c.sendQueue }

// Deliver enqueues a payload without blocking. It reports false when the
// queue is full, which the caller treats as a slow client.
func (c *Connection) Deliver(payload []byte) (ok bool) {
	// A send can race with Unregister closing the queue; the connection is
	// gone either way, so the panic just means "not delivered".
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.sendQueue <- payload:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.sendQueue) })
}

// Registry owns the open/authenticated state of every connection and the
// fan-out set. Register and Unregister are idempotent; fan-out callers take
// a snapshot and iterate it, so membership changes during a broadcast never
// invalidate iteration.
type Registry struct {
	secret        string
	sendQueueSize int
	metrics       *metrics.Registry

	nextID uint64

	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewRegistry creates a registry gated by the given shared secret.
func NewRegistry(secret string, sendQueueSize int, m *metrics.Registry) *Registry {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Registry{
		secret:        secret,
		sendQueueSize: sendQueueSize,
		metrics:       m,
		conns:         make(map[uint64]*Connection),
	}
}

// Authenticate accepts a handshake token only on an exact match with the
// process-wide shared secret.
func (r *Registry) Authenticate(token string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) != 1 {
		if r.metrics != nil {
			r.metrics.Connections.AuthFailures.Inc()
		}
		return ErrAuthRejected
	}
	return nil
}

// Register creates a connection and adds it to the fan-out set.
func (r *Registry) Register() *Connection {
	c := &Connection{
		id:        atomic.AddUint64(&r.nextID, 1),
		sendQueue: make(chan []byte, r.sendQueueSize),
	}

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Connections.Active.Inc()
	}
	return c
}

// Unregister removes a connection from the fan-out set and closes its
// outbound queue. Duplicate calls are no-ops.
func (r *Registry) Unregister(c *Connection) {
	if c == nil {
		return
	}

	r.mu.Lock()
	_, present := r.conns[c.id]
	delete(r.conns, c.id)
	r.mu.Unlock()

	if present {
		if r.metrics != nil {
			r.metrics.Connections.Active.Dec()
		}
		c.close()
	}
}

// Count returns the number of registered connections, for diagnostics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the current fan-out set. Mutations after the snapshot do
// not affect an iteration already in progress.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
