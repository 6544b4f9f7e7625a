// ABOUTME: In-memory registry of authenticated gateway connections
// ABOUTME: Enforces at most one live connection per gateway id

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"
)

// ErrGatewayOffline indicates the target gateway has no live connection.
var ErrGatewayOffline = errors.New("gateway not connected")

// Registry tracks live gateway connections by id. A new authenticated
// connection for an already-registered id replaces and closes the stale one.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// Register adds a connection, closing any previous connection for the same
// gateway id. Returns true if a stale connection was replaced.
func (r *Registry) Register(c *Conn) bool {
	r.mu.Lock()
	old, replaced := r.conns[c.GatewayID]
	r.conns[c.GatewayID] = c
	total := len(r.conns)
	r.mu.Unlock()

	if replaced {
		old.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}

	r.logger.Info("gateway connected",
		"gateway_id", c.GatewayID,
		"replaced", replaced,
		"total", total,
	)
	return replaced
}

// Unregister removes a connection, but only if it is still the registered one.
// A connection superseded by a reconnect must not evict its replacement.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	current, ok := r.conns[c.GatewayID]
	if ok && current == c {
		delete(r.conns, c.GatewayID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok && current == c {
		r.logger.Info("gateway disconnected", "gateway_id", c.GatewayID, "total", total)
	}
}

// Get returns the live connection for a gateway id.
func (r *Registry) Get(gatewayID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[gatewayID]
	return c, ok
}

// Send delivers a frame to a gateway's live connection.
// Returns ErrGatewayOffline if none is registered.
func (r *Registry) Send(ctx context.Context, gatewayID string, f Frame) error {
	c, ok := r.Get(gatewayID)
	if !ok {
		return ErrGatewayOffline
	}
	return c.Send(ctx, f)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
