// ABOUTME: Represents a single authenticated gateway WebSocket connection
// ABOUTME: Serializes frame writes and owns socket close semantics

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// writeTimeout bounds a single frame write. Sends are fire-and-forget; a
// gateway that cannot drain its socket within this window loses the frame.
const writeTimeout = 10 * time.Second

// wire abstracts the underlying WebSocket for tests.
type wire interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn is a live, authenticated connection to one gateway process.
type Conn struct {
	GatewayID string

	ws      wire
	writeMu sync.Mutex
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an authenticated WebSocket as a gateway connection.
func NewConn(gatewayID string, ws wire, logger *slog.Logger) *Conn {
	return &Conn{
		GatewayID: gatewayID,
		ws:        ws,
		logger:    logger.With("component", "gateway", "gateway_id", gatewayID),
		done:      make(chan struct{}),
	}
}

// Send encodes and writes a frame. Writes are serialized; there is no
// application-level retry beyond what the transport guarantees.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close terminates the connection. Safe to call multiple times.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(code, reason); err != nil {
			c.logger.Debug("closing connection", "error", err)
		}
	})
}

// Done is closed when the connection has been terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
