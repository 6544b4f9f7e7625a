// ABOUTME: WebSocket endpoint for gateway processes with auth window and heartbeat
// ABOUTME: Dispatches validated frames to the relay's frame handler

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// Authentication errors.
var (
	errFirstFrameNotHello = errors.New("first frame must be hello")
	errBadAuthToken       = errors.New("invalid auth token")
)

// Handler receives validated frames from authenticated gateway connections.
type Handler interface {
	// GatewayConnected fires after registration, before any frames are read.
	GatewayConnected(ctx context.Context, gatewayID string)

	HandleReply(ctx context.Context, gatewayID string, f *Reply)
	HandleImageReply(ctx context.Context, gatewayID string, f *ImageReply)
	HandleCreateBinding(ctx context.Context, gatewayID string, f *CreateBinding)
	HandleUnbindAll(ctx context.Context, gatewayID string, f *UnbindAll)
}

// ServerConfig holds the WS endpoint's auth and liveness settings.
type ServerConfig struct {
	// AuthSecret is the shared secret gateways present in their hello frame.
	AuthSecret string
	// AuthWindow is how long a new connection has to send hello.
	AuthWindow time.Duration
	// HeartbeatInterval is the ping period.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long to wait for a pong before terminating.
	HeartbeatTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.AuthWindow == 0 {
		c.AuthWindow = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
}

// Server upgrades gateway WebSocket connections, authenticates them and runs
// their read/heartbeat loops.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	handler  Handler
	logger   *slog.Logger
}

// NewServer creates a Server over the given registry and frame handler.
func NewServer(cfg ServerConfig, registry *Registry, handler Handler, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:      cfg,
		registry: registry,
		handler:  handler,
		logger:   logger.With("component", "ws"),
	}
}

// HandleWS is the HTTP handler for gateway connections.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	ctx := r.Context()

	hello, err := s.awaitHello(ctx, ws)
	if err != nil {
		s.logger.Warn("gateway authentication failed", "error", err, "remote", r.RemoteAddr)
		ws.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	conn := NewConn(hello.GatewayID, ws, s.logger)
	s.registry.Register(conn)
	defer func() {
		s.registry.Unregister(conn)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	s.handler.GatewayConnected(ctx, hello.GatewayID)

	go s.heartbeat(ctx, conn, ws)
	s.readLoop(ctx, conn, ws)
}

// awaitHello reads the first frame within the auth window and verifies the
// shared secret.
func (s *Server) awaitHello(ctx context.Context, ws *websocket.Conn) (*Hello, error) {
	authCtx, cancel := context.WithTimeout(ctx, s.cfg.AuthWindow)
	defer cancel()

	_, data, err := ws.Read(authCtx)
	if err != nil {
		return nil, err
	}

	frame, err := ParseFrame(data)
	if err != nil {
		return nil, err
	}
	hello, ok := frame.(*Hello)
	if !ok {
		return nil, errFirstFrameNotHello
	}
	if subtle.ConstantTimeCompare([]byte(hello.AuthToken), []byte(s.cfg.AuthSecret)) != 1 {
		return nil, errBadAuthToken
	}
	return hello, nil
}

// heartbeat pings the connection every interval and terminates it when a pong
// does not arrive within the timeout. This is the sole liveness mechanism and
// is what detects half-open TCP connections.
func (s *Server) heartbeat(ctx context.Context, conn *Conn, ws *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Warn("heartbeat timeout, terminating connection",
					"gateway_id", conn.GatewayID,
					"error", err,
				)
				s.registry.Unregister(conn)
				conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		}
	}
}

// readLoop reads frames until the connection dies and dispatches them.
func (s *Server) readLoop(ctx context.Context, conn *Conn, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			s.logger.Debug("read loop ended",
				"gateway_id", conn.GatewayID,
				"status", websocket.CloseStatus(err),
			)
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			s.logger.Warn("invalid frame from gateway",
				"gateway_id", conn.GatewayID,
				"error", err,
			)
			if sendErr := conn.Send(ctx, &ErrorFrame{Message: err.Error()}); sendErr != nil {
				return
			}
			continue
		}

		switch f := frame.(type) {
		case *Reply:
			s.handler.HandleReply(ctx, conn.GatewayID, f)
		case *ImageReply:
			s.handler.HandleImageReply(ctx, conn.GatewayID, f)
		case *CreateBinding:
			s.handler.HandleCreateBinding(ctx, conn.GatewayID, f)
		case *UnbindAll:
			s.handler.HandleUnbindAll(ctx, conn.GatewayID, f)
		case *Hello:
			// Re-authentication is not a thing; ignore with a warning.
			s.logger.Warn("unexpected hello after authentication", "gateway_id", conn.GatewayID)
		default:
			if sendErr := conn.Send(ctx, &ErrorFrame{Message: "unexpected frame direction"}); sendErr != nil {
				return
			}
		}
	}
}
