// ABOUTME: Tagged-union WebSocket frame types exchanged with gateway processes
// ABOUTME: Frames are JSON text messages discriminated by a "type" field

package gateway

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates wire frames.
type FrameType string

// Gateway → relay frames.
const (
	FrameHello         FrameType = "hello"
	FrameReply         FrameType = "reply"
	FrameImageReply    FrameType = "image_reply"
	FrameCreateBinding FrameType = "create_binding"
	FrameUnbindAll     FrameType = "unbind_all"
)

// Relay → gateway frames.
const (
	FrameInbound          FrameType = "inbound"
	FrameBindingResolved  FrameType = "binding_resolved"
	FrameAck              FrameType = "ack"
	FrameError            FrameType = "error"
	FrameCreateBindingAck FrameType = "create_binding_ack"
)

// Frame is implemented by every wire frame variant.
type Frame interface {
	frameType() FrameType
}

// Hello authenticates a new connection. It must be the first frame and must
// arrive within the server's auth window.
type Hello struct {
	GatewayID string `json:"gateway_id"`
	AuthToken string `json:"auth_token"`
}

// Reply is a gateway's text answer for an external user.
type Reply struct {
	ID      string `json:"id,omitempty"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// ImageReply is a gateway's image answer, referencing an uploaded media id.
type ImageReply struct {
	ID      string `json:"id,omitempty"`
	UserID  string `json:"user_id"`
	MediaID string `json:"media_id"`
}

// CreateBinding asks the relay to issue a fresh pairing token and QR URL.
type CreateBinding struct {
	ID string `json:"id,omitempty"`
}

// UnbindAll asks the relay to drop every binding for the sending gateway.
type UnbindAll struct {
	ID string `json:"id,omitempty"`
}

// Inbound forwards one customer message to the bound gateway.
type Inbound struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// BindingResolved announces that a user is now bound to the receiving gateway.
// Sent when a pairing completes and re-sent for every existing binding after a
// gateway reconnects.
type BindingResolved struct {
	UserID string `json:"user_id"`
}

// Ack confirms a gateway request. Count carries the number of bindings removed
// for unbind_all acknowledgments.
type Ack struct {
	ID    string `json:"id,omitempty"`
	Count int    `json:"count,omitempty"`
}

// ErrorFrame reports a failed gateway request or an unparseable frame.
type ErrorFrame struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// CreateBindingAck returns the issued pairing token and scannable URL.
type CreateBindingAck struct {
	ID        string `json:"id,omitempty"`
	Token     string `json:"token"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func (*Hello) frameType() FrameType            { return FrameHello }
func (*Reply) frameType() FrameType            { return FrameReply }
func (*ImageReply) frameType() FrameType       { return FrameImageReply }
func (*CreateBinding) frameType() FrameType    { return FrameCreateBinding }
func (*UnbindAll) frameType() FrameType        { return FrameUnbindAll }
func (*Inbound) frameType() FrameType          { return FrameInbound }
func (*BindingResolved) frameType() FrameType  { return FrameBindingResolved }
func (*Ack) frameType() FrameType              { return FrameAck }
func (*ErrorFrame) frameType() FrameType       { return FrameError }
func (*CreateBindingAck) frameType() FrameType { return FrameCreateBindingAck }

// EncodeFrame serializes a frame with its type discriminator.
func EncodeFrame(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.frameType(), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.frameType(), err)
	}
	fields["type"] = f.frameType()
	return json.Marshal(fields)
}

// ParseFrame decodes and validates a wire frame. Unknown types and missing
// required fields are rejected at the boundary rather than surfacing later.
func ParseFrame(data []byte) (Frame, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}

	decode := func(f Frame) error {
		return json.Unmarshal(data, f)
	}

	switch head.Type {
	case FrameHello:
		var f Hello
		if err := decode(&f); err != nil {
			return nil, err
		}
		if f.GatewayID == "" {
			return nil, fmt.Errorf("hello frame missing gateway_id")
		}
		return &f, nil

	case FrameReply:
		var f Reply
		if err := decode(&f); err != nil {
			return nil, err
		}
		if f.UserID == "" {
			return nil, fmt.Errorf("reply frame missing user_id")
		}
		return &f, nil

	case FrameImageReply:
		var f ImageReply
		if err := decode(&f); err != nil {
			return nil, err
		}
		if f.UserID == "" || f.MediaID == "" {
			return nil, fmt.Errorf("image_reply frame missing user_id or media_id")
		}
		return &f, nil

	case FrameCreateBinding:
		var f CreateBinding
		if err := decode(&f); err != nil {
			return nil, err
		}
		return &f, nil

	case FrameUnbindAll:
		var f UnbindAll
		if err := decode(&f); err != nil {
			return nil, err
		}
		return &f, nil

	case FrameInbound:
		var f Inbound
		if err := decode(&f); err != nil {
			return nil, err
		}
		if f.UserID == "" {
			return nil, fmt.Errorf("inbound frame missing user_id")
		}
		return &f, nil

	case FrameBindingResolved:
		var f BindingResolved
		if err := decode(&f); err != nil {
			return nil, err
		}
		if f.UserID == "" {
			return nil, fmt.Errorf("binding_resolved frame missing user_id")
		}
		return &f, nil

	case FrameAck:
		var f Ack
		if err := decode(&f); err != nil {
			return nil, err
		}
		return &f, nil

	case FrameError:
		var f ErrorFrame
		if err := decode(&f); err != nil {
			return nil, err
		}
		return &f, nil

	case FrameCreateBindingAck:
		var f CreateBindingAck
		if err := decode(&f); err != nil {
			return nil, err
		}
		return &f, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}
