// ABOUTME: Cursor-driven message sync and inbound routing to bound gateways
// ABOUTME: Preserves per-user platform order; drops are logged, never buffered

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/szjhtz/easyclaw-sub002/internal/gateway"
	"github.com/szjhtz/easyclaw-sub002/internal/store"
	"github.com/szjhtz/easyclaw-sub002/internal/wecom"
)

// Sync pulls all pending messages from the platform starting at the persisted
// cursor and routes them in platform order. The cursor is persisted after
// each fully-processed page so a restart resumes rather than re-reading or
// skipping.
func (r *Relay) Sync(ctx context.Context, token string) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	cursor, err := r.store.GetSyncCursor(ctx)
	if err != nil {
		return fmt.Errorf("loading sync cursor: %w", err)
	}

	for {
		page, err := r.client.SyncMessages(ctx, cursor, token)
		if err != nil {
			return fmt.Errorf("syncing messages: %w", err)
		}

		for i := range page.Messages {
			r.processMessage(ctx, &page.Messages[i])
		}

		if page.NextCursor != "" && page.NextCursor != cursor {
			if err := r.store.SetSyncCursor(ctx, page.NextCursor); err != nil {
				return fmt.Errorf("persisting sync cursor: %w", err)
			}
			cursor = page.NextCursor
		}

		if !page.HasMore {
			return nil
		}
	}
}

// processMessage routes one synced entry. Unroutable messages are dropped
// with a logged reason; there is no outbox and no retry.
func (r *Relay) processMessage(ctx context.Context, msg *wecom.SyncedMessage) {
	if msg.MsgID != "" && r.seen.Seen(msg.MsgID) {
		r.logger.Debug("skipping duplicate message", "msg_id", msg.MsgID)
		return
	}

	if msg.MsgType == "event" {
		r.processEvent(ctx, msg)
		return
	}

	// Only customer-originated entries are conversational messages; the rest
	// are platform lifecycle noise.
	if msg.Origin != wecom.OriginCustomer {
		r.logger.Debug("skipping non-customer message",
			"msg_id", msg.MsgID,
			"origin", msg.Origin,
		)
		return
	}

	// The payload object must match the declared type; the sync response is
	// platform input and gets the same boundary validation as WS frames.
	switch msg.MsgType {
	case "text":
		if msg.Text == nil {
			r.dropMissingPayload(msg)
			return
		}
		content := msg.Text.Content
		// A text that matches a pending pairing token is a pairing action,
		// not a conversational message.
		if r.tryResolvePairing(ctx, msg.ExternalUserID, strings.TrimSpace(content)) {
			return
		}
		r.forward(ctx, msg, "text", content)

	case "image":
		if msg.Image == nil {
			r.dropMissingPayload(msg)
			return
		}
		// Media is forwarded by reference: the gateway fetches the bytes
		// itself, the relay never buffers them.
		r.forward(ctx, msg, "image", msg.Image.MediaID)

	case "voice":
		if msg.Voice == nil {
			r.dropMissingPayload(msg)
			return
		}
		r.forward(ctx, msg, "voice", msg.Voice.MediaID)

	default:
		r.logger.Warn("dropping message",
			"reason", "unsupported message type",
			"msg_id", msg.MsgID,
			"msg_type", msg.MsgType,
			"external_user_id", msg.ExternalUserID,
		)
	}
}

// dropMissingPayload logs a synced entry whose payload object does not match
// its declared message type.
func (r *Relay) dropMissingPayload(msg *wecom.SyncedMessage) {
	r.logger.Warn("dropping message",
		"reason", "missing payload for message type",
		"msg_id", msg.MsgID,
		"msg_type", msg.MsgType,
		"external_user_id", msg.ExternalUserID,
	)
}

// processEvent handles event-type sync entries. A session-entry event whose
// scene parameter matches a pending token completes that pairing; everything
// else is skipped.
func (r *Relay) processEvent(ctx context.Context, msg *wecom.SyncedMessage) {
	if msg.Event == nil {
		return
	}

	if msg.Event.EventType == "enter_session" && msg.Event.SceneParam != "" {
		user := msg.Event.ExternalUserID
		if user == "" {
			user = msg.ExternalUserID
		}
		if r.tryResolvePairing(ctx, user, msg.Event.SceneParam) {
			return
		}
		r.logger.Warn("dropping message",
			"reason", "scene param matched no pending binding",
			"msg_id", msg.MsgID,
			"external_user_id", user,
		)
		return
	}

	r.logger.Debug("skipping system event", "event_type", msg.Event.EventType)
}

// forward delivers a typed inbound frame to the sender's bound gateway.
func (r *Relay) forward(ctx context.Context, msg *wecom.SyncedMessage, msgType, content string) {
	gatewayID, err := r.store.Lookup(ctx, msg.ExternalUserID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("dropping message",
			"reason", "no binding for sender",
			"msg_id", msg.MsgID,
			"external_user_id", msg.ExternalUserID,
		)
		return
	}
	if err != nil {
		r.logger.Error("binding lookup failed", "msg_id", msg.MsgID, "error", err)
		return
	}

	id := msg.MsgID
	if id == "" {
		id = uuid.New().String()
	}

	frame := &gateway.Inbound{
		ID:        id,
		UserID:    msg.ExternalUserID,
		MsgType:   msgType,
		Content:   content,
		Timestamp: msg.SendTime,
	}

	if err := r.registry.Send(ctx, gatewayID, frame); err != nil {
		r.logger.Warn("dropping message",
			"reason", "gateway not connected",
			"msg_id", msg.MsgID,
			"external_user_id", msg.ExternalUserID,
			"gateway_id", gatewayID,
			"error", err,
		)
	}
}
