// ABOUTME: Gateway frame handlers: replies out to the platform, binding admin
// ABOUTME: Implements gateway.Handler on *Relay

package relay

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/szjhtz/easyclaw-sub002/internal/gateway"
)

// maxTextBytes is the platform's limit on the UTF-8 byte length of one text
// message. Longer replies are truncated, not split.
const maxTextBytes = 2048

// ellipsis marks a truncated reply. Three bytes of UTF-8.
const ellipsis = "…"

var _ gateway.Handler = (*Relay)(nil)

// GatewayConnected replays the gateway's bindings so a freshly (re)connected
// process knows which users it serves without waiting for new traffic.
func (r *Relay) GatewayConnected(ctx context.Context, gatewayID string) {
	users, err := r.store.ListByGateway(ctx, gatewayID)
	if err != nil {
		r.logger.Error("listing bindings on connect failed",
			"gateway_id", gatewayID,
			"error", err,
		)
		return
	}

	for _, userID := range users {
		if err := r.registry.Send(ctx, gatewayID, &gateway.BindingResolved{UserID: userID}); err != nil {
			r.logger.Debug("binding replay not delivered",
				"gateway_id", gatewayID,
				"error", err,
			)
			return
		}
	}
	r.logger.Info("gateway connected", "gateway_id", gatewayID, "bindings", len(users))
}

// HandleReply sends a gateway's text answer to the platform, truncating to
// the platform's byte limit first.
func (r *Relay) HandleReply(ctx context.Context, gatewayID string, f *gateway.Reply) {
	content := truncateUTF8(f.Content, maxTextBytes)
	if content != f.Content {
		r.logger.Warn("reply truncated to platform limit",
			"gateway_id", gatewayID,
			"external_user_id", f.UserID,
			"original_bytes", len(f.Content),
		)
	}

	if err := r.client.SendText(ctx, f.UserID, content); err != nil {
		r.logger.Error("sending text reply failed",
			"gateway_id", gatewayID,
			"external_user_id", f.UserID,
			"error", err,
		)
		r.respond(ctx, gatewayID, &gateway.ErrorFrame{ID: f.ID, Message: err.Error()})
		return
	}
	r.respond(ctx, gatewayID, &gateway.Ack{ID: f.ID})
}

// HandleImageReply sends a gateway's image answer, referencing media the
// gateway already uploaded to the platform.
func (r *Relay) HandleImageReply(ctx context.Context, gatewayID string, f *gateway.ImageReply) {
	if err := r.client.SendImage(ctx, f.UserID, f.MediaID); err != nil {
		r.logger.Error("sending image reply failed",
			"gateway_id", gatewayID,
			"external_user_id", f.UserID,
			"media_id", f.MediaID,
			"error", err,
		)
		r.respond(ctx, gatewayID, &gateway.ErrorFrame{ID: f.ID, Message: err.Error()})
		return
	}
	r.respond(ctx, gatewayID, &gateway.Ack{ID: f.ID})
}

// HandleCreateBinding issues a single-use pairing token and returns the
// scannable URL carrying it.
func (r *Relay) HandleCreateBinding(ctx context.Context, gatewayID string, f *gateway.CreateBinding) {
	pending, scanURL, err := r.issuePairing(ctx, gatewayID)
	if err != nil {
		r.logger.Error("issuing pairing token failed",
			"gateway_id", gatewayID,
			"error", err,
		)
		r.respond(ctx, gatewayID, &gateway.ErrorFrame{ID: f.ID, Message: err.Error()})
		return
	}

	r.logger.Info("issued pairing token",
		"gateway_id", gatewayID,
		"expires_at", pending.ExpiresAt,
	)
	r.respond(ctx, gatewayID, &gateway.CreateBindingAck{
		ID:        f.ID,
		Token:     pending.Token,
		URL:       scanURL,
		ExpiresAt: pending.ExpiresAt.Unix(),
	})
}

// HandleUnbindAll removes every binding for the gateway and ends the platform
// session of each affected user so follow-up messages route back to reception.
func (r *Relay) HandleUnbindAll(ctx context.Context, gatewayID string, f *gateway.UnbindAll) {
	// List before deleting; the delete erases the user set we need to close.
	users, err := r.store.ListByGateway(ctx, gatewayID)
	if err != nil {
		r.logger.Error("listing bindings for unbind failed",
			"gateway_id", gatewayID,
			"error", err,
		)
		r.respond(ctx, gatewayID, &gateway.ErrorFrame{ID: f.ID, Message: err.Error()})
		return
	}

	count, err := r.store.UnbindByGateway(ctx, gatewayID)
	if err != nil {
		r.logger.Error("unbinding gateway failed",
			"gateway_id", gatewayID,
			"error", err,
		)
		r.respond(ctx, gatewayID, &gateway.ErrorFrame{ID: f.ID, Message: err.Error()})
		return
	}

	for _, userID := range users {
		if err := r.client.EndSession(ctx, userID); err != nil {
			// Best effort; the binding is already gone.
			r.logger.Warn("ending platform session failed",
				"external_user_id", userID,
				"error", err,
			)
		}
	}

	r.logger.Info("unbound gateway", "gateway_id", gatewayID, "count", count)
	r.respond(ctx, gatewayID, &gateway.Ack{ID: f.ID, Count: count})
}

// respond delivers a control frame back to the requesting gateway, tolerating
// a connection that dropped mid-request.
func (r *Relay) respond(ctx context.Context, gatewayID string, frame gateway.Frame) {
	if err := r.registry.Send(ctx, gatewayID, frame); err != nil {
		if !errors.Is(err, gateway.ErrGatewayOffline) {
			r.logger.Warn("responding to gateway failed",
				"gateway_id", gatewayID,
				"error", err,
			)
		}
	}
}

// truncateUTF8 shortens s to at most max bytes without splitting a rune,
// appending an ellipsis when anything was cut. A naive byte slice could land
// mid-rune and produce mojibake on the recipient's side.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}

	budget := max - len(ellipsis)
	if budget <= 0 {
		return ""
	}

	// Walk back to the start of the rune the cut point landed inside. UTF-8
	// continuation bytes never start a rune, so this moves at most 3 bytes.
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + ellipsis
}
