// ABOUTME: QR-binding pairing flow: token issuance, contact-way URL, resolution
// ABOUTME: Tokens are single-use nanoids consumed atomically by the store

package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/szjhtz/easyclaw-sub002/internal/gateway"
	"github.com/szjhtz/easyclaw-sub002/internal/store"
)

// pairingTokenLength is the nanoid length for pairing tokens. 12 characters
// of a 64-symbol alphabet carry ~71 bits of entropy; any user who texts a
// valid token completes that binding, so short tokens are a real risk.
const pairingTokenLength = 12

// pairedConfirmation is the reply sent to a user whose pairing just completed.
const pairedConfirmation = "已连接助手，直接发消息即可对话。"

// issuePairing creates a single-use pairing token for a gateway and returns
// the pending binding plus the scannable URL carrying the token.
func (r *Relay) issuePairing(ctx context.Context, gatewayID string) (*store.PendingBinding, string, error) {
	token, err := gonanoid.New(pairingTokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("generating pairing token: %w", err)
	}

	pending, err := r.store.CreatePendingBinding(ctx, token, gatewayID)
	if err != nil {
		return nil, "", fmt.Errorf("storing pending binding: %w", err)
	}

	base, err := r.contactWayURL(ctx)
	if err != nil {
		return nil, "", err
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, "", fmt.Errorf("parsing contact way url: %w", err)
	}
	q := u.Query()
	q.Set("scene_param", token)
	u.RawQuery = q.Encode()

	return pending, u.String(), nil
}

// contactWayURL returns the process-lifetime contact-way URL, creating it on
// first use. One underlying platform object serves all pairing attempts,
// differentiated only by the per-attempt scene parameter.
func (r *Relay) contactWayURL(ctx context.Context) (string, error) {
	r.contactMu.Lock()
	defer r.contactMu.Unlock()

	if r.contactURL != "" {
		return r.contactURL, nil
	}

	u, err := r.client.AddContactWay(ctx, r.cfg.ContactScene)
	if err != nil {
		return "", fmt.Errorf("creating contact way: %w", err)
	}
	r.contactURL = u
	r.logger.Info("created pairing contact way", "scene", r.cfg.ContactScene)
	return u, nil
}

// tryResolvePairing checks candidate against pending tokens and, on a match,
// records the binding, confirms to the user and notifies the gateway.
// Returns false for unknown, expired or already-consumed tokens, in which
// case the caller falls through to ordinary routing.
func (r *Relay) tryResolvePairing(ctx context.Context, externalUserID, candidate string) bool {
	if candidate == "" {
		return false
	}

	gatewayID, err := r.store.ResolvePendingBinding(ctx, candidate)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		r.logger.Error("resolving pending binding failed", "error", err)
		return false
	}

	if err := r.store.Bind(ctx, externalUserID, gatewayID); err != nil {
		r.logger.Error("recording binding failed",
			"external_user_id", externalUserID,
			"gateway_id", gatewayID,
			"error", err,
		)
		return true
	}

	r.logger.Info("pairing completed",
		"external_user_id", externalUserID,
		"gateway_id", gatewayID,
	)

	if err := r.client.SendText(ctx, externalUserID, pairedConfirmation); err != nil {
		r.logger.Warn("sending pairing confirmation failed",
			"external_user_id", externalUserID,
			"error", err,
		)
	}

	if err := r.registry.Send(ctx, gatewayID, &gateway.BindingResolved{UserID: externalUserID}); err != nil {
		// The gateway learns about the binding on its next reconnect.
		r.logger.Debug("binding_resolved not delivered",
			"gateway_id", gatewayID,
			"error", err,
		)
	}

	return true
}
