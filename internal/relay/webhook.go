// ABOUTME: HTTP webhook endpoint for platform callbacks
// ABOUTME: GET verifies the URL; POST acks immediately and processes asynchronously

package relay

import (
	"context"
	"io"
	"net/http"

	"github.com/szjhtz/easyclaw-sub002/internal/wecom"
)

// maxCallbackBody bounds webhook POST bodies. Callback envelopes are small;
// anything larger is not a legitimate delivery.
const maxCallbackBody = 1 << 20

// HandleVerify answers the platform's GET URL-verification probe: verify the
// signature over echostr, decrypt it, and echo the plaintext.
func (r *Relay) HandleVerify(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	sig := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	echostr := q.Get("echostr")

	if !wecom.VerifySignature(sig, r.cfg.CallbackToken, timestamp, nonce, echostr) {
		r.logger.Warn("webhook verification rejected", "reason", "bad signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	plain, err := wecom.Decrypt(echostr, r.cfg.Keypair, r.cfg.CorpID)
	if err != nil {
		r.logger.Warn("webhook verification rejected", "reason", "decrypt failed", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Write(plain)
}

// HandleCallback accepts a webhook POST. The fixed acknowledgment is written
// before any crypto or relay work: the platform's delivery SLA is decoupled
// from processing time, so processing failures are visible only in logs.
func (r *Relay) HandleCallback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	sig := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")

	body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBody))
	if err != nil {
		r.logger.Warn("dropping webhook delivery", "reason", "body read failed", "error", err)
		w.Write([]byte("success"))
		return
	}

	w.Write([]byte("success"))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ProcessTimeout)
		defer cancel()
		r.processCallback(ctx, sig, timestamp, nonce, body)
	}()
}

// processCallback verifies, decrypts and parses one webhook delivery, then
// triggers a sync pull for new-message events. Every failure is terminal for
// this delivery: the next webhook ping surfaces unread messages via the
// cursor, so nothing here retries.
func (r *Relay) processCallback(ctx context.Context, sig, timestamp, nonce string, body []byte) {
	env, err := wecom.ParseCallbackEnvelope(body)
	if err != nil {
		r.logger.Warn("dropping webhook delivery", "reason", "bad envelope", "error", err)
		return
	}

	if !wecom.VerifySignature(sig, r.cfg.CallbackToken, timestamp, nonce, env.Encrypt) {
		r.logger.Warn("dropping webhook delivery", "reason", "bad signature")
		return
	}

	plain, err := wecom.Decrypt(env.Encrypt, r.cfg.Keypair, r.cfg.CorpID)
	if err != nil {
		// err never contains decrypted content
		r.logger.Warn("dropping webhook delivery", "reason", "decrypt failed", "error", err)
		return
	}

	ev, err := wecom.ParseCallbackEvent(plain)
	if err != nil {
		r.logger.Warn("dropping webhook delivery", "reason", "bad event payload", "error", err)
		return
	}

	if ev.MsgType != "event" || ev.Event != wecom.EventKfMsgOrEvent {
		r.logger.Debug("ignoring callback", "msg_type", ev.MsgType, "event", ev.Event)
		return
	}

	if err := r.Sync(ctx, ev.Token); err != nil {
		r.logger.Error("sync after webhook failed", "error", err)
	}
}
