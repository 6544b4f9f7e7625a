// ABOUTME: REST client for the WeCom customer-service APIs consumed by the relay
// ABOUTME: Covers token fetch, cursor message sync, send, session state and contact ways

package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://qyapi.weixin.qq.com"

// Message origins reported by sync_msg. Only customer-originated entries are
// genuine conversational messages.
const (
	OriginCustomer = 3
	OriginSystem   = 4
	OriginServicer = 5
)

// Service states for kf/service_state/trans.
const (
	ServiceStateEnded = 4
)

// APIError is an application-level error embedded in an HTTP 200 response.
// The platform signals failures through errcode, separate from HTTP status.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom api error %d: %s", e.Code, e.Msg)
}

// ClientConfig holds the credentials and endpoints for the platform API.
type ClientConfig struct {
	BaseURL    string
	CorpID     string
	CorpSecret string
	OpenKfID   string
	Timeout    time.Duration
}

// Client talks to the WeCom customer-service REST APIs. All calls carry a
// context deadline; none block indefinitely.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	tokens *tokenCache
	logger *slog.Logger
}

// NewClient creates a Client. A zero Timeout defaults to 15 seconds.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "wecom"),
	}
	c.tokens = newTokenCache(c.fetchToken)
	return c
}

type baseResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (r baseResponse) err() error {
	if r.ErrCode != 0 {
		return &APIError{Code: r.ErrCode, Msg: r.ErrMsg}
	}
	return nil
}

// fetchToken retrieves a fresh access token from gettoken.
func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	u := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
		c.cfg.BaseURL, url.QueryEscape(c.cfg.CorpID), url.QueryEscape(c.cfg.CorpSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, fmt.Errorf("building token request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetching token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var out struct {
		baseResponse
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	if err := out.err(); err != nil {
		return "", 0, err
	}

	c.logger.Debug("refreshed access token", "expires_in", out.ExpiresIn)
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}

// Errcodes indicating the presented access token is no longer accepted.
const (
	errCodeTokenInvalid = 40014
	errCodeTokenExpired = 42001
)

// postJSON posts a JSON body to path with the cached access token and decodes
// the response into out, which must embed baseResponse via its own errcode
// fields being checked by the caller. A token-rejection errcode invalidates
// the cache and replays the request once with a fresh token.
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return err
		}

		u := fmt.Sprintf("%s%s?access_token=%s", c.cfg.BaseURL, path, url.QueryEscape(token))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("calling %s: %w", path, err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading %s response: %w", path, err)
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
		}

		var base baseResponse
		if err := json.Unmarshal(raw, &base); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		if attempt == 0 && (base.ErrCode == errCodeTokenInvalid || base.ErrCode == errCodeTokenExpired) {
			c.logger.Debug("access token rejected, refreshing", "path", path, "errcode", base.ErrCode)
			c.tokens.Invalidate()
			continue
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}
}

// SyncedMessage is a single entry from a sync_msg page.
type SyncedMessage struct {
	MsgID          string        `json:"msgid"`
	OpenKfID       string        `json:"open_kfid"`
	ExternalUserID string        `json:"external_userid"`
	SendTime       int64         `json:"send_time"`
	Origin         int           `json:"origin"`
	MsgType        string        `json:"msgtype"`
	Text           *TextPayload  `json:"text,omitempty"`
	Image          *MediaPayload `json:"image,omitempty"`
	Voice          *MediaPayload `json:"voice,omitempty"`
	Event          *EventPayload `json:"event,omitempty"`
}

// TextPayload is the text body of a synced message.
type TextPayload struct {
	Content string `json:"content"`
}

// MediaPayload carries the platform media reference for image/voice messages.
type MediaPayload struct {
	MediaID string `json:"media_id"`
}

// EventPayload is the body of an event-type synced entry. SceneParam carries
// the pairing token for enter_session events triggered by a contact-way scan.
type EventPayload struct {
	EventType      string `json:"event_type"`
	OpenKfID       string `json:"open_kfid"`
	ExternalUserID string `json:"external_userid"`
	Scene          string `json:"scene"`
	SceneParam     string `json:"scene_param"`
}

// SyncPage is one page of synced messages.
type SyncPage struct {
	Messages   []SyncedMessage
	NextCursor string
	HasMore    bool
}

// SyncMessages pulls one page of messages starting at cursor. The token is
// the one-shot credential delivered with the webhook event; it may be empty
// when re-syncing from a persisted cursor.
func (c *Client) SyncMessages(ctx context.Context, cursor, token string) (*SyncPage, error) {
	req := map[string]any{
		"cursor":       cursor,
		"voice_format": 0,
		"open_kfid":    c.cfg.OpenKfID,
	}
	if token != "" {
		req["token"] = token
	}

	var out struct {
		baseResponse
		NextCursor string          `json:"next_cursor"`
		HasMore    int             `json:"has_more"`
		MsgList    []SyncedMessage `json:"msg_list"`
	}
	if err := c.postJSON(ctx, "/cgi-bin/kf/sync_msg", req, &out); err != nil {
		return nil, err
	}
	if err := out.err(); err != nil {
		return nil, err
	}

	return &SyncPage{
		Messages:   out.MsgList,
		NextCursor: out.NextCursor,
		HasMore:    out.HasMore == 1,
	}, nil
}

// SendText delivers a text message to an external user. Callers are
// responsible for keeping content within the platform's byte ceiling.
func (c *Client) SendText(ctx context.Context, externalUserID, content string) error {
	req := map[string]any{
		"touser":    externalUserID,
		"open_kfid": c.cfg.OpenKfID,
		"msgtype":   "text",
		"text":      map[string]string{"content": content},
	}

	var out baseResponse
	if err := c.postJSON(ctx, "/cgi-bin/kf/send_msg", req, &out); err != nil {
		return err
	}
	return out.err()
}

// SendImage delivers an image message referencing an uploaded media id.
func (c *Client) SendImage(ctx context.Context, externalUserID, mediaID string) error {
	req := map[string]any{
		"touser":    externalUserID,
		"open_kfid": c.cfg.OpenKfID,
		"msgtype":   "image",
		"image":     map[string]string{"media_id": mediaID},
	}

	var out baseResponse
	if err := c.postJSON(ctx, "/cgi-bin/kf/send_msg", req, &out); err != nil {
		return err
	}
	return out.err()
}

// EndSession transitions the user's platform-side session to the ended state,
// so their next inbound message re-triggers a session-entry event carrying the
// pairing scene parameter again.
func (c *Client) EndSession(ctx context.Context, externalUserID string) error {
	req := map[string]any{
		"open_kfid":       c.cfg.OpenKfID,
		"external_userid": externalUserID,
		"service_state":   ServiceStateEnded,
	}

	var out baseResponse
	if err := c.postJSON(ctx, "/cgi-bin/kf/service_state/trans", req, &out); err != nil {
		return err
	}
	return out.err()
}

// AddContactWay creates a scannable contact-way URL for the given scene.
// One underlying contact way serves all pairing attempts; per-attempt tokens
// are appended as a scene parameter by the caller.
func (c *Client) AddContactWay(ctx context.Context, scene int) (string, error) {
	req := map[string]any{
		"open_kfid": c.cfg.OpenKfID,
		"scene":     fmt.Sprintf("%d", scene),
	}

	var out struct {
		baseResponse
		URL string `json:"url"`
	}
	if err := c.postJSON(ctx, "/cgi-bin/kf/add_contact_way", req, &out); err != nil {
		return "", err
	}
	if err := out.err(); err != nil {
		return "", err
	}
	return out.URL, nil
}
