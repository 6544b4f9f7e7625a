// ABOUTME: Shared test fixtures for the relay package
// ABOUTME: Fake platform client, fake gateway wire and relay constructor

package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/szjhtz/easyclaw-sub002/internal/gateway"
	"github.com/szjhtz/easyclaw-sub002/internal/store"
	"github.com/szjhtz/easyclaw-sub002/internal/wecom"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentText struct {
	userID  string
	content string
}

type sentImage struct {
	userID  string
	mediaID string
}

// fakePlatform implements PlatformClient with canned sync pages and recorded
// outbound calls.
type fakePlatform struct {
	mu sync.Mutex

	pages       []*wecom.SyncPage
	pageIdx     int
	syncCursors []string
	syncTokens  []string

	texts  []sentText
	images []sentImage
	ended  []string

	sendTextErr  error
	sendImageErr error

	contactWayURL   string
	contactWayCalls int
}

func (f *fakePlatform) SyncMessages(ctx context.Context, cursor, token string) (*wecom.SyncPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCursors = append(f.syncCursors, cursor)
	f.syncTokens = append(f.syncTokens, token)
	if f.pageIdx >= len(f.pages) {
		return &wecom.SyncPage{}, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

func (f *fakePlatform) SendText(ctx context.Context, externalUserID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendTextErr != nil {
		return f.sendTextErr
	}
	f.texts = append(f.texts, sentText{externalUserID, content})
	return nil
}

func (f *fakePlatform) SendImage(ctx context.Context, externalUserID, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendImageErr != nil {
		return f.sendImageErr
	}
	f.images = append(f.images, sentImage{externalUserID, mediaID})
	return nil
}

func (f *fakePlatform) EndSession(ctx context.Context, externalUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, externalUserID)
	return nil
}

func (f *fakePlatform) AddContactWay(ctx context.Context, scene int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contactWayCalls++
	if f.contactWayURL == "" {
		return "https://work.weixin.qq.com/ca/test", nil
	}
	return f.contactWayURL, nil
}

// fakeWire satisfies the connection's transport so tests can register live
// gateways and inspect the frames the relay delivers to them.
type fakeWire struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeWire) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	<-ctx.Done()
	return 0, nil, ctx.Err()
}

func (f *fakeWire) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeWire) Ping(ctx context.Context) error { return nil }

func (f *fakeWire) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// sent decodes every written frame into a generic map keyed by position.
func (f *fakeWire) sent(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, raw := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeWire) sentTypes(t *testing.T) []string {
	t.Helper()
	frames := f.sent(t)
	types := make([]string, len(frames))
	for i, m := range frames {
		types[i], _ = m["type"].(string)
	}
	return types
}

// newTestRelay builds a relay over an in-memory store and an empty registry.
func newTestRelay(t *testing.T) (*Relay, store.Store, *fakePlatform, *gateway.Registry) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	platform := &fakePlatform{}
	registry := gateway.NewRegistry(testLogger())

	kp, err := wecom.DecodeKey(testEncodingAESKey())
	require.NoError(t, err)

	r := New(Config{
		CorpID:        testCorpID,
		CallbackToken: testCallbackToken,
		Keypair:       kp,
		ContactScene:  77,
	}, st, platform, registry, testLogger())

	return r, st, platform, registry
}

// connectGateway registers a live fake connection for gatewayID.
func connectGateway(t *testing.T, registry *gateway.Registry, gatewayID string) *fakeWire {
	t.Helper()
	fw := &fakeWire{}
	registry.Register(gateway.NewConn(gatewayID, fw, testLogger()))
	return fw
}

const (
	testCorpID        = "wwtest1234567890"
	testCallbackToken = "callback-token"
)

// testEncodingAESKey builds a deterministic 43-character encoding key in the
// platform's configured format.
func testEncodingAESKey() string {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(secret)[:43]
}
