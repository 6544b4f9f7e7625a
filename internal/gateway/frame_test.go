// ABOUTME: Tests for wire frame encoding, parsing and boundary validation
// ABOUTME: Covers the type discriminator, required fields and unknown types

package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_AddsDiscriminator(t *testing.T) {
	data, err := EncodeFrame(&Inbound{
		ID:        "m-1",
		UserID:    "wm-user-1",
		MsgType:   "text",
		Content:   "hello",
		Timestamp: 1700000000,
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "inbound", fields["type"])
	assert.Equal(t, "wm-user-1", fields["user_id"])
}

func TestParseFrame_RoundTrip(t *testing.T) {
	frames := []Frame{
		&Hello{GatewayID: "gw-1", AuthToken: "secret"},
		&Reply{ID: "r-1", UserID: "wm-user-1", Content: "hi"},
		&ImageReply{UserID: "wm-user-1", MediaID: "media-1"},
		&CreateBinding{ID: "c-1"},
		&UnbindAll{},
		&Inbound{ID: "m-1", UserID: "wm-user-1", MsgType: "text", Content: "x", Timestamp: 5},
		&BindingResolved{UserID: "wm-user-1"},
		&Ack{ID: "a-1", Count: 3},
		&ErrorFrame{Message: "boom"},
		&CreateBindingAck{Token: "tok", URL: "https://example.com", ExpiresAt: 9},
	}

	for _, f := range frames {
		data, err := EncodeFrame(f)
		require.NoError(t, err)

		parsed, err := ParseFrame(data)
		require.NoError(t, err, "frame %s", string(data))
		assert.Equal(t, f, parsed)
	}
}

func TestParseFrame_UnknownType(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":"launch_missiles"}`))
	assert.ErrorContains(t, err, "unknown frame type")
}

func TestParseFrame_MissingRequiredFields(t *testing.T) {
	cases := []string{
		`{"type":"hello"}`,
		`{"type":"reply","content":"hi"}`,
		`{"type":"image_reply","user_id":"u"}`,
		`{"type":"inbound","content":"x"}`,
		`{"type":"binding_resolved"}`,
	}
	for _, raw := range cases {
		_, err := ParseFrame([]byte(raw))
		assert.Error(t, err, "frame %s should be rejected", raw)
	}
}

func TestParseFrame_NotJSON(t *testing.T) {
	_, err := ParseFrame([]byte("not json"))
	assert.Error(t, err)
}
