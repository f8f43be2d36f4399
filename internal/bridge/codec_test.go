package bridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := func() *Message {
		m := NewMessage(TypeData, "host", "document", map[string]any{"k": "v"})
		m.ID = "m-1"
		return m
	}

	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr string
	}{
		{"valid", func(m *Message) {}, ""},
		{"missing id", func(m *Message) { m.ID = "" }, "id is required"},
		{"missing type", func(m *Message) { m.Type = "" }, "type is required"},
		{"unknown type", func(m *Message) { m.Type = "telepathy" }, "unknown message type"},
		{"missing source", func(m *Message) { m.Source = "" }, "source is required"},
		{"missing target", func(m *Message) { m.Target = "" }, "target is required"},
		{"missing payload", func(m *Message) { m.Payload = nil }, "payload is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			err := Validate(m)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}

	assert.Error(t, Validate(nil))
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec()
	msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{
		"function": "add",
		"args":     []any{2, 3},
	})
	msg.ID = "m-rt"

	data, err := codec.Encode(msg)
	require.NoError(t, err)

	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, "add", got.Payload["function"])
}

func TestCodecSizeLimit(t *testing.T) {
	codec := Codec{MaxMessageSize: 256}
	msg := NewMessage(TypeData, "host", "document", map[string]any{
		"blob": strings.Repeat("x", 1024),
	})
	msg.ID = "m-big"

	_, err := codec.Encode(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit 256")
}

func TestCodecCompression(t *testing.T) {
	codec := Codec{
		MaxMessageSize:       DefaultMaxMessageSize,
		EnableCompression:    true,
		CompressionThreshold: 128,
	}
	msg := NewMessage(TypeData, "host", "document", map[string]any{
		"blob": strings.Repeat("compressible ", 200),
	})
	msg.ID = "m-z"

	data, err := codec.Encode(msg)
	require.NoError(t, err)
	require.Equal(t, byte(compressedMarker), data[0], "large frame should be deflated")

	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Payload["blob"], got.Payload["blob"])

	// Plain decoder input still works.
	plain := Codec{MaxMessageSize: DefaultMaxMessageSize}
	raw, err := plain.Encode(msg)
	require.NoError(t, err)
	got, err = codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
}

func TestResponseHelpers(t *testing.T) {
	req := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
	req.ID = "req-1"

	resp := ResponseTo(req, map[string]any{"result": 5})
	assert.Equal(t, "req-1", resp.ID)
	assert.True(t, resp.Response)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, req.Source, resp.Target)

	errResp := ErrorTo(req, "it broke")
	assert.Equal(t, "req-1", errResp.ID)
	assert.True(t, errResp.Response)
	assert.Equal(t, TypeError, errResp.Type)
	assert.Equal(t, "it broke", errResp.Payload["error"])
}
