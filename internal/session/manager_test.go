package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminadocs/lumina/internal/bridge"
	"github.com/luminadocs/lumina/internal/infrastructure/monitoring"
	"github.com/luminadocs/lumina/internal/security"
	"github.com/luminadocs/lumina/internal/transport/inproc"
)

// attachResponder makes the far endpoint answer handshake and module-load
// control messages, standing in for the document side of the boundary.
func attachResponder(t *testing.T, peer *inproc.Endpoint) {
	t.Helper()
	codec := bridge.NewCodec()
	peer.Bind(func(data []byte) {
		msg, err := codec.Decode(data)
		if err != nil || msg.Type != bridge.TypeControl {
			return
		}
		switch msg.Payload["command"] {
		case "handshake", "load_module":
			frame, err := codec.Encode(bridge.ResponseTo(msg, map[string]any{"status": "ok"}))
			if err == nil {
				_ = peer.Deliver(frame)
			}
		}
	}, nil)
}

func testManager(maxSessions int) *Manager {
	cfg := bridge.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 0
	return NewManager(cfg, maxSessions, nil, nil)
}

func newBinding(t *testing.T) *inproc.Endpoint {
	t.Helper()
	local, remote := inproc.Pair()
	attachResponder(t, remote)
	return local
}

func TestCreateAndGet(t *testing.T) {
	m := testManager(8)
	defer m.Shutdown()

	s, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Count())
}

func TestCreateFailsWhenHandshakeFails(t *testing.T) {
	m := testManager(8)
	defer m.Shutdown()

	local, _ := inproc.Pair() // peer never answers
	cfg := bridge.DefaultConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	cfg.HeartbeatInterval = 0
	m.bridgeCfg = cfg

	_, err := m.Create(context.Background(), security.Default(), local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize session")
	assert.Equal(t, 0, m.Count())
}

func TestSessionCeiling(t *testing.T) {
	m := testManager(2)
	defer m.Shutdown()

	_, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)
	_, err = m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)

	_, err = m.Create(context.Background(), security.Default(), newBinding(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session limit 2 reached")
}

func TestDestroy(t *testing.T) {
	m := testManager(8)
	defer m.Shutdown()

	s, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)

	require.NoError(t, m.Destroy(s.ID))
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())

	err = m.Destroy(s.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = s.Runtime.Stats()
	assert.Error(t, err, "runtime is gone, not just unregistered")
}

func TestListOrdering(t *testing.T) {
	m := testManager(8)
	defer m.Shutdown()

	first, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestShutdownDestroysAll(t *testing.T) {
	m := testManager(8)

	a, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)
	b, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)

	m.Shutdown()
	assert.Equal(t, 0, m.Count())

	_, err = a.Runtime.Stats()
	assert.Error(t, err)
	_, err = b.Runtime.Stats()
	assert.Error(t, err)
}

func TestBridgeTrafficMirroredToMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	cfg := bridge.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 0
	m := NewManager(cfg, 8, nil, metrics)
	defer m.Shutdown()

	s, err := m.Create(context.Background(), security.Default(), newBinding(t))
	require.NoError(t, err)
	require.NoError(t, s.Runtime.SendEvent("ping", map[string]any{"n": 1}))

	// Handshake round trip plus the event, both directions counted.
	assert.Greater(t, testutil.ToFloat64(metrics.BytesTransferred), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesSent.WithLabelValues("control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesSent.WithLabelValues("event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesReceived.WithLabelValues("response")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Reconnects))
}
