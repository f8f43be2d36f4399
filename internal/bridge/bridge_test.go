package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinding is a scripted transport peer. respond, when set, is invoked
// for every delivered frame and its non-nil result is fed back through the
// inbound callback, synchronously.
type fakeBinding struct {
	mu         sync.Mutex
	delivered  [][]byte
	deliverErr error
	respond    func(msg *Message) *Message
	onMessage  func([]byte)
	onStatus   func(bool)
	closed     bool
	codec      Codec
}

func newFakeBinding() *fakeBinding {
	return &fakeBinding{codec: NewCodec()}
}

// newHandshakeBinding answers handshakes and nothing else.
func newHandshakeBinding() *fakeBinding {
	fb := newFakeBinding()
	fb.respond = func(msg *Message) *Message {
		if msg.Type == TypeControl && msg.Payload["command"] == "handshake" {
			return ResponseTo(msg, map[string]any{"status": "ok"})
		}
		return nil
	}
	return fb
}

func (fb *fakeBinding) Deliver(data []byte) error {
	fb.mu.Lock()
	if fb.deliverErr != nil {
		err := fb.deliverErr
		fb.mu.Unlock()
		return err
	}
	fb.delivered = append(fb.delivered, data)
	respond := fb.respond
	onMessage := fb.onMessage
	fb.mu.Unlock()

	if respond == nil || onMessage == nil {
		return nil
	}
	msg, err := fb.codec.Decode(data)
	if err != nil {
		return nil
	}
	if resp := respond(msg); resp != nil {
		frame, err := fb.codec.Encode(resp)
		if err != nil {
			return nil
		}
		onMessage(frame)
	}
	return nil
}

func (fb *fakeBinding) Bind(onMessage func([]byte), onStatus func(bool)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.onMessage = onMessage
	fb.onStatus = onStatus
}

func (fb *fakeBinding) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = true
	return nil
}

func (fb *fakeBinding) deliveredCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.delivered)
}

func (fb *fakeBinding) inject(t *testing.T, msg *Message) {
	t.Helper()
	frame, err := fb.codec.Encode(msg)
	require.NoError(t, err)
	fb.mu.Lock()
	onMessage := fb.onMessage
	fb.mu.Unlock()
	require.NotNil(t, onMessage, "binding not bound")
	onMessage(frame)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 200 * time.Millisecond
	cfg.HeartbeatInterval = 0 // off unless a test needs it
	cfg.ReconnectDelay = time.Millisecond
	return cfg
}

func connectedBridge(t *testing.T) (*Bridge, *fakeBinding) {
	t.Helper()
	fb := newHandshakeBinding()
	b := New(fb, testConfig(), nil)
	require.NoError(t, b.Initialize(context.Background()))
	require.Equal(t, StateConnected, b.State())
	return b, fb
}

func TestInitializeWithoutBinding(t *testing.T) {
	b := New(nil, testConfig(), nil)
	err := b.Initialize(context.Background())
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestInitializeHandshake(t *testing.T) {
	b, fb := connectedBridge(t)
	defer b.Destroy()

	assert.Equal(t, 1, fb.deliveredCount())
	snap := b.Stats()
	assert.Equal(t, int64(1), snap.MessagesSent)
	assert.Equal(t, int64(1), snap.MessagesReceived)
}

func TestInitializeHandshakeFailure(t *testing.T) {
	fb := newFakeBinding()
	fb.deliverErr = errors.New("transport down")
	b := New(fb, testConfig(), nil)

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake failed")
	assert.Equal(t, StateError, b.State())
}

func TestSendValidationRejectedBeforeTransport(t *testing.T) {
	b, fb := connectedBridge(t)
	defer b.Destroy()
	before := fb.deliveredCount()

	msg := NewMessage(Type("bogus"), "host", "document", nil)
	err := b.Send(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
	assert.Equal(t, before, fb.deliveredCount(), "transport must not be invoked")
}

func TestSendOversizedRejectedBeforeTransport(t *testing.T) {
	fb := newHandshakeBinding()
	cfg := testConfig()
	cfg.MaxMessageSize = 512
	b := New(fb, cfg, nil)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Destroy()
	before := fb.deliveredCount()

	big := make([]byte, 2048)
	msg := NewMessage(TypeData, "host", "document", map[string]any{"blob": string(big)})
	err := b.Send(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit 512")
	assert.Equal(t, before, fb.deliveredCount(), "transport must not be invoked")
}

func TestRequestCorrelation(t *testing.T) {
	fb := newFakeBinding()
	fb.respond = func(msg *Message) *Message {
		if msg.Type == TypeControl {
			return ResponseTo(msg, map[string]any{"status": "ok"})
		}
		return ResponseTo(msg, map[string]any{"echo": msg.Payload["n"]})
	}
	b := New(fb, testConfig(), nil)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Destroy()

	var wg sync.WaitGroup
	results := make([]float64, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{"n": n})
			resp, err := b.Request(context.Background(), msg, time.Second)
			if err != nil {
				t.Errorf("request %d: %v", n, err)
				return
			}
			results[n], _ = resp.Payload["echo"].(float64)
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, float64(i), v, "response %d matched to wrong request", i)
	}
}

func TestRequestTimeout(t *testing.T) {
	b, _ := connectedBridge(t)
	defer b.Destroy()

	msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{"fn": "slow"})
	start := time.Now()
	_, err := b.Request(context.Background(), msg, 30*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response timeout")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLateResponseAfterTimeoutIsDropped(t *testing.T) {
	b, fb := connectedBridge(t)
	defer b.Destroy()

	msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
	_, err := b.Request(context.Background(), msg, 20*time.Millisecond)
	require.Error(t, err)

	// Late arrival must not resolve anything or crash.
	late := ResponseTo(msg, map[string]any{"late": true})
	fb.inject(t, late)
}

func TestInboundHeartbeatConsumedInternally(t *testing.T) {
	b, fb := connectedBridge(t)
	defer b.Destroy()

	var sawMessage atomic.Bool
	_, err := b.OnMessage(func(msg *Message) { sawMessage.Store(true) })
	require.NoError(t, err)

	require.True(t, b.Stats().LastHeartbeat.IsZero())

	hb := NewMessage(TypeHeartbeat, "document", "host", map[string]any{"status": "alive"})
	hb.ID = "hb-1"
	fb.inject(t, hb)

	assert.False(t, sawMessage.Load(), "heartbeats must not reach message handlers")
	assert.False(t, b.Stats().LastHeartbeat.IsZero(), "lastHeartbeat must update")
}

func TestHeartbeatLoopEmits(t *testing.T) {
	fb := newHandshakeBinding()
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	b := New(fb, cfg, nil)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Destroy()

	assert.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		for _, frame := range fb.delivered {
			if msg, err := fb.codec.Decode(frame); err == nil && msg.Type == TypeHeartbeat {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected a heartbeat on the wire")
}

func TestReconnectExhaustion(t *testing.T) {
	fb := newFakeBinding()
	fb.deliverErr = errors.New("transport down")
	cfg := testConfig()
	cfg.ReconnectAttempts = 2
	b := New(fb, cfg, nil)

	err := b.Reconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reconnect after 2 attempts")
	assert.Equal(t, StateError, b.State())
}

func TestReconnectRecovers(t *testing.T) {
	fb := newHandshakeBinding()
	b := New(fb, testConfig(), nil)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Destroy()

	// Simulate a transport drop, then recover.
	fb.onStatus(false)
	assert.Equal(t, StateError, b.State())

	require.NoError(t, b.Reconnect(context.Background()))
	assert.Equal(t, StateConnected, b.State())
}

func TestHandlerPanicIsolated(t *testing.T) {
	b, fb := connectedBridge(t)
	defer b.Destroy()

	var errs atomic.Int32
	var reached atomic.Int32
	_, err := b.OnError(func(error) { errs.Add(1) })
	require.NoError(t, err)
	_, err = b.OnMessage(func(*Message) { panic("boom") })
	require.NoError(t, err)
	_, err = b.OnMessage(func(*Message) { reached.Add(1) })
	require.NoError(t, err)

	evt := NewMessage(TypeEvent, "document", "host", map[string]any{"event_type": "ping"})
	evt.ID = "evt-1"
	fb.inject(t, evt)

	assert.Equal(t, int32(1), reached.Load(), "panic must not block later handlers")
	assert.Equal(t, int32(1), errs.Load(), "panic must surface on the error channel")
}

func TestDestroyFailsPendingAndIsIdempotent(t *testing.T) {
	b, _ := connectedBridge(t)

	done := make(chan error, 1)
	go func() {
		msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
		_, err := b.Request(context.Background(), msg, 10*time.Second)
		done <- err
	}()

	// Let the request register before teardown.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Destroy())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDestroyed)
	case <-time.After(time.Second):
		t.Fatal("pending request not resolved by destroy")
	}

	require.NoError(t, b.Destroy(), "destroy must be idempotent")
	require.NoError(t, b.Destroy())
	assert.Equal(t, StateDisconnected, b.State())
}

func TestOperationsAfterDestroyFailFast(t *testing.T) {
	b, _ := connectedBridge(t)
	require.NoError(t, b.Destroy())

	msg := NewMessage(TypeEvent, "host", "document", map[string]any{})
	assert.ErrorIs(t, b.Send(msg), ErrDestroyed)

	_, err := b.Request(context.Background(), msg, time.Second)
	assert.ErrorIs(t, err, ErrDestroyed)

	assert.ErrorIs(t, b.Initialize(context.Background()), ErrDestroyed)
	assert.ErrorIs(t, b.Reconnect(context.Background()), ErrDestroyed)

	_, err = b.OnMessage(func(*Message) {})
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestStatusHandlerSeesTransitions(t *testing.T) {
	fb := newHandshakeBinding()
	b := New(fb, testConfig(), nil)

	var mu sync.Mutex
	var seen []State
	_, err := b.OnStatusChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, b.Initialize(context.Background()))
	require.NoError(t, b.Destroy())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, seen)
}

func TestOffMessageUnregisters(t *testing.T) {
	b, fb := connectedBridge(t)
	defer b.Destroy()

	var calls atomic.Int32
	hid, err := b.OnMessage(func(*Message) { calls.Add(1) })
	require.NoError(t, err)

	evt := NewMessage(TypeEvent, "document", "host", map[string]any{"event_type": "a"})
	evt.ID = "evt-a"
	fb.inject(t, evt)
	require.Equal(t, int32(1), calls.Load())

	require.NoError(t, b.OffMessage(hid))
	evt2 := NewMessage(TypeEvent, "document", "host", map[string]any{"event_type": "b"})
	evt2.ID = "evt-b"
	fb.inject(t, evt2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestContextCancellation(t *testing.T) {
	b, _ := connectedBridge(t)
	defer b.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
		_, err := b.Request(ctx, msg, 10*time.Second)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled request did not return")
	}
}

func TestConcurrentRequestsExactlyOnce(t *testing.T) {
	// Half the requests get answered, half time out; each must resolve
	// exactly once either way.
	var n atomic.Int64
	fb := newFakeBinding()
	fb.respond = func(msg *Message) *Message {
		if msg.Type == TypeControl {
			return ResponseTo(msg, map[string]any{"status": "ok"})
		}
		if n.Add(1)%2 == 0 {
			return ResponseTo(msg, map[string]any{"ok": true})
		}
		return nil
	}
	b := New(fb, testConfig(), nil)
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Destroy()

	var resolved atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
			_, _ = b.Request(context.Background(), msg, 50*time.Millisecond)
			resolved.Add(1)
		}()
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("requests stuck: %d of 20 resolved", resolved.Load())
	}
	assert.Equal(t, int64(20), resolved.Load())
}

func TestDuplicateInFlightIDRejected(t *testing.T) {
	b, _ := connectedBridge(t)
	defer b.Destroy()

	msg := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
	msg.ID = "fixed-id"

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.Request(context.Background(), msg, 100*time.Millisecond)
	}()
	time.Sleep(10 * time.Millisecond)

	dup := NewMessage(TypeFunctionCall, "host", "document", map[string]any{})
	dup.ID = "fixed-id"
	_, err := b.Request(context.Background(), dup, 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate in-flight message id")
	<-done
}

func TestStatsAccumulate(t *testing.T) {
	b, _ := connectedBridge(t)
	defer b.Destroy()

	for i := 0; i < 3; i++ {
		evt := NewMessage(TypeEvent, "host", "document", map[string]any{"event_type": fmt.Sprintf("e%d", i)})
		require.NoError(t, b.Send(evt))
	}

	snap := b.Stats()
	assert.Equal(t, int64(4), snap.MessagesSent) // handshake + 3 events
	assert.Greater(t, snap.BytesTransferred, int64(0))
	assert.False(t, snap.StartTime.IsZero())
}

// countingObserver records observer callbacks for assertion.
type countingObserver struct {
	mu            sync.Mutex
	sentByType    map[string]int
	recvByType    map[string]int
	bytesSent     int
	bytesReceived int
	reconnects    int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		sentByType: make(map[string]int),
		recvByType: make(map[string]int),
	}
}

func (o *countingObserver) RecordMessageSent(msgType string, bytes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sentByType[msgType]++
	o.bytesSent += bytes
}

func (o *countingObserver) RecordMessageReceived(msgType string, bytes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recvByType[msgType]++
	o.bytesReceived += bytes
}

func (o *countingObserver) RecordReconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects++
}

func TestObserverMirrorsTraffic(t *testing.T) {
	fb := newHandshakeBinding()
	obs := newCountingObserver()
	b := New(fb, testConfig(), nil, WithObserver(obs))
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Destroy()

	evt := NewMessage(TypeEvent, "host", "document", map[string]any{"event_type": "ping"})
	require.NoError(t, b.Send(evt))

	obs.mu.Lock()
	assert.Equal(t, 1, obs.sentByType["control"], "handshake mirrored")
	assert.Equal(t, 1, obs.sentByType["event"])
	assert.Equal(t, 1, obs.recvByType["response"], "handshake reply mirrored")
	assert.Greater(t, obs.bytesSent, 0)
	assert.Greater(t, obs.bytesReceived, 0)
	assert.Equal(t, 0, obs.reconnects)
	obs.mu.Unlock()

	fb.onStatus(false)
	require.NoError(t, b.Reconnect(context.Background()))

	obs.mu.Lock()
	assert.Equal(t, 1, obs.reconnects)
	obs.mu.Unlock()
}
