package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/logging"
)

// State describes the bridge connection state machine:
// disconnected -> connecting -> connected, with error reachable from any
// state on transport failure and connected -> connecting on reconnect.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAvailable is returned by Initialize when no transport binding
	// exists. This is fatal, never retried.
	ErrNotAvailable = errors.New("bridge not available")

	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("bridge has been destroyed")
)

// Binding is the single environmental dependency of the bridge: a
// one-directional deliver call plus callbacks the transport invokes for
// inbound frames and connectivity changes. It is injected at construction;
// there is no global transport registry.
type Binding interface {
	// Deliver hands one serialized frame to the peer.
	Deliver(data []byte) error
	// Bind registers the inbound-frame and status callbacks.
	Bind(onMessage func(data []byte), onStatus func(connected bool))
	// Close releases the underlying transport.
	Close() error
}

// Config holds bridge tuning knobs.
type Config struct {
	// Source and Target name the two sides of the boundary in message
	// envelopes.
	Source string
	Target string

	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	MaxMessageSize       int
	EnableCompression    bool
	CompressionThreshold int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Source:               "host",
		Target:               "document",
		RequestTimeout:       30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectAttempts:    3,
		ReconnectDelay:       time.Second,
		MaxMessageSize:       DefaultMaxMessageSize,
		CompressionThreshold: DefaultCompressionThreshold,
	}
}

// MessageHandler receives application messages (never heartbeats).
type MessageHandler func(msg *Message)

// ErrorHandler receives bridge-level failures: decode errors, handler
// panics, transport drops.
type ErrorHandler func(err error)

// StatusHandler receives state transitions.
type StatusHandler func(state State)

// HandlerID identifies a registered handler for later removal.
type HandlerID uint64

type requestOutcome struct {
	msg *Message
	err error
}

// pendingRequest correlates one outbound request with its eventual
// resolution. The buffered channel receives exactly one outcome: whichever
// of response arrival, deadline expiry, or teardown removes the entry from
// the table sends it.
type pendingRequest struct {
	id string
	ch chan requestOutcome
}

// Bridge maintains the connection to the opposite side of the trust
// boundary: request/response correlation, heartbeats, reconnection, and
// handler fan-out.
type Bridge struct {
	cfg    Config
	codec  Codec
	logger *logging.Logger

	mu          sync.Mutex
	binding     Binding
	state       State
	destroyed   bool
	handshaking bool
	stopHB      chan struct{}
	hbStarted   bool

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	handlerMu      sync.RWMutex
	nextHandlerID  HandlerID
	msgHandlers    map[HandlerID]MessageHandler
	errHandlers    map[HandlerID]ErrorHandler
	statusHandlers map[HandlerID]StatusHandler

	stats    *TransferStats
	observer Observer // immutable after New
	wg       sync.WaitGroup
}

// New creates a bridge over the given binding. A nil binding is legal at
// construction; Initialize will then fail with ErrNotAvailable.
func New(binding Binding, cfg Config, logger *logging.Logger, opts ...Option) *Bridge {
	codec := Codec{
		MaxMessageSize:       cfg.MaxMessageSize,
		EnableCompression:    cfg.EnableCompression,
		CompressionThreshold: cfg.CompressionThreshold,
	}
	if codec.MaxMessageSize <= 0 {
		codec.MaxMessageSize = DefaultMaxMessageSize
	}
	if codec.CompressionThreshold <= 0 {
		codec.CompressionThreshold = DefaultCompressionThreshold
	}
	b := &Bridge{
		cfg:            cfg,
		codec:          codec,
		logger:         logging.OrNop(logger).Named("bridge"),
		binding:        binding,
		state:          StateDisconnected,
		stopHB:         make(chan struct{}),
		pending:        make(map[string]*pendingRequest),
		msgHandlers:    make(map[HandlerID]MessageHandler),
		errHandlers:    make(map[HandlerID]ErrorHandler),
		statusHandlers: make(map[HandlerID]StatusHandler),
		stats:          newTransferStats(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of transfer statistics.
func (b *Bridge) Stats() TransferSnapshot {
	return b.stats.Snapshot()
}

// Initialize binds the transport callbacks and performs one handshake round
// trip before declaring the bridge connected. A missing binding is fatal.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if b.binding == nil {
		b.mu.Unlock()
		return ErrNotAvailable
	}
	if b.state != StateDisconnected {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("cannot initialize bridge in state %q", state)
	}
	binding := b.binding
	b.mu.Unlock()

	binding.Bind(b.handleInbound, b.handleTransportStatus)
	b.setState(StateConnecting)

	if err := b.handshake(ctx); err != nil {
		b.setState(StateError)
		return fmt.Errorf("handshake failed: %w", err)
	}

	b.setState(StateConnected)
	b.startHeartbeat()
	b.logger.Info("bridge connected",
		zap.String("source", b.cfg.Source),
		zap.String("target", b.cfg.Target),
	)
	return nil
}

// Send validates, serializes, and delivers a message without awaiting a
// reply. Validation and size violations are rejected locally; the transport
// is never invoked for them.
func (b *Bridge) Send(msg *Message) error {
	if b.isDestroyed() {
		return ErrDestroyed
	}
	b.stamp(msg)

	data, err := b.codec.Encode(msg)
	if err != nil {
		return err
	}

	binding := b.currentBinding()
	if binding == nil {
		return ErrNotAvailable
	}
	if err := binding.Deliver(data); err != nil {
		return fmt.Errorf("deliver message %s: %w", msg.ID, err)
	}

	b.recordSent(msg, len(data))
	return nil
}

// Request sends a message and awaits the correlated response. Exactly one
// resolution occurs per message ID: a matching response, the deadline, or
// teardown, whichever removes the pending entry first.
func (b *Bridge) Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	if b.isDestroyed() {
		return nil, ErrDestroyed
	}
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	b.stamp(msg)

	data, err := b.codec.Encode(msg)
	if err != nil {
		return nil, err
	}

	p := &pendingRequest{id: msg.ID, ch: make(chan requestOutcome, 1)}
	if err := b.addPending(p); err != nil {
		return nil, err
	}

	binding := b.currentBinding()
	if binding == nil {
		b.takePending(msg.ID)
		return nil, ErrNotAvailable
	}
	if err := binding.Deliver(data); err != nil {
		b.takePending(msg.ID)
		return nil, fmt.Errorf("deliver message %s: %w", msg.ID, err)
	}
	b.recordSent(msg, len(data))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.msg, out.err
	case <-timer.C:
		b.resolvePending(msg.ID, requestOutcome{
			err: fmt.Errorf("response timeout for message %s after %s", msg.ID, timeout),
		})
	case <-ctx.Done():
		b.resolvePending(msg.ID, requestOutcome{err: ctx.Err()})
	}

	// Whoever removed the entry sent the single outcome.
	out := <-p.ch
	return out.msg, out.err
}

// Reconnect retries the handshake up to the configured attempt ceiling with
// a fixed delay between attempts. Exhaustion leaves the bridge in the error
// state.
func (b *Bridge) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if b.binding == nil {
		b.mu.Unlock()
		return ErrNotAvailable
	}
	if b.handshaking {
		b.mu.Unlock()
		return fmt.Errorf("reconnect already in progress")
	}
	b.handshaking = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.handshaking = false
		b.mu.Unlock()
	}()

	attempts := b.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b.setState(StateConnecting)
	for attempt := 1; attempt <= attempts; attempt++ {
		err := b.handshake(ctx)
		if err == nil {
			b.setState(StateConnected)
			if b.observer != nil {
				b.observer.RecordReconnect()
			}
			b.logger.Info("bridge reconnected", zap.Int("attempt", attempt))
			return nil
		}
		b.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				b.setState(StateError)
				return ctx.Err()
			case <-time.After(b.cfg.ReconnectDelay):
			}
		}
	}

	b.setState(StateError)
	return fmt.Errorf("failed to reconnect after %d attempts", attempts)
}

// OnMessage registers a handler for inbound application messages.
// Heartbeats are consumed internally and never reach these handlers.
func (b *Bridge) OnMessage(fn MessageHandler) (HandlerID, error) {
	return b.register(func(id HandlerID) { b.msgHandlers[id] = fn })
}

// OffMessage removes a message handler.
func (b *Bridge) OffMessage(id HandlerID) error {
	return b.unregister(func() { delete(b.msgHandlers, id) })
}

// OnError registers a handler for bridge-level failures.
func (b *Bridge) OnError(fn ErrorHandler) (HandlerID, error) {
	return b.register(func(id HandlerID) { b.errHandlers[id] = fn })
}

// OffError removes an error handler.
func (b *Bridge) OffError(id HandlerID) error {
	return b.unregister(func() { delete(b.errHandlers, id) })
}

// OnStatusChange registers a handler for state transitions.
func (b *Bridge) OnStatusChange(fn StatusHandler) (HandlerID, error) {
	return b.register(func(id HandlerID) { b.statusHandlers[id] = fn })
}

// OffStatusChange removes a status handler.
func (b *Bridge) OffStatusChange(id HandlerID) error {
	return b.unregister(func() { delete(b.statusHandlers, id) })
}

// Destroy tears the bridge down: a best-effort teardown message when
// connected, failure of every outstanding request, heartbeat stop, and a
// terminal disconnected state. Idempotent; repeat calls are no-ops.
func (b *Bridge) Destroy() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}
	b.destroyed = true
	wasConnected := b.state == StateConnected
	binding := b.binding
	if b.hbStarted {
		close(b.stopHB)
		b.hbStarted = false
	}
	b.state = StateDisconnected
	b.mu.Unlock()

	if wasConnected && binding != nil {
		teardown := NewMessage(TypeControl, b.cfg.Source, b.cfg.Target,
			map[string]any{"command": "teardown"})
		b.stamp(teardown)
		if data, err := b.codec.Encode(teardown); err == nil {
			_ = binding.Deliver(data) // best effort
		}
	}

	b.failAllPending(ErrDestroyed)

	if binding != nil {
		_ = binding.Close()
	}

	b.wg.Wait()
	b.notifyStatus(StateDisconnected)
	b.logger.Info("bridge destroyed")
	return nil
}

// ---- internals ----

func (b *Bridge) stamp(msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Source == "" {
		msg.Source = b.cfg.Source
	}
	if msg.Target == "" {
		msg.Target = b.cfg.Target
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
}

func (b *Bridge) recordSent(msg *Message, bytes int) {
	b.stats.recordSent(bytes)
	if b.observer != nil {
		b.observer.RecordMessageSent(string(msg.Type), bytes)
	}
}

func (b *Bridge) isDestroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

func (b *Bridge) currentBinding() Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binding
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	if b.destroyed || b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	b.mu.Unlock()
	b.notifyStatus(s)
}

func (b *Bridge) handshake(ctx context.Context) error {
	msg := NewMessage(TypeControl, b.cfg.Source, b.cfg.Target, map[string]any{
		"command": "handshake",
	})
	resp, err := b.Request(ctx, msg, b.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	if resp.Type == TypeError {
		return fmt.Errorf("handshake rejected: %v", resp.Payload["error"])
	}
	return nil
}

func (b *Bridge) addPending(p *pendingRequest) error {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if b.isDestroyedPendingLocked() {
		return ErrDestroyed
	}
	if _, exists := b.pending[p.id]; exists {
		return fmt.Errorf("duplicate in-flight message id %s", p.id)
	}
	b.pending[p.id] = p
	return nil
}

// isDestroyedPendingLocked re-checks destruction while holding pendingMu so
// a concurrent Destroy cannot strand a freshly added entry.
func (b *Bridge) isDestroyedPendingLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

func (b *Bridge) takePending(id string) *pendingRequest {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	p := b.pending[id]
	delete(b.pending, id)
	return p
}

// resolvePending delivers the single outcome for id if the entry is still
// in the table. Returns false when another resolver won the race.
func (b *Bridge) resolvePending(id string, out requestOutcome) bool {
	p := b.takePending(id)
	if p == nil {
		return false
	}
	p.ch <- out
	return true
}

func (b *Bridge) failAllPending(err error) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[string]*pendingRequest)
	b.pendingMu.Unlock()

	for _, p := range pending {
		p.ch <- requestOutcome{err: err}
	}
}

func (b *Bridge) startHeartbeat() {
	b.mu.Lock()
	if b.hbStarted || b.destroyed || b.cfg.HeartbeatInterval <= 0 {
		b.mu.Unlock()
		return
	}
	b.hbStarted = true
	stop := b.stopHB
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.sendHeartbeat()
			}
		}
	}()
}

func (b *Bridge) sendHeartbeat() {
	if b.State() != StateConnected {
		return
	}
	snap := b.stats.Snapshot()
	hb := NewMessage(TypeHeartbeat, b.cfg.Source, b.cfg.Target, map[string]any{
		"messages_sent":     snap.MessagesSent,
		"messages_received": snap.MessagesReceived,
		"bytes_transferred": snap.BytesTransferred,
		"uptime_ms":         time.Since(snap.StartTime).Milliseconds(),
	})
	if err := b.Send(hb); err != nil {
		b.logger.Warn("heartbeat send failed", zap.Error(err))
	}
}

// handleInbound is the transport's inbound-frame callback.
func (b *Bridge) handleInbound(data []byte) {
	if b.isDestroyed() {
		return
	}

	msg, err := b.codec.Decode(data)
	if err != nil {
		b.emitError(err)
		return
	}
	b.stats.recordReceived(len(data))
	if b.observer != nil {
		b.observer.RecordMessageReceived(string(msg.Type), len(data))
	}

	// Liveness traffic is consumed here; application handlers never see it.
	if msg.Type == TypeHeartbeat {
		b.stats.recordHeartbeat(time.Now())
		return
	}

	if msg.Response {
		if !b.resolvePending(msg.ID, requestOutcome{msg: msg}) {
			b.logger.Debug("unmatched response", zap.String("message_id", msg.ID))
		}
		return
	}

	b.dispatchMessage(msg)
}

// handleTransportStatus is the transport's connectivity callback.
func (b *Bridge) handleTransportStatus(connected bool) {
	if b.isDestroyed() {
		return
	}
	if !connected {
		b.logger.Warn("transport reported disconnect")
		b.setState(StateError)
	}
}

func (b *Bridge) dispatchMessage(msg *Message) {
	b.handlerMu.RLock()
	handlers := make([]MessageHandler, 0, len(b.msgHandlers))
	for _, fn := range b.msgHandlers {
		handlers = append(handlers, fn)
	}
	b.handlerMu.RUnlock()

	for _, fn := range handlers {
		b.safeInvoke(fn, msg)
	}
}

// safeInvoke shields the bridge and subsequent handlers from a panicking
// handler; the failure is surfaced on the error channel instead.
func (b *Bridge) safeInvoke(fn MessageHandler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.emitError(fmt.Errorf("message handler panic: %v", r))
		}
	}()
	fn(msg)
}

func (b *Bridge) emitError(err error) {
	b.handlerMu.RLock()
	handlers := make([]ErrorHandler, 0, len(b.errHandlers))
	for _, fn := range b.errHandlers {
		handlers = append(handlers, fn)
	}
	b.handlerMu.RUnlock()

	b.logger.Debug("bridge error", zap.Error(err))
	for _, fn := range handlers {
		func() {
			defer func() { _ = recover() }()
			fn(err)
		}()
	}
}

func (b *Bridge) notifyStatus(s State) {
	b.handlerMu.RLock()
	handlers := make([]StatusHandler, 0, len(b.statusHandlers))
	for _, fn := range b.statusHandlers {
		handlers = append(handlers, fn)
	}
	b.handlerMu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.emitError(fmt.Errorf("status handler panic: %v", r))
				}
			}()
			fn(s)
		}()
	}
}

func (b *Bridge) register(add func(id HandlerID)) (HandlerID, error) {
	if b.isDestroyed() {
		return 0, ErrDestroyed
	}
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.nextHandlerID++
	id := b.nextHandlerID
	add(id)
	return id, nil
}

func (b *Bridge) unregister(remove func()) error {
	if b.isDestroyed() {
		return ErrDestroyed
	}
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	remove()
	return nil
}
