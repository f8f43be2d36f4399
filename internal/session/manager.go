// Package session manages the set of live sandbox sessions in one
// process. Each session owns its own bridge, runtime, and statistics;
// nothing is shared across sessions.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/bridge"
	"github.com/luminadocs/lumina/internal/infrastructure/monitoring"
	"github.com/luminadocs/lumina/internal/logging"
	"github.com/luminadocs/lumina/internal/sandbox"
	"github.com/luminadocs/lumina/internal/security"
	"github.com/luminadocs/lumina/internal/shared/id"
)

// Session pairs one sandbox runtime with its creation time.
type Session struct {
	ID        id.SessionID
	Runtime   *sandbox.Runtime
	CreatedAt time.Time
}

// Manager creates, looks up, and tears down sandbox sessions.
type Manager struct {
	bridgeCfg   bridge.Config
	maxSessions int
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[id.SessionID]*Session
}

// NewManager builds a manager enforcing the given session ceiling.
func NewManager(bridgeCfg bridge.Config, maxSessions int, logger *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		bridgeCfg:   bridgeCfg,
		maxSessions: maxSessions,
		logger:      logging.OrNop(logger).Named("session"),
		metrics:     metrics,
		sessions:    make(map[id.SessionID]*Session),
	}
}

// Create builds and initializes a new sandbox session over the given
// transport binding. The session is registered only after its bridge
// handshake succeeds.
func (m *Manager) Create(ctx context.Context, policy security.Policy, binding bridge.Binding) (*Session, error) {
	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()
	if m.maxSessions > 0 && count >= m.maxSessions {
		return nil, fmt.Errorf("session limit %d reached", m.maxSessions)
	}

	var bridgeOpts []bridge.Option
	if m.metrics != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithObserver(m.metrics))
	}
	br := bridge.New(binding, m.bridgeCfg, m.logger, bridgeOpts...)

	var opts []sandbox.Option
	if m.metrics != nil {
		opts = append(opts, sandbox.WithMetrics(m.metrics))
	}
	rt := sandbox.New(policy, br, m.logger, opts...)

	if err := rt.Initialize(ctx); err != nil {
		_ = rt.Destroy()
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	s := &Session{
		ID:        rt.SessionID(),
		Runtime:   rt,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		_ = rt.Destroy()
		return nil, fmt.Errorf("session limit %d reached", m.maxSessions)
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
	}
	m.logger.Info("session created", zap.String("session_id", string(s.ID)))
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(sessionID id.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns all live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Destroy tears one session down and removes it. Destroying an unknown
// session is an error so callers can distinguish it from repeat teardown
// of a known one.
func (m *Manager) Destroy(sessionID id.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if err := s.Runtime.Destroy(); err != nil {
		return fmt.Errorf("destroy session %s: %w", sessionID, err)
	}
	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed()
	}
	m.logger.Info("session destroyed", zap.String("session_id", string(sessionID)))
	return nil
}

// Shutdown destroys every live session. Used on daemon exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[id.SessionID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Runtime.Destroy(); err != nil {
			m.logger.Warn("session teardown failed",
				zap.String("session_id", string(s.ID)),
				zap.Error(err),
			)
		} else if m.metrics != nil {
			m.metrics.RecordSessionDestroyed()
		}
	}
	m.logger.Info("all sessions destroyed", zap.Int("count", len(sessions)))
}
