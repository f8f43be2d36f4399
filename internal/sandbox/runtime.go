package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/bridge"
	"github.com/luminadocs/lumina/internal/infrastructure/monitoring"
	"github.com/luminadocs/lumina/internal/logging"
	"github.com/luminadocs/lumina/internal/security"
	"github.com/luminadocs/lumina/internal/shared/id"
)

var (
	// ErrDestroyed is returned by every operation on a torn-down session,
	// distinguishing "no sandbox" from "empty sandbox".
	ErrDestroyed = errors.New("sandbox has been destroyed")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("sandbox already initialized")

	// ErrNotInitialized is returned when a session is used before Initialize.
	ErrNotInitialized = errors.New("sandbox not initialized")
)

// Runtime owns one sandbox session: it validates modules against the
// session policy, dispatches function calls through the bridge, accumulates
// statistics, and enforces teardown.
type Runtime struct {
	sessionID id.SessionID
	policy    security.Policy
	bridge    *bridge.Bridge
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu          sync.RWMutex
	initialized bool
	destroyed   bool
	modules     map[string]*LoadedModule

	calls callStats
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMetrics attaches a Prometheus collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// New creates a session runtime over the given bridge. The policy is fixed
// for the session's lifetime.
func New(policy security.Policy, br *bridge.Bridge, logger *logging.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		sessionID: id.NewSessionID(),
		policy:    policy,
		bridge:    br,
		modules:   make(map[string]*LoadedModule),
	}
	r.logger = logging.OrNop(logger).Named("sandbox").With(zap.String("session_id", string(r.sessionID)))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the session identity.
func (r *Runtime) SessionID() id.SessionID {
	return r.sessionID
}

// Policy returns the session's immutable security policy.
func (r *Runtime) Policy() security.Policy {
	return r.policy
}

// Initialize connects the bridge. It may be called once per session; a
// second call and any call after destruction fail.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return fmt.Errorf("cannot initialize a destroyed sandbox")
	}
	if r.initialized {
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	r.initialized = true
	r.mu.Unlock()

	if err := r.bridge.Initialize(ctx); err != nil {
		return fmt.Errorf("sandbox session %s: %w", r.sessionID, err)
	}

	r.logger.Info("sandbox session initialized")
	return nil
}

// LoadModule validates a module's binary and requested permissions against
// the session policy and, on bridge confirmation, registers it. Any single
// policy violation aborts the load naming the violated dimension; nothing
// is partially registered.
func (r *Runtime) LoadModule(ctx context.Context, binary []byte, cfg ModuleConfig) error {
	if err := r.live(); err != nil {
		return err
	}
	if cfg.Name == "" {
		return fmt.Errorf("module name is required")
	}

	r.mu.RLock()
	_, exists := r.modules[cfg.Name]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("module %q already loaded", cfg.Name)
	}

	if err := security.ValidateModuleBinary(binary, cfg.Permissions); err != nil {
		return fmt.Errorf("module %q rejected: %w", cfg.Name, err)
	}

	decision := security.EvaluateModulePermissions(cfg.Permissions, r.policy)
	if !decision.Allowed {
		if r.metrics != nil {
			for range decision.Reasons {
				r.metrics.ModuleRejections.WithLabelValues("policy").Inc()
			}
		}
		r.logger.Warn("module load denied by policy",
			zap.String("module", cfg.Name),
			zap.Strings("reasons", decision.Reasons),
		)
		return fmt.Errorf("module %q rejected by policy: %s", cfg.Name, decision.Reason())
	}
	for _, warning := range decision.Warnings {
		r.logger.Warn("module permission warning",
			zap.String("module", cfg.Name),
			zap.String("warning", warning),
		)
	}

	load := bridge.NewMessage(bridge.TypeControl, "", "", map[string]any{
		"command":     "load_module",
		"name":        cfg.Name,
		"version":     cfg.Version,
		"entry_point": cfg.EntryPoint,
		"exports":     cfg.Exports,
		"imports":     cfg.Imports,
		"binary_size": len(binary),
	})
	resp, err := r.bridge.Request(ctx, load, 0)
	if err != nil {
		return fmt.Errorf("load module %q: %w", cfg.Name, err)
	}
	if resp.Type == bridge.TypeError {
		return fmt.Errorf("load module %q: %v", cfg.Name, resp.Payload["error"])
	}

	module := &LoadedModule{
		Name:        cfg.Name,
		Version:     cfg.Version,
		EntryPoint:  cfg.EntryPoint,
		Exports:     append([]string(nil), cfg.Exports...),
		Imports:     append([]string(nil), cfg.Imports...),
		Permissions: cfg.Permissions,
		LoadedAt:    time.Now(),
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	r.modules[cfg.Name] = module
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ModulesLoaded.Inc()
	}
	r.logger.Info("module loaded",
		zap.String("module", cfg.Name),
		zap.String("version", cfg.Version),
		zap.Int("binary_size", len(binary)),
	)
	return nil
}

// ExecuteFunction dispatches one call into a loaded module and awaits the
// correlated response, bounded by the module's CPU time ceiling. The
// outcome is always structured data; only fencing errors (destroyed,
// uninitialized session) surface as Go errors. Every call updates the
// session statistics.
func (r *Runtime) ExecuteFunction(ctx context.Context, moduleName, functionName string, args []any) (*ExecutionResult, error) {
	if err := r.live(); err != nil {
		return nil, err
	}

	start := time.Now()

	r.mu.RLock()
	module := r.modules[moduleName]
	r.mu.RUnlock()

	if module == nil {
		return r.finishCall(moduleName, failure(start, fmt.Sprintf("module %q not loaded", moduleName))), nil
	}
	if !module.exportsFunction(functionName) {
		return r.finishCall(moduleName, failure(start,
			fmt.Sprintf("function %q not exported by module %q", functionName, moduleName))), nil
	}

	call := bridge.NewMessage(bridge.TypeFunctionCall, "", "", map[string]any{
		"module":   moduleName,
		"function": functionName,
		"args":     args,
	})

	timeout := time.Duration(module.Permissions.CPUTimeLimit) * time.Millisecond
	resp, err := r.bridge.Request(ctx, call, timeout)
	if err != nil {
		// The local wait is abandoned; a cancel hint goes to the peer but
		// remote abort is not guaranteed.
		cancel := bridge.NewMessage(bridge.TypeControl, "", "", map[string]any{
			"command":    "cancel",
			"message_id": call.ID,
		})
		_ = r.bridge.Send(cancel)
		return r.finishCall(moduleName, failure(start, err.Error())), nil
	}

	if resp.Type == bridge.TypeError {
		reason := fmt.Sprintf("%v", resp.Payload["error"])
		return r.finishCall(moduleName, failure(start, reason)), nil
	}

	result := &ExecutionResult{
		Success:  true,
		Result:   resp.Payload["result"],
		Duration: time.Since(start),
	}
	return r.finishCall(moduleName, result), nil
}

// SendEvent delivers a fire-and-forget event through the bridge. It blocks
// only on transport-level send validation, never on execution.
func (r *Runtime) SendEvent(eventType string, payload map[string]any) error {
	if err := r.live(); err != nil {
		return err
	}
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}

	evt := bridge.NewMessage(bridge.TypeEvent, "", "", map[string]any{
		"event_type": eventType,
		"data":       payload,
	})
	return r.bridge.Send(evt)
}

// LoadedModules lists registered modules sorted by name.
func (r *Runtime) LoadedModules() ([]LoadedModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}

	out := make([]LoadedModule, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ModuleConfigFor returns the registration record for one module.
func (r *Runtime) ModuleConfigFor(name string) (*LoadedModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}

	module := r.modules[name]
	if module == nil {
		return nil, fmt.Errorf("module %q not loaded", name)
	}
	copied := *module
	return &copied, nil
}

// Stats returns the session statistics snapshot.
func (r *Runtime) Stats() (Stats, error) {
	r.mu.RLock()
	destroyed := r.destroyed
	r.mu.RUnlock()
	if destroyed {
		return Stats{}, ErrDestroyed
	}
	return r.calls.merge(string(r.sessionID), r.bridge.Stats()), nil
}

// Destroy tears down the bridge, discards all module registrations, and
// marks the session terminal. Idempotent.
func (r *Runtime) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	r.modules = make(map[string]*LoadedModule)
	r.mu.Unlock()

	err := r.bridge.Destroy()
	r.logger.Info("sandbox session destroyed")
	return err
}

func (r *Runtime) live() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return ErrDestroyed
	}
	if !r.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (r *Runtime) finishCall(module string, result *ExecutionResult) *ExecutionResult {
	r.calls.recordCall(result.Success, result.Duration)
	if r.metrics != nil {
		status := "error"
		if result.Success {
			status = "success"
		}
		r.metrics.RecordFunctionCall(module, status, result.Duration)
	}
	if !result.Success {
		r.logger.Debug("function call failed",
			zap.String("module", module),
			zap.String("error", result.Error),
		)
	}
	return result
}
