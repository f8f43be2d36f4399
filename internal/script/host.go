package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/dom"
	"github.com/luminadocs/lumina/internal/logging"
	"github.com/luminadocs/lumina/internal/security"
)

// Host runs document scripts inside a goja VM gated by the session's
// script permissions. The execution mode is adjudicated at construction;
// capability APIs are adjudicated per registration; document access is
// proxied through a dom.Surface so its allowlist applies on every mutation.
type Host struct {
	cfg    Config
	policy security.Policy
	logger *logging.Logger

	mu     sync.Mutex
	vm     *goja.Runtime
	closed bool

	consoleMu sync.Mutex
	console   []LogEntry
}

// APIFunc is a host capability exposed to scripts under the api global.
type APIFunc func(args []any) (any, error)

// NewHost builds a script host for the given policy. Construction fails
// when the policy disables script execution entirely.
func NewHost(policy security.Policy, surface *dom.Surface, cfg Config, logger *logging.Logger) (*Host, error) {
	decision := security.EvaluateScriptExecution(security.ExecutionSandboxed, policy)
	if !decision.Allowed {
		return nil, fmt.Errorf("script host rejected: %s", decision.Reason())
	}

	h := &Host{
		cfg:    cfg,
		policy: policy,
		logger: logging.OrNop(logger).Named("script"),
		vm:     goja.New(),
	}
	if cfg.MaxCallStackSize > 0 {
		h.vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}
	if err := h.setupGlobals(); err != nil {
		return nil, err
	}
	if surface != nil && policy.Script.DOMAccess != security.DOMAccessNone {
		if err := h.injectDocument(surface); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// RegisterAPI exposes a named capability to scripts as api.<name>(...).
// Registration fails with the policy reason when the name is not in the
// session's allowed API list.
func (h *Host) RegisterAPI(name string, fn APIFunc) error {
	decision := security.EvaluateAPI(name, h.policy)
	if !decision.Allowed {
		return fmt.Errorf("register api %q: %s", name, decision.Reason())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("script host is closed")
	}

	apiObj := h.vm.Get("api")
	obj, ok := apiObj.(*goja.Object)
	if !ok {
		obj = h.vm.NewObject()
		if err := h.vm.Set("api", obj); err != nil {
			return err
		}
	}
	return obj.Set(name, func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		out, err := fn(args)
		if err != nil {
			panic(h.vm.NewGoError(err))
		}
		return h.vm.ToValue(out)
	})
}

// Execute runs one script with the configured timeout. A timeout or
// context cancellation interrupts the VM; the error names the cause.
func (h *Host) Execute(ctx context.Context, src string) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("script host is closed")
	}

	start := time.Now()
	h.consoleMu.Lock()
	h.console = nil
	h.consoleMu.Unlock()

	timer := time.NewTimer(h.cfg.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		select {
		case <-timer.C:
			h.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			h.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	val, err := h.vm.RunString(src)
	close(done)
	<-stopped
	h.vm.ClearInterrupt()
	duration := time.Since(start)

	h.consoleMu.Lock()
	console := append([]LogEntry(nil), h.console...)
	h.consoleMu.Unlock()

	if err != nil {
		h.logger.Debug("script failed", zap.Error(err), zap.Duration("duration", duration))
		return &Result{Console: console, Duration: duration}, err
	}

	result := &Result{Console: console, Duration: duration}
	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		result.Value = val.Export()
	}
	return result, nil
}

// Close releases the VM. Further calls fail.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.vm = nil
	return nil
}

func (h *Host) setupGlobals() error {
	// Host environment escapes are not reachable from document scripts.
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := h.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if h.cfg.EnableConsole {
		console := h.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error"} {
			if err := console.Set(level, h.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := h.vm.Set("console", console); err != nil {
			return err
		}
	}

	// Timers are inert; scheduling belongs to the host.
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	if err := h.vm.Set("setTimeout", noop); err != nil {
		return err
	}
	return h.vm.Set("setInterval", noop)
}

func (h *Host) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}
		h.consoleMu.Lock()
		h.console = append(h.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		h.consoleMu.Unlock()
		return goja.Undefined()
	}
}

func (h *Host) injectDocument(surface *dom.Surface) error {
	writable := h.policy.Script.DOMAccess == security.DOMAccessWrite

	document := h.vm.NewObject()
	query := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		elements := surface.Query(call.Arguments[0].String())
		if len(elements) == 0 {
			return goja.Null()
		}
		return h.vm.ToValue(h.elementProxy(surface, elements[0], writable))
	}
	queryAll := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return h.vm.ToValue([]any{})
		}
		elements := surface.Query(call.Arguments[0].String())
		proxies := make([]any, len(elements))
		for i, el := range elements {
			proxies[i] = h.elementProxy(surface, el, writable)
		}
		return h.vm.ToValue(proxies)
	}

	if err := document.Set("querySelector", query); err != nil {
		return err
	}
	if err := document.Set("querySelectorAll", queryAll); err != nil {
		return err
	}
	if err := document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		elements := surface.Query("#" + call.Arguments[0].String())
		if len(elements) == 0 {
			return goja.Null()
		}
		return h.vm.ToValue(h.elementProxy(surface, elements[0], writable))
	}); err != nil {
		return err
	}

	if writable {
		if err := document.Set("createElement", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				return goja.Null()
			}
			el := surface.CreateElement(call.Arguments[0].String())
			if el == nil {
				return goja.Null()
			}
			return h.vm.ToValue(h.elementProxy(surface, el, true))
		}); err != nil {
			return err
		}
	}

	return h.vm.Set("document", document)
}

// elementProxy exposes an element to scripts. Reads are direct; writes are
// routed through the surface so denied operations drop silently, matching
// the rendering-path failure philosophy.
func (h *Host) elementProxy(surface *dom.Surface, el *dom.Element, writable bool) map[string]any {
	proxy := map[string]any{
		"tagName":     el.TagName,
		"id":          el.ID,
		"className":   el.ClassName,
		"textContent": el.TextContent,
		"getAttribute": func(name string) string {
			return surface.GetAttribute(el, name)
		},
	}
	if writable {
		proxy["setAttribute"] = func(name, value string) bool {
			return surface.SetAttribute(el, name, value)
		}
		proxy["setStyle"] = func(prop, value string) bool {
			return surface.SetStyle(el, prop, value)
		}
		proxy["setText"] = func(text string) bool {
			return surface.SetText(el, text)
		}
		proxy["setHTML"] = func(fragment string) string {
			return surface.SetHTML(el, fragment)
		}
		proxy["addEventListener"] = func(event string, handler goja.Callable) bool {
			return surface.AddEventListener(el, event, func(ev dom.Event) {
				_, _ = handler(goja.Undefined(), h.vm.ToValue(map[string]any{
					"type": ev.Type,
					"data": ev.Data,
				}))
			})
		}
	}
	return proxy
}
