package dom

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/logging"
)

// Element is a node in the surface's document proxy. Mutation goes through
// the owning Surface so the allowlist is applied on every path.
type Element struct {
	TagName     string
	ID          string
	ClassName   string
	TextContent string
	InnerHTML   string
	Attributes  map[string]string
	Styles      map[string]string
	Children    []*Element
	Parent      *Element
}

// Event is delivered to listeners registered through AddEventListener.
type Event struct {
	Type   string
	Target *Element
	Data   map[string]any
}

// Handler consumes surface events.
type Handler func(Event)

// Surface is a policy-gated facade over a document subtree. Disallowed
// operations are dropped or sanitized, never raised, because this sits on
// the rendering path where a denial must not block content display.
type Surface struct {
	policy    SurfacePolicy
	sanitizer *bluemonday.Policy
	logger    *logging.Logger

	mu        sync.RWMutex
	root      *Element
	created   int
	listeners map[*Element]map[string][]Handler
	cleaned   bool
}

// NewSurface builds a surface rooted at an empty document node.
func NewSurface(policy SurfacePolicy, logger *logging.Logger) *Surface {
	return &Surface{
		policy:    policy,
		sanitizer: policy.sanitizer(),
		logger:    logging.OrNop(logger).Named("dom"),
		root: &Element{
			TagName:    "document",
			Attributes: make(map[string]string),
			Styles:     make(map[string]string),
		},
		listeners: make(map[*Element]map[string][]Handler),
	}
}

// Root returns the document node, or nil after cleanup.
func (s *Surface) Root() *Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cleaned {
		return nil
	}
	return s.root
}

// CreateElement allocates a new detached element. It returns nil when the
// tag is not allowlisted, the creation ceiling is reached, or the surface
// has been cleaned up.
func (s *Surface) CreateElement(tag string) *Element {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned {
		return nil
	}
	if !s.tagPermitted(tag) {
		s.logger.Debug("element creation dropped", zap.String("tag", tag))
		return nil
	}
	if s.policy.MaxElements > 0 && s.created >= s.policy.MaxElements {
		s.logger.Warn("element creation ceiling reached", zap.Int("max", s.policy.MaxElements))
		return nil
	}

	s.created++
	return &Element{
		TagName:    strings.ToLower(tag),
		Attributes: make(map[string]string),
		Styles:     make(map[string]string),
	}
}

func (s *Surface) tagPermitted(tag string) bool {
	lower := strings.ToLower(tag)
	switch lower {
	case "script":
		return s.policy.AllowScripts
	case "form", "input", "select", "textarea", "option":
		return s.policy.AllowForms && s.policy.allowsTag(lower)
	case "iframe", "object", "embed", "base", "meta", "link":
		return false
	}
	return s.policy.allowsTag(lower)
}

// AppendChild attaches child under parent. A node cannot be attached twice
// or made its own ancestor.
func (s *Surface) AppendChild(parent, child *Element) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || parent == nil || child == nil || child.Parent != nil || parent == child {
		return false
	}
	for p := parent; p != nil; p = p.Parent {
		if p == child {
			return false
		}
	}
	child.Parent = parent
	parent.Children = append(parent.Children, child)
	return true
}

// RemoveChild detaches child from parent and unregisters its listeners.
func (s *Surface) RemoveChild(parent, child *Element) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || parent == nil || child == nil || child.Parent != parent {
		return false
	}
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			child.Parent = nil
			s.dropListenersLocked(child)
			return true
		}
	}
	return false
}

// SetAttribute applies an attribute if the name is allowlisted and the
// value is safe. Inline event handlers, disallowed names, navigation
// attributes under a no-navigation policy, and dangerous URL schemes are
// silently dropped.
func (s *Surface) SetAttribute(el *Element, name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || el == nil {
		return false
	}
	lower := strings.ToLower(name)
	if inlineHandlerAttribute(lower) || !s.policy.allowsAttribute(lower) {
		s.logger.Debug("attribute dropped", zap.String("name", lower))
		return false
	}
	if !s.policy.AllowNavigation && (lower == "href" || lower == "target") {
		return false
	}
	if urlAttributes[lower] && dangerousURLValue(value) {
		s.logger.Debug("attribute value sanitized", zap.String("name", lower))
		return false
	}

	el.Attributes[lower] = value
	switch lower {
	case "id":
		el.ID = value
	case "class":
		el.ClassName = value
	}
	return true
}

// GetAttribute returns the attribute value, or "" after cleanup.
func (s *Surface) GetAttribute(el *Element, name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cleaned || el == nil {
		return ""
	}
	return el.Attributes[strings.ToLower(name)]
}

// SetStyle applies a style property if it is allowlisted and the value
// carries no legacy execution vector.
func (s *Surface) SetStyle(el *Element, prop, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || el == nil {
		return false
	}
	lower := strings.ToLower(prop)
	if !s.policy.allowsStyleProp(lower) {
		s.logger.Debug("style property dropped", zap.String("property", lower))
		return false
	}
	if dangerousStyleValue(value) {
		s.logger.Debug("style value sanitized", zap.String("property", lower))
		return false
	}
	el.Styles[lower] = value
	return true
}

// SetText replaces the element's text content. Text is inert, so no
// filtering applies.
func (s *Surface) SetText(el *Element, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned || el == nil {
		return false
	}
	el.TextContent = text
	return true
}

// SetHTML sanitizes the fragment against the surface allowlist, stores the
// result, and returns it. Markup injected as text obeys the same policy as
// programmatic construction.
func (s *Surface) SetHTML(el *Element, fragment string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned || el == nil {
		return ""
	}
	clean := s.sanitizer.Sanitize(fragment)
	el.InnerHTML = clean
	return clean
}

// AddEventListener registers a handler for an allowlisted event. The
// (element, event) pair is tracked so Cleanup can reverse it.
func (s *Surface) AddEventListener(el *Element, event string, handler Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || el == nil || handler == nil {
		return false
	}
	lower := s.normalizeEventName(event)
	if !s.policy.allowsEvent(lower) {
		s.logger.Debug("event listener dropped", zap.String("event", lower))
		return false
	}

	byEvent := s.listeners[el]
	if byEvent == nil {
		byEvent = make(map[string][]Handler)
		s.listeners[el] = byEvent
	}
	byEvent[lower] = append(byEvent[lower], handler)
	return true
}

// normalizeEventName lowercases the name and accepts the handler-attribute
// spelling ("onclick" for "click"). An allowed name is kept intact first,
// so real events starting with "on", like "online", are never mangled.
func (s *Surface) normalizeEventName(event string) string {
	lower := strings.ToLower(event)
	if s.policy.allowsEvent(lower) {
		return lower
	}
	if trimmed := strings.TrimPrefix(lower, "on"); trimmed != lower && s.policy.allowsEvent(trimmed) {
		return trimmed
	}
	return lower
}

// RemoveEventListeners drops all handlers for one event on one element.
func (s *Surface) RemoveEventListeners(el *Element, event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || el == nil {
		return false
	}
	lower := s.normalizeEventName(event)
	byEvent := s.listeners[el]
	if byEvent == nil || len(byEvent[lower]) == 0 {
		return false
	}
	delete(byEvent, lower)
	if len(byEvent) == 0 {
		delete(s.listeners, el)
	}
	return true
}

// Dispatch invokes the handlers registered for the event on the target
// element and returns how many ran. Dispatch after cleanup is a no-op.
func (s *Surface) Dispatch(el *Element, event string, data map[string]any) int {
	s.mu.RLock()
	if s.cleaned || el == nil {
		s.mu.RUnlock()
		return 0
	}
	lower := s.normalizeEventName(event)
	handlers := append([]Handler(nil), s.listeners[el][lower]...)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(Event{Type: lower, Target: el, Data: data})
	}
	return len(handlers)
}

// Query finds elements under the root by a simplified selector: "#id",
// ".class", or a tag name.
func (s *Surface) Query(selector string) []*Element {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cleaned || selector == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(selector, "#"):
		if el := findByID(s.root, strings.TrimPrefix(selector, "#")); el != nil {
			return []*Element{el}
		}
		return nil
	case strings.HasPrefix(selector, "."):
		return findByClass(s.root, strings.TrimPrefix(selector, "."))
	default:
		return findByTag(s.root, selector)
	}
}

// ElementCount returns how many elements this surface has created.
func (s *Surface) ElementCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created
}

// ListenerCount returns how many (element, event) registrations are live.
func (s *Surface) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byEvent := range s.listeners {
		for _, hs := range byEvent {
			n += len(hs)
		}
	}
	return n
}

// Cleanup detaches every created element and drops every listener. It is
// idempotent; all operations after cleanup return zero values.
func (s *Surface) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned {
		return
	}
	s.cleaned = true
	s.root.Children = nil
	s.listeners = make(map[*Element]map[string][]Handler)
	s.created = 0
	s.logger.Debug("surface cleaned up")
}

func (s *Surface) dropListenersLocked(el *Element) {
	delete(s.listeners, el)
	for _, child := range el.Children {
		s.dropListenersLocked(child)
	}
}

func findByID(el *Element, id string) *Element {
	if el.ID == id {
		return el
	}
	for _, child := range el.Children {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func findByClass(el *Element, class string) []*Element {
	var result []*Element
	for _, token := range strings.Fields(el.ClassName) {
		if token == class {
			result = append(result, el)
			break
		}
	}
	for _, child := range el.Children {
		result = append(result, findByClass(child, class)...)
	}
	return result
}

func findByTag(el *Element, tag string) []*Element {
	var result []*Element
	if strings.EqualFold(el.TagName, tag) {
		result = append(result, el)
	}
	for _, child := range el.Children {
		result = append(result, findByTag(child, tag)...)
	}
	return result
}
