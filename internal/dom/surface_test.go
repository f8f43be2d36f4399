package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSurface() *Surface {
	return NewSurface(DefaultSurfacePolicy(), nil)
}

func TestCreateElement(t *testing.T) {
	s := newTestSurface()

	div := s.CreateElement("div")
	require.NotNil(t, div)
	assert.Equal(t, "div", div.TagName)
	assert.Equal(t, 1, s.ElementCount())

	assert.Nil(t, s.CreateElement("script"), "script tag denied by default")
	assert.Nil(t, s.CreateElement("iframe"), "embedding tags always denied")
	assert.Nil(t, s.CreateElement("form"), "form tags gated behind the forms toggle")
	assert.Nil(t, s.CreateElement("marquee"), "unknown tags denied")
	assert.Equal(t, 1, s.ElementCount(), "denied creations must not count")
}

func TestCreateElementCeiling(t *testing.T) {
	policy := DefaultSurfacePolicy()
	policy.MaxElements = 3
	s := NewSurface(policy, nil)

	for i := 0; i < 3; i++ {
		require.NotNil(t, s.CreateElement("div"))
	}
	assert.Nil(t, s.CreateElement("div"), "ceiling reached")
	assert.Equal(t, 3, s.ElementCount())
}

func TestScriptAndFormToggles(t *testing.T) {
	policy := DefaultSurfacePolicy()
	policy.AllowScripts = true
	policy.AllowForms = true
	policy.AllowedTags = append(policy.AllowedTags, "form", "input")
	s := NewSurface(policy, nil)

	assert.NotNil(t, s.CreateElement("script"))
	assert.NotNil(t, s.CreateElement("form"))
	assert.NotNil(t, s.CreateElement("input"))
	assert.Nil(t, s.CreateElement("iframe"), "embedding tags stay denied regardless of toggles")
}

func TestSetAttribute(t *testing.T) {
	s := newTestSurface()
	el := s.CreateElement("img")
	require.NotNil(t, el)

	assert.True(t, s.SetAttribute(el, "alt", "chart"))
	assert.Equal(t, "chart", s.GetAttribute(el, "alt"))

	assert.False(t, s.SetAttribute(el, "onclick", "steal()"), "inline handlers dropped")
	assert.False(t, s.SetAttribute(el, "onerror", "steal()"))
	assert.False(t, s.SetAttribute(el, "contenteditable", "true"), "non-allowlisted names dropped")
	assert.False(t, s.SetAttribute(el, "src", "javascript:alert(1)"), "executable scheme dropped")
	assert.False(t, s.SetAttribute(el, "src", "JaVa\tScRiPt:alert(1)"), "scheme check survives case and whitespace tricks")
	assert.False(t, s.SetAttribute(el, "src", "data:text/html,<script>1</script>"))
	assert.True(t, s.SetAttribute(el, "src", "https://example.com/a.png"))

	assert.Empty(t, s.GetAttribute(el, "onclick"))
	assert.Empty(t, s.GetAttribute(el, "src.javascript"))
}

func TestNavigationToggle(t *testing.T) {
	s := newTestSurface()
	a := s.CreateElement("a")
	require.NotNil(t, a)
	assert.False(t, s.SetAttribute(a, "href", "https://example.com"), "navigation denied by default")

	policy := DefaultSurfacePolicy()
	policy.AllowNavigation = true
	nav := NewSurface(policy, nil)
	a2 := nav.CreateElement("a")
	require.NotNil(t, a2)
	assert.True(t, nav.SetAttribute(a2, "href", "https://example.com"))
	assert.False(t, nav.SetAttribute(a2, "href", "javascript:alert(1)"), "scheme check still applies")
}

func TestSetStyle(t *testing.T) {
	s := newTestSurface()
	el := s.CreateElement("div")
	require.NotNil(t, el)

	assert.True(t, s.SetStyle(el, "color", "red"))
	assert.True(t, s.SetStyle(el, "Background-Color", "#fff"))
	assert.Equal(t, "#fff", el.Styles["background-color"])

	assert.False(t, s.SetStyle(el, "float", "left"), "non-allowlisted property dropped")
	assert.False(t, s.SetStyle(el, "width", "expression(alert(1))"))
	assert.False(t, s.SetStyle(el, "width", "exp ression( alert(1) )"), "whitespace does not defeat the check")
	assert.False(t, s.SetStyle(el, "border", "url(javascript:alert(1))"))
	assert.False(t, s.SetStyle(el, "display", "behavior:url(x.htc)"))
	assert.NotContains(t, el.Styles, "float")
}

func TestSetHTMLSanitizes(t *testing.T) {
	s := newTestSurface()
	el := s.CreateElement("div")
	require.NotNil(t, el)

	clean := s.SetHTML(el, `<p>hello <script>alert(1)</script><em onclick="x()">world</em></p>`)
	assert.Contains(t, clean, "<p>hello ")
	assert.Contains(t, clean, "<em>world</em>")
	assert.NotContains(t, clean, "script")
	assert.NotContains(t, clean, "onclick")
	assert.Equal(t, clean, el.InnerHTML)
}

func TestEventListeners(t *testing.T) {
	s := newTestSurface()
	btn := s.CreateElement("button")
	require.NotNil(t, btn)

	var fired int
	require.True(t, s.AddEventListener(btn, "click", func(Event) { fired++ }))
	require.True(t, s.AddEventListener(btn, "onclick", func(Event) { fired++ }), "on-prefixed names normalize")
	assert.False(t, s.AddEventListener(btn, "beforeunload", func(Event) {}), "non-allowlisted event dropped")
	assert.Equal(t, 2, s.ListenerCount())

	assert.Equal(t, 2, s.Dispatch(btn, "click", nil))
	assert.Equal(t, 2, fired)

	assert.True(t, s.RemoveEventListeners(btn, "click"))
	assert.Equal(t, 0, s.Dispatch(btn, "click", nil))
	assert.False(t, s.RemoveEventListeners(btn, "click"), "nothing left to remove")
}

func TestEventNameNormalizationIsSymmetric(t *testing.T) {
	s := newTestSurface()
	btn := s.CreateElement("button")
	require.NotNil(t, btn)

	var fired int
	require.True(t, s.AddEventListener(btn, "onclick", func(Event) { fired++ }))
	assert.Equal(t, 1, s.Dispatch(btn, "onclick", nil), "handler-attribute spelling resolves on dispatch too")
	assert.Equal(t, 1, s.Dispatch(btn, "click", nil))
	assert.Equal(t, 2, fired)
	assert.True(t, s.RemoveEventListeners(btn, "onclick"))
	assert.Equal(t, 0, s.Dispatch(btn, "click", nil))

	// Real event names starting with "on" are kept intact.
	policy := DefaultSurfacePolicy()
	policy.AllowedEvents = append(policy.AllowedEvents, "online", "line")
	net := NewSurface(policy, nil)
	el := net.CreateElement("div")
	require.NotNil(t, el)

	var onlineFired int
	require.True(t, net.AddEventListener(el, "online", func(Event) { onlineFired++ }))
	assert.Equal(t, 0, net.Dispatch(el, "line", nil), "listener not mangled to a different event")
	assert.Equal(t, 1, net.Dispatch(el, "online", nil))
	assert.Equal(t, 1, onlineFired)
}

func TestTreeAndQuery(t *testing.T) {
	s := newTestSurface()
	root := s.Root()
	require.NotNil(t, root)

	section := s.CreateElement("div")
	item := s.CreateElement("span")
	require.True(t, s.SetAttribute(section, "id", "main"))
	require.True(t, s.SetAttribute(item, "class", "label hot"))
	require.True(t, s.AppendChild(root, section))
	require.True(t, s.AppendChild(section, item))

	assert.False(t, s.AppendChild(root, item), "already attached")
	assert.False(t, s.AppendChild(item, section), "no cycles")

	require.Len(t, s.Query("#main"), 1)
	require.Len(t, s.Query(".label"), 1)
	require.Len(t, s.Query("span"), 1)
	assert.Empty(t, s.Query(".labe"), "class match is token-exact")

	require.True(t, s.RemoveChild(section, item))
	assert.Empty(t, s.Query("span"))
}

func TestRemoveChildDropsListeners(t *testing.T) {
	s := newTestSurface()
	parent := s.CreateElement("div")
	child := s.CreateElement("span")
	require.True(t, s.AppendChild(s.Root(), parent))
	require.True(t, s.AppendChild(parent, child))
	require.True(t, s.AddEventListener(child, "click", func(Event) {}))

	require.True(t, s.RemoveChild(parent, child))
	assert.Equal(t, 0, s.ListenerCount())
}

func TestCleanup(t *testing.T) {
	s := newTestSurface()
	el := s.CreateElement("div")
	require.True(t, s.AppendChild(s.Root(), el))
	require.True(t, s.AddEventListener(el, "click", func(Event) {}))

	s.Cleanup()
	s.Cleanup() // idempotent

	assert.Nil(t, s.Root())
	assert.Nil(t, s.CreateElement("div"))
	assert.False(t, s.SetAttribute(el, "id", "x"))
	assert.False(t, s.SetStyle(el, "color", "red"))
	assert.False(t, s.SetText(el, "x"))
	assert.Empty(t, s.SetHTML(el, "<p>x</p>"))
	assert.False(t, s.AddEventListener(el, "click", func(Event) {}))
	assert.Equal(t, 0, s.Dispatch(el, "click", nil))
	assert.Empty(t, s.Query("div"))
	assert.Equal(t, 0, s.ElementCount())
	assert.Equal(t, 0, s.ListenerCount())
}
