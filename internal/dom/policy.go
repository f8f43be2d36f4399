package dom

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SurfacePolicy is the allowlist governing a rendering surface. Everything
// not explicitly allowed is dropped.
type SurfacePolicy struct {
	AllowedTags       []string `json:"allowed_tags" yaml:"allowed_tags"`
	AllowedAttributes []string `json:"allowed_attributes" yaml:"allowed_attributes"`
	AllowedEvents     []string `json:"allowed_events" yaml:"allowed_events"`
	AllowedStyleProps []string `json:"allowed_style_props" yaml:"allowed_style_props"`
	MaxElements       int      `json:"max_elements" yaml:"max_elements"`
	AllowScripts      bool     `json:"allow_scripts" yaml:"allow_scripts"`
	AllowForms        bool     `json:"allow_forms" yaml:"allow_forms"`
	AllowNavigation   bool     `json:"allow_navigation" yaml:"allow_navigation"`
}

// DefaultSurfacePolicy returns the baseline allowlist for document content:
// structural and text-level markup only, a small attribute set, pointer
// events, and layout-safe style properties.
func DefaultSurfacePolicy() SurfacePolicy {
	return SurfacePolicy{
		AllowedTags: []string{
			"div", "span", "p", "a", "img", "ul", "ol", "li",
			"h1", "h2", "h3", "h4", "h5", "h6",
			"table", "thead", "tbody", "tr", "td", "th",
			"strong", "em", "code", "pre", "blockquote", "br", "hr",
			"button", "canvas", "svg", "figure", "figcaption",
		},
		AllowedAttributes: []string{
			"id", "class", "title", "alt", "src", "href", "width", "height",
			"colspan", "rowspan", "role", "tabindex", "draggable",
		},
		AllowedEvents: []string{
			"click", "dblclick", "mouseover", "mouseout", "mousedown",
			"mouseup", "keydown", "keyup", "input", "change", "focus", "blur",
		},
		AllowedStyleProps: []string{
			"color", "background-color", "font-size", "font-weight",
			"font-family", "text-align", "margin", "padding", "border",
			"width", "height", "display", "position", "top", "left",
			"opacity", "transform", "flex", "flex-direction", "gap",
		},
		MaxElements: 10_000,
	}
}

func (p SurfacePolicy) allowsTag(tag string) bool {
	return containsFold(p.AllowedTags, tag)
}

func (p SurfacePolicy) allowsAttribute(name string) bool {
	return containsFold(p.AllowedAttributes, name)
}

func (p SurfacePolicy) allowsEvent(name string) bool {
	return containsFold(p.AllowedEvents, name)
}

func (p SurfacePolicy) allowsStyleProp(name string) bool {
	return containsFold(p.AllowedStyleProps, name)
}

// sanitizer builds the bluemonday policy corresponding to this allowlist.
// Fragments passed through SetHTML are filtered by it, so markup injected
// as text obeys the same rules as programmatic element construction.
func (p SurfacePolicy) sanitizer() *bluemonday.Policy {
	bm := bluemonday.NewPolicy()
	bm.AllowElements(p.AllowedTags...)
	if len(p.AllowedAttributes) > 0 {
		bm.AllowAttrs(p.AllowedAttributes...).Globally()
	}
	if len(p.AllowedStyleProps) > 0 {
		bm.AllowAttrs("style").Globally()
		bm.AllowStyles(p.AllowedStyleProps...).Globally()
	}
	bm.AllowURLSchemes("http", "https", "mailto")
	bm.RequireNoFollowOnLinks(true)
	return bm
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
