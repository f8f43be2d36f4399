package dom

import "strings"

// Attributes that carry URLs and therefore need scheme checks.
var urlAttributes = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"xlink:href": true,
	"poster":     true,
}

// dangerousURLValue reports whether an attribute value smuggles executable
// content through its scheme. Whitespace and control characters are
// stripped first because browsers tolerate `java\nscript:`.
func dangerousURLValue(value string) bool {
	compact := strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, strings.ToLower(value))

	for _, scheme := range []string{"javascript:", "vbscript:", "data:text/html", "data:application"} {
		if strings.HasPrefix(compact, scheme) {
			return true
		}
	}
	return false
}

// dangerousStyleValue reports whether a CSS value uses a legacy execution
// vector. expression() is IE script-in-CSS; behavior and -moz-binding bind
// external handlers; url(javascript:) is the scheme smuggle again.
func dangerousStyleValue(value string) bool {
	compact := strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, strings.ToLower(value))

	for _, marker := range []string{"expression(", "behavior:", "behaviour:", "-moz-binding", "binding:", "url(javascript:", "url(data:"} {
		if strings.Contains(compact, marker) {
			return true
		}
	}
	return false
}

// inlineHandlerAttribute reports whether the attribute name is an inline
// event handler (onclick, onerror, ...). These are never settable; event
// wiring goes through AddEventListener where the allowlist applies.
func inlineHandlerAttribute(name string) bool {
	return len(name) > 2 && strings.HasPrefix(strings.ToLower(name), "on")
}
