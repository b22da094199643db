// Package xmlutil holds the HTML escaping the emitter needs for rewritten
// attribute values and escaped print output.
package xmlutil

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeHTML escapes the three HTML-significant characters: & < > only.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
