// Package markdown provides the minimal escaping needed to embed file names
// in pull-request comments without them being interpreted as formatting.
// Full Markdown sanitization happens on the hosting side; this only keeps
// punctuation in repository paths literal.
package markdown

import "strings"

var escaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	`*`, `\*`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
	`#`, `\#`,
	`+`, `\+`,
	`-`, `\-`,
	`!`, `\!`,
	`>`, `\>`,
	`<`, `\<`,
)

// Escape backslash-escapes Markdown formatting characters in s.
func Escape(s string) string {
	return escaper.Replace(s)
}

// EscapeJoin escapes every item and joins them with ", ".
func EscapeJoin(items []string) string {
	escaped := make([]string, len(items))
	for i, item := range items {
		escaped[i] = Escape(item)
	}
	return strings.Join(escaped, ", ")
}
