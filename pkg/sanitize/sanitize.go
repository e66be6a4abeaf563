// Package sanitize holds the escaping transforms applied to user-supplied text.
//
// ForStorage runs once before a value is persisted. ForDisplay runs when a
// value is rendered into markup, including values that were already passed
// through ForStorage; the resulting double escaping is intended.
package sanitize

import (
	"html"
	"strings"
)

var (
	storageReplacer = strings.NewReplacer(
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	)

	htmlReplacer = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	)

	databaseReplacer = strings.NewReplacer(
		"$", "&#36;",
		".", "&#46;",
		"[", "&#91;",
		"]", "&#93;",
	)
)

// ForStorage trims input and escapes < > " ' / as character references.
// Ampersands are left alone.
func ForStorage(input string) string {
	return storageReplacer.Replace(strings.TrimSpace(input))
}

// ForDisplay escapes text for insertion into HTML.
func ForDisplay(input string) string {
	return html.EscapeString(input)
}

// ForHTML escapes & < > " ' / without trimming.
func ForHTML(input string) string {
	return htmlReplacer.Replace(input)
}

// ForDatabase trims input and escapes the characters that are special in
// document-store field paths: $ . [ ]
func ForDatabase(input string) string {
	return databaseReplacer.Replace(strings.TrimSpace(input))
}

// Value applies fn when v is a string and returns any other value unchanged.
func Value(v any, fn func(string) string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return fn(s)
}

// Map applies fn to every string value in m, leaving other values as they are.
func Map(m map[string]any, fn func(string) string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Value(v, fn)
	}
	return out
}
