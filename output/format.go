package output

import (
	"html"
	"strings"
)

// Sanitize renders one raw line as display markup: invalid UTF-8 is
// replaced, the text is HTML-escaped, ANSI styling becomes spans and URLs
// become links.
func Sanitize(line string) string {
	line = strings.ToValidUTF8(line, "\uFFFD")
	return Autolink(ANSIToHTML(html.EscapeString(line)))
}

// escapeSynthetic prepares a daemon-generated message for display.
func escapeSynthetic(msg string) string {
	return html.EscapeString(strings.ToValidUTF8(msg, "\uFFFD"))
}

// PlainText reverses Sanitize for terminal display: markup tags are
// dropped and entities are unescaped.
func PlainText(markup string) string {
	var b strings.Builder
	b.Grow(len(markup))
	inTag := false
	for _, r := range markup {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}
