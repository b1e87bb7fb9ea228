package output

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s<]+`)

// Escaped quote and angle entities end a URL.
var urlTerminators = []string{"&#34;", "&#39;", "&quot;", "&lt;", "&gt;"}

// trailingEntity matches an escaped character at the end of a candidate.
var trailingEntity = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z]+);$`)

const trailingPunct = ".,;:!?"

// Autolink wraps bare http, https and ftp URLs in already-escaped text with
// anchors that open in a new browsing context.
func Autolink(s string) string {
	matches := urlPattern.FindAllStringIndex(s, -1)
	if matches == nil {
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		url := trimURL(s[start:end])
		if url == "" {
			continue
		}
		end = start + len(url)

		b.WriteString(s[last:start])
		b.WriteString(`<a href="`)
		b.WriteString(url)
		b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
		b.WriteString(url)
		b.WriteString("</a>")
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// trimURL cuts a candidate at the first escaped quote or bracket and drops
// trailing escaped characters, punctuation and unbalanced closing
// parentheses.
func trimURL(u string) string {
	for _, t := range urlTerminators {
		if i := strings.Index(u, t); i >= 0 {
			u = u[:i]
		}
	}

	for len(u) > 0 {
		last := u[len(u)-1]
		switch {
		case last == ';' && trailingEntity.MatchString(u):
			u = u[:strings.LastIndexByte(u, '&')]
		case strings.IndexByte(trailingPunct, last) >= 0:
			u = u[:len(u)-1]
		case last == ')' && strings.Count(u, "(") < strings.Count(u, ")"):
			u = u[:len(u)-1]
		default:
			if strings.HasSuffix(u, "://") {
				return ""
			}
			return u
		}
	}
	return ""
}
