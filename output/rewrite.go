package output

import (
	"fmt"
	"regexp"
	"strings"
)

// Rewriter replaces the first match of a pattern in each line. It is built
// once per run and shared by the run's output streams.
//
// Replacement templates use $1, ${1}, $&, $<name>, ${name} and $$
// references. They are
// translated to regexp expansion syntax when the Rewriter is built.
type Rewriter struct {
	re       *regexp.Regexp
	template string
}

// NewRewriter compiles a rewrite rule. An empty search pattern yields a nil
// Rewriter, which leaves lines untouched.
func NewRewriter(search, replace string) (*Rewriter, error) {
	if search == "" {
		return nil, nil
	}
	re, err := regexp.Compile(search)
	if err != nil {
		return nil, fmt.Errorf("invalid rewrite pattern %q: %w", search, err)
	}
	return &Rewriter{re: re, template: expandTemplate(replace)}, nil
}

// Apply rewrites line. On any failure the line is returned unchanged along
// with the error.
func (r *Rewriter) Apply(line string) (out string, err error) {
	if r == nil {
		return line, nil
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = line, fmt.Errorf("rewrite panicked: %v", p)
		}
	}()

	loc := r.re.FindStringSubmatchIndex(line)
	if loc == nil {
		return line, nil
	}
	repl := r.re.ExpandString(nil, r.template, line, loc)
	return line[:loc[0]] + string(repl) + line[loc[1]:], nil
}

// String returns the compiled pattern.
func (r *Rewriter) String() string {
	if r == nil {
		return ""
	}
	return r.re.String()
}

// expandTemplate converts $1, $&, $<name> and $$ into the ${...} form
// understood by regexp.Expand. ${...} references pass through. Any other $
// is kept literally.
func expandTemplate(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			if c == '$' {
				b.WriteString("$$")
			} else {
				b.WriteByte(c)
			}
			continue
		}

		next := s[i+1]
		switch {
		case next == '$':
			b.WriteString("$$")
			i++
		case next == '&':
			b.WriteString("${0}")
			i++
		case next >= '0' && next <= '9':
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			b.WriteString("${" + s[i+1:j] + "}")
			i = j - 1
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end <= 0 {
				b.WriteString("$$")
				continue
			}
			b.WriteString(s[i : i+3+end])
			i += 2 + end
		case next == '<':
			end := strings.IndexByte(s[i+2:], '>')
			if end < 0 {
				b.WriteString("$$")
				continue
			}
			b.WriteString("${" + s[i+2:i+2+end] + "}")
			i += 2 + end
		default:
			b.WriteString("$$")
		}
	}
	return b.String()
}
