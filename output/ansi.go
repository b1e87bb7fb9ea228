package output

import (
	"fmt"
	"strconv"
	"strings"
)

const esc = '\x1b'

type rgb [3]uint8

func (c rgb) css() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c[0], c[1], c[2])
}

// basic16 is the palette for SGR 30-37/90-97 and 40-47/100-107.
var basic16 = [16]rgb{
	{0, 0, 0}, {187, 0, 0}, {0, 187, 0}, {187, 187, 0},
	{0, 0, 187}, {187, 0, 187}, {0, 187, 187}, {255, 255, 255},
	{85, 85, 85}, {255, 85, 85}, {0, 255, 0}, {255, 255, 85},
	{85, 85, 255}, {255, 85, 255}, {85, 255, 255}, {255, 255, 255},
}

var cubeLevels = [6]uint8{0, 95, 135, 175, 215, 255}

// palette256 resolves an xterm 256-color index.
func palette256(n int) rgb {
	switch {
	case n < 16:
		return basic16[n]
	case n < 232:
		n -= 16
		return rgb{cubeLevels[n/36], cubeLevels[(n/6)%6], cubeLevels[n%6]}
	default:
		g := uint8(8 + (n-232)*10)
		return rgb{g, g, g}
	}
}

// sgrState is the current graphic rendition.
type sgrState struct {
	bold, faint, italic, underline, strike bool
	fg, bg                                 *rgb
}

func (s sgrState) style() string {
	var parts []string
	if s.fg != nil {
		parts = append(parts, "color:"+s.fg.css())
	}
	if s.bg != nil {
		parts = append(parts, "background-color:"+s.bg.css())
	}
	if s.bold {
		parts = append(parts, "font-weight:bold")
	}
	if s.faint {
		parts = append(parts, "opacity:0.7")
	}
	if s.italic {
		parts = append(parts, "font-style:italic")
	}
	switch {
	case s.underline && s.strike:
		parts = append(parts, "text-decoration:underline line-through")
	case s.underline:
		parts = append(parts, "text-decoration:underline")
	case s.strike:
		parts = append(parts, "text-decoration:line-through")
	}
	return strings.Join(parts, ";")
}

// apply updates the state from one SGR parameter list.
func (s *sgrState) apply(params []int) {
	if len(params) == 0 {
		*s = sgrState{}
		return
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			*s = sgrState{}
		case p == 1:
			s.bold = true
		case p == 2:
			s.faint = true
		case p == 3:
			s.italic = true
		case p == 4:
			s.underline = true
		case p == 9:
			s.strike = true
		case p == 22:
			s.bold, s.faint = false, false
		case p == 23:
			s.italic = false
		case p == 24:
			s.underline = false
		case p == 29:
			s.strike = false
		case p >= 30 && p <= 37:
			c := basic16[p-30]
			s.fg = &c
		case p >= 90 && p <= 97:
			c := basic16[p-90+8]
			s.fg = &c
		case p == 39:
			s.fg = nil
		case p >= 40 && p <= 47:
			c := basic16[p-40]
			s.bg = &c
		case p >= 100 && p <= 107:
			c := basic16[p-100+8]
			s.bg = &c
		case p == 49:
			s.bg = nil
		case p == 38 || p == 48:
			c, used := extendedColor(params[i+1:])
			i += used
			if c == nil {
				continue
			}
			if p == 38 {
				s.fg = c
			} else {
				s.bg = c
			}
		}
	}
}

// extendedColor parses the arguments following 38 or 48.
func extendedColor(args []int) (*rgb, int) {
	if len(args) == 0 {
		return nil, 0
	}
	switch args[0] {
	case 5:
		if len(args) < 2 {
			return nil, len(args)
		}
		if args[1] < 0 || args[1] > 255 {
			return nil, 2
		}
		c := palette256(args[1])
		return &c, 2
	case 2:
		if len(args) < 4 {
			return nil, len(args)
		}
		c := rgb{clampByte(args[1]), clampByte(args[2]), clampByte(args[3])}
		return &c, 4
	default:
		return nil, 1
	}
}

func clampByte(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// ANSIToHTML converts SGR escape sequences in already-escaped text into
// <span style="..."> markup and strips every other escape sequence.
func ANSIToHTML(s string) string {
	if strings.IndexByte(s, esc) < 0 {
		return s
	}

	var (
		b     strings.Builder
		state sgrState
		open  bool
	)
	b.Grow(len(s) + 32)

	for i := 0; i < len(s); {
		if s[i] != esc {
			j := strings.IndexByte(s[i:], esc)
			if j < 0 {
				j = len(s) - i
			}
			b.WriteString(s[i : i+j])
			i += j
			continue
		}

		// ESC at end of input.
		if i+1 >= len(s) {
			i++
			continue
		}

		switch s[i+1] {
		case '[':
			end := i + 2
			for end < len(s) && (s[end] < 0x40 || s[end] > 0x7e) {
				end++
			}
			if end >= len(s) {
				// Unterminated CSI: drop the remainder.
				i = len(s)
				continue
			}
			if s[end] == 'm' {
				state.apply(parseParams(s[i+2 : end]))
				if open {
					b.WriteString("</span>")
					open = false
				}
				if style := state.style(); style != "" {
					b.WriteString(`<span style="` + style + `">`)
					open = true
				}
			}
			i = end + 1

		case ']':
			// OSC, terminated by BEL or ESC \.
			end := i + 2
			for end < len(s) {
				if s[end] == '\a' {
					end++
					break
				}
				if s[end] == esc && end+1 < len(s) && s[end+1] == '\\' {
					end += 2
					break
				}
				end++
			}
			i = end

		default:
			i += 2
		}
	}

	if open {
		b.WriteString("</span>")
	}
	return b.String()
}

func parseParams(raw string) []int {
	if raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ':' })
	params := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			// Private-mode markers such as '?' make the sequence meaningless
			// for styling.
			n = -1
		}
		params = append(params, n)
	}
	return params
}
