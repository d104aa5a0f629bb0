package codegen

import (
	"fmt"
	"strings"
)

// emitter accumulates indented Rust source.
type emitter struct {
	sb     strings.Builder
	indent int
}

func (e *emitter) line(format string, args ...interface{}) {
	if len(args) == 0 {
		e.raw(format)
		return
	}
	e.raw(fmt.Sprintf(format, args...))
}

// raw writes text as one indented line, without formatting.
func (e *emitter) raw(text string) {
	if text == "" {
		e.sb.WriteByte('\n')
		return
	}
	e.sb.WriteString(strings.Repeat("    ", e.indent))
	e.sb.WriteString(text)
	e.sb.WriteByte('\n')
}

// comment writes text as line comments, one per line of text.
func (e *emitter) comment(marker, text string) {
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if l == "" {
			e.raw(marker)
			continue
		}
		e.line("%s %s", marker, l)
	}
}

func (e *emitter) in()  { e.indent++ }
func (e *emitter) out() { e.indent-- }

func (e *emitter) String() string {
	return e.sb.String()
}

// paren wraps an expression unless it is a single token.
func paren(expr string) string {
	for _, r := range expr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == ':', r == '#', r == '.':
		default:
			return "(" + expr + ")"
		}
	}
	return expr
}
