package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/carcinize/pkg/mir"
)

// RustType maps a MIR type to Rust. Every type maps to a non-empty token.
func RustType(t mir.Type) string {
	switch t.Kind {
	case mir.KindInt:
		return "i32"
	case mir.KindFloat:
		return "f64"
	case mir.KindPointer:
		return "*mut " + RustType(t.Pointee())
	default:
		return "()"
	}
}

func isUnit(t mir.Type) bool {
	return t.Kind == mir.KindVoid || t.Kind == mir.KindUnknown
}

// defaultValue is the zero value of t.
func defaultValue(t mir.Type) string {
	switch t.Kind {
	case mir.KindInt:
		return "0"
	case mir.KindFloat:
		return "0.0"
	case mir.KindPointer:
		return "std::ptr::null_mut()"
	default:
		return "()"
	}
}

// constValue renders an integer constant as a value of type t.
func constValue(v int64, t mir.Type) string {
	switch t.Kind {
	case mir.KindFloat:
		return fmt.Sprintf("%d.0", v)
	case mir.KindPointer:
		if v == 0 {
			return "std::ptr::null_mut()"
		}
		return fmt.Sprintf("%d as isize as %s", v, RustType(t))
	case mir.KindInt:
		return fmt.Sprint(v)
	default:
		return "()"
	}
}

// cellType is the Rust type a Mutex-guarded static stores for t. Raw
// pointers are not Send, so a pointer static holds its address as usize.
func cellType(t mir.Type) string {
	if t.IsPointer() {
		return "usize"
	}
	return RustType(t)
}

// cellValue renders an initializer for a Mutex-guarded static of type t.
func cellValue(v int64, t mir.Type) string {
	if !t.IsPointer() {
		return constValue(v, t)
	}
	if v < 0 {
		return fmt.Sprintf("%d_i64 as usize", v)
	}
	return fmt.Sprint(v)
}

// coerce converts an expression of type from into type to.
func coerce(expr string, from, to mir.Type) string {
	if from.Equal(to) || isUnit(to) {
		return expr
	}
	switch {
	case isUnit(from):
		return defaultValue(to)
	case to.IsPointer() && expr == "0":
		return "std::ptr::null_mut()"
	case from.IsPointer() && to.Kind == mir.KindFloat:
		return fmt.Sprintf("(%s) as isize as f64", expr)
	case to.IsPointer() && !from.IsPointer():
		return fmt.Sprintf("(%s) as isize as %s", expr, RustType(to))
	default:
		return fmt.Sprintf("(%s) as %s", expr, RustType(to))
	}
}

var rustKeywords = map[string]bool{
	"as": true, "async": true, "await": true, "box": true, "break": true, "const": true,
	"continue": true, "crate": true, "dyn": true, "else": true, "enum": true, "extern": true,
	"false": true, "fn": true, "for": true, "if": true, "impl": true, "in": true, "let": true,
	"loop": true, "match": true, "mod": true, "move": true, "mut": true, "pub": true,
	"ref": true, "return": true, "self": true, "Self": true, "static": true, "struct": true,
	"super": true, "trait": true, "true": true, "type": true, "unsafe": true, "use": true,
	"where": true, "while": true, "yield": true, "abstract": true, "become": true,
	"do": true, "final": true, "macro": true, "override": true, "priv": true, "try": true,
	"typeof": true, "unsized": true, "virtual": true,
}

// ident escapes a C identifier that is reserved in Rust.
func ident(name string) string {
	switch name {
	case "self", "Self", "super", "crate", "_":
		return name + "_"
	}
	if rustKeywords[name] {
		return "r#" + name
	}
	return name
}

// crateName turns a project name into a valid Cargo package name.
func crateName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	s := strings.Trim(sb.String(), "-_")
	if s == "" {
		return "translated"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "c_" + s
	}
	return s
}
