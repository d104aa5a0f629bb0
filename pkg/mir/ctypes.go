package mir

import (
	"fmt"

	"github.com/chazu/carcinize/pkg/ast"
)

// LowerType maps a C type onto the MIR type variant.
// The second result is a warning when the mapping is lossy.
func LowerType(t *ast.TypeRef) (Type, string) {
	if t == nil {
		return UnknownType(), "missing type"
	}
	switch t.Kind {
	case ast.TypeVoid:
		return VoidType(), ""
	case ast.TypeBool, ast.TypeChar, ast.TypeShort, ast.TypeInt, ast.TypeLong, ast.TypeEnum:
		return IntType(), ""
	case ast.TypeFloat, ast.TypeDouble:
		return FloatType(), ""
	case ast.TypePointer, ast.TypeArray:
		if t.Elem == nil {
			return PointerTo(UnknownType()), fmt.Sprintf("%s without element type", t.Kind)
		}
		elem, warn := LowerType(t.Elem)
		return PointerTo(elem), warn
	default:
		name := t.Kind
		if t.Name != "" {
			name += " " + t.Name
		}
		return UnknownType(), fmt.Sprintf("unsupported type %s", name)
	}
}

// sizeOf computes the byte size of a C type on an LP64 target.
func sizeOf(t *ast.TypeRef) (int64, bool) {
	if t == nil {
		return 0, false
	}
	switch t.Kind {
	case ast.TypeBool, ast.TypeChar:
		return 1, true
	case ast.TypeShort:
		return 2, true
	case ast.TypeInt, ast.TypeEnum, ast.TypeFloat:
		return 4, true
	case ast.TypeLong, ast.TypeDouble, ast.TypePointer:
		return 8, true
	case ast.TypeArray:
		elem, ok := sizeOf(t.Elem)
		if !ok {
			return 0, false
		}
		return elem * int64(t.Length), true
	}
	return 0, false
}
