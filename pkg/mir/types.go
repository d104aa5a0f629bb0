package mir

// TypeKind discriminates the MIR type variant.
type TypeKind int

const (
	KindUnknown TypeKind = iota
	KindInt
	KindFloat
	KindPointer
	KindVoid
)

func (k TypeKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindPointer:
		return "pointer"
	case KindVoid:
		return "void"
	default:
		return "unknown"
	}
}

// Type is a MIR type. Elem is set only for pointers.
type Type struct {
	Kind TypeKind
	Elem *Type
}

// IntType returns the integer type.
func IntType() Type { return Type{Kind: KindInt} }

// FloatType returns the floating-point type.
func FloatType() Type { return Type{Kind: KindFloat} }

// VoidType returns the void type.
func VoidType() Type { return Type{Kind: KindVoid} }

// UnknownType returns the lossy fallback type.
func UnknownType() Type { return Type{Kind: KindUnknown} }

// PointerTo returns a pointer to elem.
func PointerTo(elem Type) Type {
	e := elem
	return Type{Kind: KindPointer, Elem: &e}
}

// IsPointer reports whether t is a pointer type.
func (t Type) IsPointer() bool { return t.Kind == KindPointer }

// Pointee returns the element type of a pointer, or Unknown.
func (t Type) Pointee() Type {
	if t.Kind != KindPointer || t.Elem == nil {
		return UnknownType()
	}
	return *t.Elem
}

// Equal compares types structurally.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind != KindPointer {
		return true
	}
	return t.Pointee().Equal(o.Pointee())
}

func (t Type) String() string {
	switch t.Kind {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindVoid:
		return "void"
	case KindPointer:
		return "*" + t.Pointee().String()
	default:
		return "?"
	}
}
