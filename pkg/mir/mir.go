// Package mir defines the mid-level intermediate representation for C translation.
// The MIR sits between the C frontend's AST and Rust synthesis, providing:
// - An explicit control-flow graph of basic blocks per function
// - Numbered storage slots instead of names
// - A closed vocabulary of statements, terminators and operands
// - Semantic tags attached to functions and statements
package mir

import "sort"

// BlockID identifies a basic block within a function. Block 0 is the entry.
type BlockID int

// Slot identifies a storage location (parameter or local) within a function.
type Slot int

// ProjectMIR is the translated form of a whole project.
type ProjectMIR struct {
	Functions map[string]*Function
	Globals   map[string]*GlobalVar
	Externs   map[string]*Function // declared, never defined
}

// NewProject returns an empty project.
func NewProject() *ProjectMIR {
	return &ProjectMIR{
		Functions: make(map[string]*Function),
		Globals:   make(map[string]*GlobalVar),
		Externs:   make(map[string]*Function),
	}
}

// FunctionNames returns the defined function names in sorted order.
func (p *ProjectMIR) FunctionNames() []string {
	return sortedKeys(p.Functions)
}

// ExternNames returns the extern function names in sorted order.
func (p *ProjectMIR) ExternNames() []string {
	return sortedKeys(p.Externs)
}

// GlobalNames returns the global names in sorted order.
func (p *ProjectMIR) GlobalNames() []string {
	return sortedKeys(p.Globals)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Function is a lowered C function.
type Function struct {
	Name        string
	Params      []Parameter
	Locals      []Local
	ReturnType  *Type // nil means no return value
	Blocks      []*BasicBlock
	Annotations TagSet
	IsStatic    bool
	IsPublic    bool
	Variadic    bool
	Defined     bool   // a definition was seen during discovery
	Origin      string // tracked source file of the definition, "" if untracked
}

// Parameter is a function parameter bound to a slot.
type Parameter struct {
	Name string
	Type Type
	Slot Slot
}

// Local is a non-parameter slot: a declared variable or a compiler temporary.
type Local struct {
	Name string
	Type Type
	Slot Slot
	Temp bool
}

// NumSlots returns the number of slots used by the function.
func (f *Function) NumSlots() int {
	return len(f.Params) + len(f.Locals)
}

// SlotName returns the source name for a slot.
func (f *Function) SlotName(s Slot) string {
	for _, p := range f.Params {
		if p.Slot == s {
			return p.Name
		}
	}
	for _, l := range f.Locals {
		if l.Slot == s {
			return l.Name
		}
	}
	return ""
}

// SlotType returns the declared type of a slot.
func (f *Function) SlotType(s Slot) Type {
	for _, p := range f.Params {
		if p.Slot == s {
			return p.Type
		}
	}
	for _, l := range f.Locals {
		if l.Slot == s {
			return l.Type
		}
	}
	return UnknownType()
}

// Block returns the block with the given id, or nil.
func (f *Function) Block(id BlockID) *BasicBlock {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// BasicBlock is a straight-line statement sequence ending in exactly one terminator.
type BasicBlock struct {
	ID         BlockID
	Statements []Statement
	Term       Terminator
}

// GlobalVar is a file-scope variable.
type GlobalVar struct {
	Name     string
	Type     Type
	IsStatic bool
	IsPublic bool
	Origin   string
	Init     *Constant // constant initializer, nil for zero
}

// Statement is a non-terminating action inside a basic block.
type Statement interface {
	mirStmt()
	Tags() TagSet
}

// Assign stores a value into a place.
type Assign struct {
	Target LValue
	Value  RValue
	Tagged TagSet
}

// Call invokes a function. Target is nil when the result is discarded.
type Call struct {
	Target LValue
	Callee string
	Args   []RValue
	Tagged TagSet
}

func (*Assign) mirStmt() {}
func (*Call) mirStmt()   {}

func (s *Assign) Tags() TagSet { return s.Tagged }
func (s *Call) Tags() TagSet   { return s.Tagged }

// Annotate returns a copy of stmt with tags merged into its tag set.
func Annotate(stmt Statement, tags ...Tag) Statement {
	switch s := stmt.(type) {
	case *Assign:
		c := *s
		c.Tagged = s.Tagged.With(tags...)
		return &c
	case *Call:
		c := *s
		c.Args = append([]RValue(nil), s.Args...)
		c.Tagged = s.Tagged.With(tags...)
		return &c
	}
	return stmt
}

// Terminator ends a basic block.
type Terminator interface {
	mirTerm()
	Successors() []BlockID
}

// Goto jumps unconditionally.
type Goto struct {
	Target BlockID
}

// Return leaves the function. Value is nil for a bare return.
type Return struct {
	Value RValue
}

// If branches on a condition (non-zero is true).
type If struct {
	Cond RValue
	Then BlockID
	Else BlockID
}

func (*Goto) mirTerm()   {}
func (*Return) mirTerm() {}
func (*If) mirTerm()     {}

func (t *Goto) Successors() []BlockID   { return []BlockID{t.Target} }
func (t *Return) Successors() []BlockID { return nil }
func (t *If) Successors() []BlockID {
	if t.Then == t.Else {
		return []BlockID{t.Then}
	}
	return []BlockID{t.Then, t.Else}
}

// LValue is a place that can be assigned to.
type LValue interface {
	mirPlace()
}

// Variable is a function slot.
type Variable struct {
	Slot Slot
}

// Deref is the place a pointer value points to.
type Deref struct {
	Ptr RValue
}

// Global is a project global variable.
type Global struct {
	Name string
}

func (*Variable) mirPlace() {}
func (*Deref) mirPlace()    {}
func (*Global) mirPlace()   {}

// RValue is an operand or computed value.
type RValue interface {
	mirValue()
}

// Use reads a place.
type Use struct {
	Place LValue
}

// Constant is an integer literal.
type Constant struct {
	Value int64
}

// BinaryOp combines two operands.
type BinaryOp struct {
	Op    BinOp
	Left  RValue
	Right RValue
}

// UnaryOp applies an operator to one operand.
type UnaryOp struct {
	Op      UnOp
	Operand RValue
}

// AddressOf takes the address of a place.
type AddressOf struct {
	Place LValue
}

func (*Use) mirValue()       {}
func (*Constant) mirValue()  {}
func (*BinaryOp) mirValue()  {}
func (*UnaryOp) mirValue()   {}
func (*AddressOf) mirValue() {}

// BinOp is a binary operator.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
)

var binOpSymbols = [...]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", Mod: "%",
	Eq: "==", Ne: "!=", Lt: "<", Le: "<=", Gt: ">", Ge: ">=",
	And: "&&", Or: "||",
	BitAnd: "&", BitOr: "|", BitXor: "^", Shl: "<<", Shr: ">>",
}

func (op BinOp) String() string {
	if op < 0 || int(op) >= len(binOpSymbols) {
		return "?"
	}
	return binOpSymbols[op]
}

// IsComparison reports whether the operator yields a boolean.
func (op BinOp) IsComparison() bool {
	switch op {
	case Eq, Ne, Lt, Le, Gt, Ge, And, Or:
		return true
	}
	return false
}

// UnOp is a unary operator.
type UnOp int

const (
	Not UnOp = iota
	Neg
	BitNot
)

func (op UnOp) String() string {
	switch op {
	case Not:
		return "!"
	case Neg:
		return "-"
	case BitNot:
		return "~"
	default:
		return "?"
	}
}

// SlotUse is shorthand for reading a slot.
func SlotUse(s Slot) RValue {
	return &Use{Place: &Variable{Slot: s}}
}
