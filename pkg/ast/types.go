// Package ast defines types for the C AST produced by the external frontend.
// The frontend dumps one JSON document per compilation unit.
package ast

// Unit represents one compilation unit.
type Unit struct {
	File  string  `json:"file"`  // Main source file of the unit
	Decls []*Decl `json:"decls"` // Top-level declarations, including those pulled in from headers
}

// Location represents a position in a source or header file.
type Location struct {
	File string `json:"file,omitempty"` // Empty means the unit's main file
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// Declaration kinds.
const (
	DeclFunction = "function"
	DeclVar      = "var"
	DeclTypedef  = "typedef"
	DeclRecord   = "record"
	DeclEnum     = "enum"
)

// Storage classes.
const (
	StorageNone   = ""
	StorageStatic = "static"
	StorageExtern = "extern"
)

// Decl represents a declaration, at file scope or inside a block.
type Decl struct {
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Type     *TypeRef `json:"type,omitempty"` // Variable type, or function return type
	Params   []*Param `json:"params,omitempty"`
	Variadic bool     `json:"variadic,omitempty"`
	Storage  string   `json:"storage,omitempty"`
	Body     *Stmt    `json:"body,omitempty"` // Function definitions only
	Init     *Expr    `json:"init,omitempty"` // Variable initializer
	Location Location `json:"location"`
}

// IsDefinition reports whether a function declaration carries a body.
func (d *Decl) IsDefinition() bool {
	return d.Kind == DeclFunction && d.Body != nil
}

// Param represents a function parameter.
type Param struct {
	Name string   `json:"name"`
	Type *TypeRef `json:"type,omitempty"`
}

// Type kinds.
const (
	TypeVoid     = "void"
	TypeBool     = "bool"
	TypeChar     = "char"
	TypeShort    = "short"
	TypeInt      = "int"
	TypeLong     = "long"
	TypeEnum     = "enum"
	TypeFloat    = "float"
	TypeDouble   = "double"
	TypePointer  = "pointer"
	TypeArray    = "array"
	TypeRecord   = "record"
	TypeFunction = "function"
)

// TypeRef is a C type as spelled by the frontend.
type TypeRef struct {
	Kind     string   `json:"kind"`
	Name     string   `json:"name,omitempty"` // Record, enum or typedef name
	Elem     *TypeRef `json:"elem,omitempty"` // Pointer target or array element
	Length   int      `json:"length,omitempty"`
	Unsigned bool     `json:"unsigned,omitempty"`
}

// Statement kinds.
const (
	StmtCompound = "compound"
	StmtDecl     = "decl"
	StmtExpr     = "expr"
	StmtReturn   = "return"
	StmtIf       = "if"
	StmtWhile    = "while"
	StmtDo       = "do"
	StmtFor      = "for"
	StmtSwitch   = "switch"
	StmtCase     = "case"
	StmtDefault  = "default"
	StmtBreak    = "break"
	StmtContinue = "continue"
	StmtLabel    = "label"
	StmtGoto     = "goto"
	StmtNull     = "null"
)

// Stmt represents a statement. Which fields are set depends on Kind.
type Stmt struct {
	Kind     string   `json:"kind"`
	Body     []*Stmt  `json:"body,omitempty"`  // compound
	Decls    []*Decl  `json:"decls,omitempty"` // decl
	Expr     *Expr    `json:"expr,omitempty"`  // expr, return, case value
	Cond     *Expr    `json:"cond,omitempty"`  // if, while, do, for, switch
	Then     *Stmt    `json:"then,omitempty"`
	Else     *Stmt    `json:"else,omitempty"`
	Init     *Stmt    `json:"init,omitempty"` // for
	Step     *Expr    `json:"step,omitempty"` // for
	Sub      *Stmt    `json:"sub,omitempty"`  // loop body, switch body, labelled statement
	Label    string   `json:"label,omitempty"`
	Location Location `json:"location"`
}

// Expression kinds.
const (
	ExprInt         = "int"
	ExprFloat       = "float"
	ExprChar        = "char"
	ExprString      = "string"
	ExprRef         = "ref"
	ExprBinary      = "binary"
	ExprAssign      = "assign"
	ExprUnary       = "unary"
	ExprCall        = "call"
	ExprCast        = "cast"
	ExprParen       = "paren"
	ExprConditional = "conditional"
	ExprSubscript   = "subscript"
	ExprSizeof      = "sizeof"
	ExprMember      = "member"
)

// Expr represents an expression. Type is the frontend's computed type, when known.
type Expr struct {
	Kind    string   `json:"kind"`
	Type    *TypeRef `json:"type,omitempty"`
	Op      string   `json:"op,omitempty"`      // binary, assign ("=", "+=", ...), unary
	Postfix bool     `json:"postfix,omitempty"` // unary ++/--
	Name    string   `json:"name,omitempty"`    // ref, member
	Value   int64    `json:"value,omitempty"`   // int, char
	Float   float64  `json:"float,omitempty"`
	Text    string   `json:"text,omitempty"` // string
	LHS     *Expr    `json:"lhs,omitempty"`
	RHS     *Expr    `json:"rhs,omitempty"`
	Operand *Expr    `json:"operand,omitempty"` // unary, cast, paren, sizeof, member base
	Callee  *Expr    `json:"callee,omitempty"`
	Args    []*Expr  `json:"args,omitempty"`
	Cond    *Expr    `json:"cond,omitempty"`
	Then    *Expr    `json:"then,omitempty"`
	Else    *Expr    `json:"else,omitempty"`
	Target  *TypeRef `json:"target,omitempty"` // cast target, sizeof(type)
	Arrow   bool     `json:"arrow,omitempty"`  // member access through ->
}
