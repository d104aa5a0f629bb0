package mir

import (
	"github.com/chazu/carcinize/pkg/ast"
)

var binaryOps = map[string]BinOp{
	"+": Add, "-": Sub, "*": Mul, "/": Div, "%": Mod,
	"==": Eq, "!=": Ne, "<": Lt, "<=": Le, ">": Gt, ">=": Ge,
	"&&": And, "||": Or,
	"&": BitAnd, "|": BitOr, "^": BitXor, "<<": Shl, ">>": Shr,
}

// compound assignment operator -> binary operator
var compoundOps = map[string]BinOp{
	"+=": Add, "-=": Sub, "*=": Mul, "/=": Div, "%=": Mod,
	"&=": BitAnd, "|=": BitOr, "^=": BitXor, "<<=": Shl, ">>=": Shr,
}

func stripParens(e *ast.Expr) *ast.Expr {
	for e != nil && e.Kind == ast.ExprParen {
		e = e.Operand
	}
	return e
}

func (fb *functionBuilder) fail(reason string) {
	if fb.err == nil {
		fb.err = &BuilderError{Function: fb.fn.Name, Reason: reason}
	}
}

// exprType is the MIR type of an expression, preferring the frontend's type.
func (fb *functionBuilder) exprType(e *ast.Expr) Type {
	e = stripParens(e)
	if e == nil {
		return UnknownType()
	}
	if e.Type != nil {
		t, _ := LowerType(e.Type)
		return t
	}
	if e.Kind == ast.ExprRef {
		if b, ok := fb.scope.Resolve(e.Name); ok {
			return b.Type
		}
		if g, ok := fb.b.project.Globals[e.Name]; ok {
			return g.Type
		}
	}
	return IntType()
}

// lowerDiscard lowers an expression evaluated only for its side effects.
func (fb *functionBuilder) lowerDiscard(e *ast.Expr) {
	e = stripParens(e)
	if e == nil {
		return
	}
	switch e.Kind {
	case ast.ExprCall:
		fb.lowerCall(nil, e)
		return
	case ast.ExprAssign:
		fb.lowerAssign(e)
		return
	case ast.ExprUnary:
		if e.Op == "++" || e.Op == "--" {
			fb.lowerIncDec(e, false)
			return
		}
	case ast.ExprBinary:
		if e.Op == "," {
			fb.lowerDiscard(e.LHS)
			fb.lowerDiscard(e.RHS)
			return
		}
	case ast.ExprCast:
		fb.lowerDiscard(e.Operand)
		return
	}
	fb.lowerExpr(e)
}

// lowerExpr lowers an expression in value position. Side effects are emitted
// into the current block in evaluation order; the returned value is pure.
func (fb *functionBuilder) lowerExpr(e *ast.Expr) RValue {
	if e == nil {
		fb.fail("malformed expression")
		return &Constant{}
	}
	switch e.Kind {
	case ast.ExprInt, ast.ExprChar:
		return &Constant{Value: e.Value}
	case ast.ExprFloat:
		fb.warnf("floating-point literal %g truncated to %d", e.Float, int64(e.Float))
		return &Constant{Value: int64(e.Float)}
	case ast.ExprString:
		fb.warnf("string literal %q is not representable; replaced by 0", e.Text)
		return &Constant{}
	case ast.ExprRef:
		return fb.lowerRef(e)
	case ast.ExprParen:
		return fb.lowerExpr(e.Operand)
	case ast.ExprCast:
		return fb.lowerExpr(e.Operand)
	case ast.ExprBinary:
		return fb.lowerBinary(e)
	case ast.ExprAssign:
		return &Use{Place: fb.lowerAssign(e)}
	case ast.ExprUnary:
		return fb.lowerUnary(e)
	case ast.ExprCall:
		t := fb.exprType(e)
		if e.Type != nil && e.Type.Kind == ast.TypeVoid {
			fb.warnf("value of void call used")
			t = IntType()
		}
		tmp := fb.newTemp(t)
		fb.lowerCall(&Variable{Slot: tmp}, e)
		return SlotUse(tmp)
	case ast.ExprConditional:
		tmp := fb.newTemp(fb.exprType(e))
		thenB, elseB, merge := fb.newBlock(), fb.newBlock(), fb.newBlock()
		fb.condBr(e.Cond, thenB, elseB)
		fb.setBlock(thenB)
		fb.assignExpr(&Variable{Slot: tmp}, e.Then)
		fb.branchIfNoTerm(merge)
		fb.setBlock(elseB)
		fb.assignExpr(&Variable{Slot: tmp}, e.Else)
		fb.branchIfNoTerm(merge)
		fb.setBlock(merge)
		return SlotUse(tmp)
	case ast.ExprSubscript:
		return &Use{Place: fb.lowerPlace(e)}
	case ast.ExprSizeof:
		target := e.Target
		if target == nil && e.Operand != nil {
			target = e.Operand.Type
		}
		if n, ok := sizeOf(target); ok {
			return &Constant{Value: n}
		}
		fb.warnf("sizeof of unsupported type replaced by 0")
		return &Constant{}
	case ast.ExprMember:
		fb.warnf("member access .%s is not supported; replaced by 0", e.Name)
		if e.Operand != nil {
			fb.lowerDiscard(e.Operand)
		}
		return &Constant{}
	default:
		fb.warnf("unsupported expression %q replaced by 0", e.Kind)
		return &Constant{}
	}
}

func (fb *functionBuilder) lowerRef(e *ast.Expr) RValue {
	if b, ok := fb.scope.Resolve(e.Name); ok {
		if b.Global != "" {
			return &Use{Place: &Global{Name: b.Global}}
		}
		return SlotUse(b.Slot)
	}
	if _, ok := fb.b.project.Globals[e.Name]; ok {
		return &Use{Place: &Global{Name: e.Name}}
	}
	if e.Type != nil && e.Type.Kind == ast.TypeEnum {
		return &Constant{Value: e.Value}
	}
	if _, ok := fb.b.project.Functions[e.Name]; ok {
		fb.warnf("function %s used as a value; replaced by 0", e.Name)
		return &Constant{}
	}
	fb.warnf("unresolved identifier %s replaced by 0", e.Name)
	return &Constant{}
}

// lowerPlace lowers an expression in assignable position.
func (fb *functionBuilder) lowerPlace(e *ast.Expr) LValue {
	e = stripParens(e)
	if e == nil {
		fb.fail("malformed assignment target")
		return &Variable{Slot: fb.newTemp(UnknownType())}
	}
	switch e.Kind {
	case ast.ExprRef:
		if b, ok := fb.scope.Resolve(e.Name); ok {
			if b.Global != "" {
				return &Global{Name: b.Global}
			}
			return &Variable{Slot: b.Slot}
		}
		if _, ok := fb.b.project.Globals[e.Name]; ok {
			return &Global{Name: e.Name}
		}
		fb.warnf("assignment to unresolved identifier %s", e.Name)
	case ast.ExprUnary:
		if e.Op == "*" {
			return &Deref{Ptr: fb.lowerExpr(e.Operand)}
		}
	case ast.ExprSubscript:
		base := fb.lowerExpr(e.LHS)
		index := fb.lowerExpr(e.RHS)
		if !fb.exprType(e.LHS).IsPointer() && fb.exprType(e.RHS).IsPointer() {
			base, index = index, base
		}
		return &Deref{Ptr: &BinaryOp{Op: Add, Left: base, Right: index}}
	case ast.ExprCast:
		return fb.lowerPlace(e.Operand)
	default:
		fb.warnf("expression %q is not assignable", e.Kind)
	}
	return &Variable{Slot: fb.newTemp(fb.exprType(e))}
}

// assignExpr stores the value of e into place. A call is given the place
// as its target directly.
func (fb *functionBuilder) assignExpr(place LValue, e *ast.Expr) {
	if inner := stripParens(e); inner != nil && inner.Kind == ast.ExprCall {
		fb.lowerCall(place, inner)
		return
	}
	fb.emit(&Assign{Target: place, Value: fb.lowerExpr(e)})
}

func (fb *functionBuilder) lowerAssign(e *ast.Expr) LValue {
	place := fb.lowerPlace(e.LHS)
	if e.Op == "" || e.Op == "=" {
		fb.assignExpr(place, e.RHS)
		return place
	}
	op, ok := compoundOps[e.Op]
	if !ok {
		fb.warnf("unsupported assignment operator %s", e.Op)
		fb.assignExpr(place, e.RHS)
		return place
	}
	rhs := fb.lowerExpr(e.RHS)
	fb.emit(&Assign{Target: place, Value: &BinaryOp{Op: op, Left: &Use{Place: place}, Right: rhs}})
	return place
}

func (fb *functionBuilder) lowerIncDec(e *ast.Expr, wantValue bool) RValue {
	place := fb.lowerPlace(e.Operand)
	op := Add
	if e.Op == "--" {
		op = Sub
	}
	var old RValue
	if wantValue && e.Postfix {
		tmp := fb.newTemp(fb.exprType(e.Operand))
		fb.emit(&Assign{Target: &Variable{Slot: tmp}, Value: &Use{Place: place}})
		old = SlotUse(tmp)
	}
	fb.emit(&Assign{Target: place, Value: &BinaryOp{Op: op, Left: &Use{Place: place}, Right: &Constant{Value: 1}}})
	if old != nil {
		return old
	}
	return &Use{Place: place}
}

func (fb *functionBuilder) lowerUnary(e *ast.Expr) RValue {
	switch e.Op {
	case "-":
		return &UnaryOp{Op: Neg, Operand: fb.lowerExpr(e.Operand)}
	case "+":
		return fb.lowerExpr(e.Operand)
	case "!":
		return &UnaryOp{Op: Not, Operand: fb.lowerExpr(e.Operand)}
	case "~":
		return &UnaryOp{Op: BitNot, Operand: fb.lowerExpr(e.Operand)}
	case "*":
		return &Use{Place: &Deref{Ptr: fb.lowerExpr(e.Operand)}}
	case "&":
		return &AddressOf{Place: fb.lowerPlace(e.Operand)}
	case "++", "--":
		return fb.lowerIncDec(e, true)
	}
	fb.warnf("unsupported unary operator %s replaced by its operand", e.Op)
	return fb.lowerExpr(e.Operand)
}

func (fb *functionBuilder) lowerBinary(e *ast.Expr) RValue {
	switch e.Op {
	case ",":
		fb.lowerDiscard(e.LHS)
		return fb.lowerExpr(e.RHS)
	case "&&", "||":
		tmp := fb.newTemp(IntType())
		trueB, falseB, merge := fb.newBlock(), fb.newBlock(), fb.newBlock()
		fb.condBr(e, trueB, falseB)
		fb.setBlock(trueB)
		fb.emit(&Assign{Target: &Variable{Slot: tmp}, Value: &Constant{Value: 1}})
		fb.branchIfNoTerm(merge)
		fb.setBlock(falseB)
		fb.emit(&Assign{Target: &Variable{Slot: tmp}, Value: &Constant{Value: 0}})
		fb.branchIfNoTerm(merge)
		fb.setBlock(merge)
		return SlotUse(tmp)
	}
	op, ok := binaryOps[e.Op]
	if !ok {
		fb.warnf("unsupported binary operator %s", e.Op)
		op = Add
	}
	left := fb.lowerExpr(e.LHS)
	right := fb.lowerExpr(e.RHS)
	return &BinaryOp{Op: op, Left: left, Right: right}
}

// lowerCall emits a call statement. Callees the project defines keep their
// name; all others go through the foreign namespace.
func (fb *functionBuilder) lowerCall(target LValue, e *ast.Expr) {
	callee := stripParens(e.Callee)
	if callee == nil || callee.Kind != ast.ExprRef {
		fb.warnf("indirect call is not supported; arguments evaluated and call dropped")
		for _, a := range e.Args {
			fb.lowerDiscard(a)
		}
		if target != nil {
			fb.emit(&Assign{Target: target, Value: &Constant{}})
		}
		return
	}

	args := make([]RValue, len(e.Args))
	for i, a := range e.Args {
		args[i] = fb.lowerExpr(a)
	}
	fb.emit(&Call{Target: target, Callee: fb.resolveCallee(callee.Name), Args: args})
}

func (fb *functionBuilder) resolveCallee(name string) string {
	if fn, ok := fb.b.project.Functions[name]; ok && fn.Defined {
		return name
	}
	return ForeignPrefix + name
}

// condBr lowers e in condition position, branching to t when it is non-zero
// and to f otherwise. && and || short-circuit; ! swaps the targets.
func (fb *functionBuilder) condBr(e *ast.Expr, t, f BlockID) {
	e = stripParens(e)
	if e == nil {
		fb.terminate(&Goto{Target: t})
		return
	}
	if e.Kind == ast.ExprUnary && e.Op == "!" {
		fb.condBr(e.Operand, f, t)
		return
	}
	if e.Kind == ast.ExprBinary {
		switch e.Op {
		case "&&":
			rhs := fb.newBlock()
			fb.condBr(e.LHS, rhs, f)
			fb.setBlock(rhs)
			fb.condBr(e.RHS, t, f)
			return
		case "||":
			rhs := fb.newBlock()
			fb.condBr(e.LHS, t, rhs)
			fb.setBlock(rhs)
			fb.condBr(e.RHS, t, f)
			return
		}
	}
	cond := fb.lowerExpr(e)
	fb.terminate(&If{Cond: cond, Then: t, Else: f})
}
