package mir

import (
	"errors"

	"github.com/chazu/carcinize/pkg/ast"
)

// units is an in-memory UnitSource.
type units []*ast.Unit

func (u units) ProcessUnits(visit func(*ast.Unit) error) error {
	for _, unit := range u {
		if err := visit(unit); err != nil {
			return err
		}
	}
	return nil
}

var errFrontend = errors.New("frontend crashed")

type failingSource struct{}

func (failingSource) ProcessUnits(func(*ast.Unit) error) error { return errFrontend }

var (
	intT  = &ast.TypeRef{Kind: ast.TypeInt}
	voidT = &ast.TypeRef{Kind: ast.TypeVoid}
	ptrT  = &ast.TypeRef{Kind: ast.TypePointer, Elem: intT}
)

func ref(name string) *ast.Expr { return &ast.Expr{Kind: ast.ExprRef, Name: name} }
func lit(v int64) *ast.Expr     { return &ast.Expr{Kind: ast.ExprInt, Value: v, Type: intT} }

func bin(op string, l, r *ast.Expr) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprBinary, Op: op, LHS: l, RHS: r}
}

func assign(l, r *ast.Expr) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprAssign, Op: "=", LHS: l, RHS: r}
}

func unary(op string, e *ast.Expr) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprUnary, Op: op, Operand: e}
}

func call(name string, args ...*ast.Expr) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprCall, Callee: ref(name), Args: args}
}

func exprStmt(e *ast.Expr) *ast.Stmt { return &ast.Stmt{Kind: ast.StmtExpr, Expr: e} }
func ret(e *ast.Expr) *ast.Stmt      { return &ast.Stmt{Kind: ast.StmtReturn, Expr: e} }
func block(s ...*ast.Stmt) *ast.Stmt { return &ast.Stmt{Kind: ast.StmtCompound, Body: s} }

func local(name string, t *ast.TypeRef, init *ast.Expr) *ast.Stmt {
	return &ast.Stmt{Kind: ast.StmtDecl, Decls: []*ast.Decl{{Kind: ast.DeclVar, Name: name, Type: t, Init: init}}}
}

func params(names ...string) []*ast.Param {
	ps := make([]*ast.Param, len(names))
	for i, n := range names {
		ps[i] = &ast.Param{Name: n, Type: intT}
	}
	return ps
}

func fnDef(name string, ret *ast.TypeRef, ps []*ast.Param, body *ast.Stmt) *ast.Decl {
	return &ast.Decl{Kind: ast.DeclFunction, Name: name, Type: ret, Params: ps, Body: body}
}

func fnDecl(name string, ret *ast.TypeRef, ps []*ast.Param) *ast.Decl {
	return &ast.Decl{Kind: ast.DeclFunction, Name: name, Type: ret, Params: ps}
}

func convert(decls ...*ast.Decl) (*ProjectMIR, *Report) {
	p, report, err := ConvertProject(units{{File: "main.c", Decls: decls}})
	if err != nil {
		panic(err)
	}
	return p, report
}
