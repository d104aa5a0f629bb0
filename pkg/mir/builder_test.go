package mir

import (
	"errors"
	"testing"

	"github.com/chazu/carcinize/pkg/ast"
	"github.com/kr/pretty"
)

func TestConvertStraightLine(t *testing.T) {
	p, report := convert(fnDef("add", intT, params("a", "b"), block(ret(bin("+", ref("a"), ref("b"))))))
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}

	fn := p.Functions["add"]
	if fn == nil {
		t.Fatal("add not converted")
	}
	if !fn.IsPublic || fn.IsStatic {
		t.Errorf("add visibility = public:%v static:%v, want public", fn.IsPublic, fn.IsStatic)
	}
	if len(fn.Blocks) != 1 {
		t.Fatalf("len(Blocks) = %d, want 1", len(fn.Blocks))
	}
	want := &Return{Value: &BinaryOp{Op: Add, Left: SlotUse(0), Right: SlotUse(1)}}
	if diff := pretty.Diff(fn.Blocks[0].Term, Terminator(want)); len(diff) > 0 {
		t.Errorf("terminator differs: %v", diff)
	}
	for i, param := range fn.Params {
		if param.Slot != Slot(i) {
			t.Errorf("param %s slot = %d, want %d", param.Name, param.Slot, i)
		}
	}
}

func TestDiscoveryInsertIfAbsent(t *testing.T) {
	helper := fnDef("helper", intT, params("x"), block(ret(ref("x"))))
	helper.Storage = ast.StorageStatic
	helper.Location.File = "util.c"

	src := units{
		{File: "main.c", Decls: []*ast.Decl{
			fnDecl("helper", intT, params("x")),
			fnDecl("puts", intT, params("s")),
			{Kind: ast.DeclVar, Name: "counter", Type: intT, Init: lit(3)},
			fnDef("main", intT, nil, block(ret(call("helper", lit(1))))),
		}},
		{File: "util.c", Decls: []*ast.Decl{helper}},
	}
	p, report, err := ConvertProject(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}

	if _, ok := p.Functions["puts"]; ok {
		t.Error("never-defined puts should not be a project function")
	}
	if _, ok := p.Externs["puts"]; !ok {
		t.Error("puts should be an extern")
	}

	// the first declaration wins, so helper keeps main.c's public flags
	h := p.Functions["helper"]
	if h == nil || !h.Defined || len(h.Blocks) == 0 {
		t.Fatalf("helper not lowered: %# v", pretty.Formatter(h))
	}
	if h.Origin != "util.c" {
		t.Errorf("helper origin = %q, want util.c", h.Origin)
	}

	g := p.Globals["counter"]
	if g == nil || g.Init == nil || g.Init.Value != 3 || g.Origin != "main.c" {
		t.Errorf("counter = %# v", pretty.Formatter(g))
	}

	c := p.Functions["main"].Blocks[0].Statements[0].(*Call)
	if c.Callee != "helper" {
		t.Errorf("callee = %q, want helper", c.Callee)
	}
}

func TestUntrackedOrigin(t *testing.T) {
	inline := fnDef("twice", intT, params("x"), block(ret(bin("*", ref("x"), lit(2)))))
	inline.Location.File = "/usr/include/twice.h"
	p, _ := convert(inline)
	if got := p.Functions["twice"].Origin; got != "" {
		t.Errorf("origin of header definition = %q, want empty", got)
	}
}

func TestForeignCallQualified(t *testing.T) {
	body := block(
		local("p", ptrT, call("malloc", lit(4))),
		exprStmt(call("free", ref("p"))),
		ret(nil),
	)
	p, _ := convert(fnDecl("malloc", ptrT, params("n")), fnDef("f", voidT, nil, body))
	stmts := p.Functions["f"].Blocks[0].Statements
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %s", len(stmts), Repr(p.Functions["f"]))
	}
	alloc := stmts[0].(*Call)
	if alloc.Callee != "libc::malloc" {
		t.Errorf("callee = %q, want libc::malloc", alloc.Callee)
	}
	if v, ok := alloc.Target.(*Variable); !ok || v.Slot != 0 {
		t.Errorf("malloc target = %v, want slot 0", alloc.Target)
	}
	release := stmts[1].(*Call)
	if release.Callee != "libc::free" || release.Target != nil {
		t.Errorf("free call = %+v, want discarded libc::free", release)
	}
}

func TestControlFlowWellFormed(t *testing.T) {
	i := ref("i")
	tests := []struct {
		name string
		body *ast.Stmt
	}{
		{"if else", block(&ast.Stmt{Kind: ast.StmtIf, Cond: bin("<", ref("a"), lit(0)),
			Then: ret(lit(-1)), Else: ret(lit(1))})},
		{"while", block(local("i", intT, lit(0)),
			&ast.Stmt{Kind: ast.StmtWhile, Cond: bin("<", i, ref("a")),
				Sub: exprStmt(unary("++", i))}, ret(i))},
		{"for break continue", block(local("s", intT, lit(0)),
			&ast.Stmt{Kind: ast.StmtFor,
				Init: local("i", intT, lit(0)),
				Cond: bin("<", i, lit(10)),
				Step: &ast.Expr{Kind: ast.ExprUnary, Op: "++", Postfix: true, Operand: i},
				Sub: block(
					&ast.Stmt{Kind: ast.StmtIf, Cond: bin("==", i, lit(3)), Then: &ast.Stmt{Kind: ast.StmtContinue}},
					&ast.Stmt{Kind: ast.StmtIf, Cond: bin("==", i, lit(7)), Then: &ast.Stmt{Kind: ast.StmtBreak}},
					exprStmt(&ast.Expr{Kind: ast.ExprAssign, Op: "+=", LHS: ref("s"), RHS: i}),
				)},
			ret(ref("s")))},
		{"infinite for", block(&ast.Stmt{Kind: ast.StmtFor, Sub: block(ret(lit(1)))})},
		{"do while", block(&ast.Stmt{Kind: ast.StmtDo, Cond: ref("a"),
			Sub: exprStmt(assign(ref("a"), bin("-", ref("a"), lit(1))))}, ret(ref("a")))},
		{"switch fallthrough", block(local("y", intT, nil),
			&ast.Stmt{Kind: ast.StmtSwitch, Cond: ref("a"), Sub: block(
				&ast.Stmt{Kind: ast.StmtCase, Expr: lit(1), Sub: exprStmt(assign(ref("y"), lit(10)))},
				&ast.Stmt{Kind: ast.StmtCase, Expr: lit(2), Sub: exprStmt(assign(ref("y"), lit(20)))},
				&ast.Stmt{Kind: ast.StmtBreak},
				&ast.Stmt{Kind: ast.StmtDefault, Sub: exprStmt(assign(ref("y"), lit(0)))},
			)}, ret(ref("y")))},
		{"goto", block(&ast.Stmt{Kind: ast.StmtGoto, Label: "out"},
			exprStmt(assign(ref("a"), lit(5))),
			&ast.Stmt{Kind: ast.StmtLabel, Label: "out", Sub: ret(ref("a"))})},
		{"short circuit value", block(ret(bin("||", bin("&&", ref("a"), lit(1)), unary("!", ref("a")))))},
		{"ternary", block(ret(&ast.Expr{Kind: ast.ExprConditional, Cond: ref("a"), Then: lit(1), Else: call("abs", ref("a"))}))},
		{"statements after return", block(ret(lit(0)), exprStmt(call("puts", lit(0))))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, report := convert(fnDef("f", intT, params("a"), tt.body))
			if err := report.Err(); err != nil {
				t.Fatalf("unexpected errors: %v", err)
			}
			fn := p.Functions["f"]
			if err := Verify(fn); err != nil {
				t.Fatalf("Verify() = %v\n%s", err, Repr(fn))
			}
			if len(fn.Blocks) == 0 || fn.Blocks[0].ID != 0 {
				t.Fatal("missing entry block")
			}
		})
	}
}

func TestWhileShape(t *testing.T) {
	i := ref("i")
	body := block(local("i", intT, lit(0)),
		&ast.Stmt{Kind: ast.StmtWhile, Cond: bin("<", i, lit(10)),
			Sub: block(exprStmt(assign(i, bin("+", i, lit(1)))))},
		ret(i))
	p, _ := convert(fnDef("count", intT, nil, body))
	fn := p.Functions["count"]
	if len(fn.Blocks) != 4 {
		t.Fatalf("len(Blocks) = %d, want 4\n%s", len(fn.Blocks), Repr(fn))
	}
	if g, ok := fn.Blocks[0].Term.(*Goto); !ok || g.Target != 1 {
		t.Errorf("entry terminator = %s, want goto bb1", TermString(fn.Blocks[0].Term))
	}
	if c, ok := fn.Blocks[1].Term.(*If); !ok || c.Then != 2 || c.Else != 3 {
		t.Errorf("cond terminator = %s, want if .. then bb2 else bb3", TermString(fn.Blocks[1].Term))
	}
	if g, ok := fn.Blocks[2].Term.(*Goto); !ok || g.Target != 1 {
		t.Errorf("body terminator = %s, want back edge to bb1", TermString(fn.Blocks[2].Term))
	}
	if _, ok := fn.Blocks[3].Term.(*Return); !ok {
		t.Errorf("exit terminator = %s, want return", TermString(fn.Blocks[3].Term))
	}
}

func TestShortCircuitCondition(t *testing.T) {
	body := block(
		&ast.Stmt{Kind: ast.StmtIf, Cond: bin("&&", ref("a"), ref("b")), Then: ret(lit(1))},
		ret(lit(0)))
	p, _ := convert(fnDef("both", intT, params("a", "b"), body))
	fn := p.Functions["both"]
	for _, blk := range fn.Blocks {
		if c, ok := blk.Term.(*If); ok {
			if op, ok := c.Cond.(*BinaryOp); ok && op.Op == And {
				t.Errorf("bb%d branches on an eager &&", blk.ID)
			}
		}
	}
	entry, ok := fn.Blocks[0].Term.(*If)
	if !ok {
		t.Fatalf("entry terminator = %s, want if", TermString(fn.Blocks[0].Term))
	}
	rhs, ok := fn.Blocks[entry.Then].Term.(*If)
	if !ok {
		t.Fatalf("rhs terminator = %s, want if", TermString(fn.Blocks[entry.Then].Term))
	}
	if rhs.Else != entry.Else {
		t.Errorf("both operands should share the false target: %d vs %d", rhs.Else, entry.Else)
	}
}

func TestShadowing(t *testing.T) {
	body := block(
		local("x", intT, lit(1)),
		block(local("x", intT, lit(2)), exprStmt(assign(ref("x"), lit(3)))),
		ret(ref("x")))
	p, _ := convert(fnDef("shadow", intT, nil, body))
	fn := p.Functions["shadow"]
	if len(fn.Locals) != 2 {
		t.Fatalf("len(Locals) = %d, want 2", len(fn.Locals))
	}
	stmts := fn.Blocks[0].Statements
	inner := stmts[2].(*Assign).Target.(*Variable)
	if inner.Slot != 1 {
		t.Errorf("inner assignment slot = %d, want 1", inner.Slot)
	}
	r := fn.Blocks[0].Term.(*Return)
	if diff := pretty.Diff(r.Value, SlotUse(0)); len(diff) > 0 {
		t.Errorf("return reads the shadowed slot: %v", diff)
	}
}

func TestBuilderErrorIsolation(t *testing.T) {
	bad := fnDef("bad", intT, []*ast.Param{{Name: "", Type: intT}}, block(ret(lit(0))))
	good := fnDef("good", intT, nil, block(ret(lit(1))))
	p, report := convert(bad, good)

	var be *BuilderError
	if !errors.As(report.Err(), &be) || be.Function != "bad" {
		t.Fatalf("report.Err() = %v, want BuilderError for bad", report.Err())
	}
	if failed := report.Failed(); len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("Failed() = %v", failed)
	}
	if len(p.Functions["bad"].Blocks) != 0 {
		t.Error("failed function kept a body")
	}
	if len(p.Functions["good"].Blocks) != 1 {
		t.Error("good function was not lowered")
	}
}

func TestUndefinedLabel(t *testing.T) {
	body := block(&ast.Stmt{Kind: ast.StmtGoto, Label: "nowhere"})
	_, report := convert(fnDef("jump", voidT, nil, body))
	if report.Err() == nil {
		t.Fatal("expected a builder error for an undefined label")
	}
}

func TestFrontendErrorAborts(t *testing.T) {
	p, report, err := ConvertProject(failingSource{})
	if !errors.Is(err, errFrontend) {
		t.Fatalf("err = %v, want frontend error", err)
	}
	if p != nil || report != nil {
		t.Error("no MIR should be returned after a frontend failure")
	}
}

func TestStaticLocalHoisted(t *testing.T) {
	counter := &ast.Stmt{Kind: ast.StmtDecl, Decls: []*ast.Decl{{
		Kind: ast.DeclVar, Name: "n", Type: intT, Storage: ast.StorageStatic, Init: lit(5),
	}}}
	body := block(counter, exprStmt(unary("++", ref("n"))), ret(ref("n")))
	p, _ := convert(fnDef("next", intT, nil, body))
	g := p.Globals["next_n"]
	if g == nil || !g.IsStatic || g.Init == nil || g.Init.Value != 5 {
		t.Fatalf("hoisted static = %# v", pretty.Formatter(g))
	}
	a := p.Functions["next"].Blocks[0].Statements[0].(*Assign)
	if gl, ok := a.Target.(*Global); !ok || gl.Name != "next_n" {
		t.Errorf("increment target = %s, want @next_n", PlaceString(a.Target))
	}
}

func TestTypeLoweringWarnings(t *testing.T) {
	rec := &ast.TypeRef{Kind: ast.TypeRecord, Name: "point"}
	p, report := convert(&ast.Decl{Kind: ast.DeclVar, Name: "origin", Type: rec})
	if p.Globals["origin"].Type.Kind != KindUnknown {
		t.Error("struct global should lower to Unknown")
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a warning for the unsupported type")
	}
}

// writes counts the statements of blk that store into slot.
func writes(blk *BasicBlock, slot Slot) int {
	n := 0
	for _, st := range blk.Statements {
		var target LValue
		switch s := st.(type) {
		case *Assign:
			target = s.Target
		case *Call:
			target = s.Target
		}
		if v, ok := target.(*Variable); ok && v.Slot == slot {
			n++
		}
	}
	return n
}

func wantGoto(t *testing.T, fn *Function, from, to BlockID, what string) {
	t.Helper()
	if g, ok := fn.Blocks[from].Term.(*Goto); !ok || g.Target != to {
		t.Errorf("%s: bb%d terminator = %s, want goto bb%d", what, from, TermString(fn.Blocks[from].Term), to)
	}
}

func wantCaseTest(t *testing.T, fn *Function, from BlockID, scrut Slot, value int64, then, els BlockID) {
	t.Helper()
	c, ok := fn.Blocks[from].Term.(*If)
	if !ok {
		t.Fatalf("bb%d terminator = %s, want if", from, TermString(fn.Blocks[from].Term))
	}
	want := &BinaryOp{Op: Eq, Left: SlotUse(scrut), Right: &Constant{Value: value}}
	if diff := pretty.Diff(c.Cond, RValue(want)); len(diff) > 0 {
		t.Errorf("bb%d case test differs: %v", from, diff)
	}
	if c.Then != then || c.Else != els {
		t.Errorf("bb%d = %s, want then bb%d else bb%d", from, TermString(c), then, els)
	}
}

func TestSwitchShape(t *testing.T) {
	// switch (a) { case 1: y = 10; case 2: y = 20; break; default: y = 0; } return y;
	body := block(local("y", intT, nil),
		&ast.Stmt{Kind: ast.StmtSwitch, Cond: ref("a"), Sub: block(
			&ast.Stmt{Kind: ast.StmtCase, Expr: lit(1), Sub: exprStmt(assign(ref("y"), lit(10)))},
			&ast.Stmt{Kind: ast.StmtCase, Expr: lit(2), Sub: exprStmt(assign(ref("y"), lit(20)))},
			&ast.Stmt{Kind: ast.StmtBreak},
			&ast.Stmt{Kind: ast.StmtDefault, Sub: exprStmt(assign(ref("y"), lit(0)))},
		)}, ret(ref("y")))
	p, report := convert(fnDef("f", intT, params("a"), body))
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
	fn := p.Functions["f"]
	if len(fn.Blocks) != 7 {
		t.Fatalf("len(Blocks) = %d, want 7\n%s", len(fn.Blocks), Repr(fn))
	}

	// bb1..bb3 are the case 1, case 2 and default bodies, bb4 the exit,
	// bb5 and bb6 the rest of the test chain.
	const y, scrut = 1, 2
	if writes(fn.Blocks[0], scrut) != 1 {
		t.Errorf("entry does not evaluate the scrutinee once:\n%s", Repr(fn))
	}
	wantCaseTest(t, fn, 0, scrut, 1, 1, 5)
	wantCaseTest(t, fn, 5, scrut, 2, 2, 6)
	wantGoto(t, fn, 6, 3, "no case matched")

	wantGoto(t, fn, 1, 2, "case 1 falls through")
	wantGoto(t, fn, 2, 4, "break")
	wantGoto(t, fn, 3, 4, "default runs off the end")
	if _, ok := fn.Blocks[4].Term.(*Return); !ok {
		t.Errorf("exit terminator = %s, want return", TermString(fn.Blocks[4].Term))
	}
	for id, want := range map[BlockID]int{1: 1, 2: 1, 3: 1, 4: 0, 5: 0, 6: 0} {
		if got := writes(fn.Blocks[id], y); got != want {
			t.Errorf("bb%d writes y %d time(s), want %d", id, got, want)
		}
	}
}

func TestSwitchWithoutDefault(t *testing.T) {
	body := block(
		&ast.Stmt{Kind: ast.StmtSwitch, Cond: ref("a"), Sub: block(
			&ast.Stmt{Kind: ast.StmtCase, Expr: lit(1), Sub: ret(lit(1))},
		)}, ret(lit(0)))
	p, _ := convert(fnDef("f", intT, params("a"), body))
	fn := p.Functions["f"]
	if len(fn.Blocks) != 4 {
		t.Fatalf("len(Blocks) = %d, want 4\n%s", len(fn.Blocks), Repr(fn))
	}
	wantCaseTest(t, fn, 0, 1, 1, 1, 3)
	wantGoto(t, fn, 3, 2, "no case matched goes to the exit")
	want := map[BlockID]int64{1: 1, 2: 0}
	for id, v := range want {
		r, ok := fn.Blocks[id].Term.(*Return)
		if !ok {
			t.Fatalf("bb%d terminator = %s, want return", id, TermString(fn.Blocks[id].Term))
		}
		if diff := pretty.Diff(r.Value, RValue(&Constant{Value: v})); len(diff) > 0 {
			t.Errorf("bb%d returns %v", id, diff)
		}
	}
}

func TestGotoShape(t *testing.T) {
	// goto out; a = 5; out: return a;
	body := block(&ast.Stmt{Kind: ast.StmtGoto, Label: "out"},
		exprStmt(assign(ref("a"), lit(5))),
		&ast.Stmt{Kind: ast.StmtLabel, Label: "out", Sub: ret(ref("a"))})
	p, _ := convert(fnDef("f", intT, params("a"), body))
	fn := p.Functions["f"]
	if len(fn.Blocks) != 3 {
		t.Fatalf("len(Blocks) = %d, want 3\n%s", len(fn.Blocks), Repr(fn))
	}

	// the label block is allocated at the first goto
	const label = 1
	wantGoto(t, fn, 0, label, "goto out")
	if len(fn.Blocks[0].Statements) != 0 {
		t.Errorf("entry kept statements after the goto:\n%s", Repr(fn))
	}
	if _, ok := fn.Blocks[label].Term.(*Return); !ok {
		t.Errorf("label block terminator = %s, want return", TermString(fn.Blocks[label].Term))
	}
	if writes(fn.Blocks[2], 0) != 1 {
		t.Errorf("skipped assignment not in its own block:\n%s", Repr(fn))
	}
	wantGoto(t, fn, 2, label, "skipped code falls into the label")
}

func TestGotoBackward(t *testing.T) {
	// again: a = a - 1; if (a) goto again; return a;
	body := block(
		&ast.Stmt{Kind: ast.StmtLabel, Label: "again", Sub: exprStmt(assign(ref("a"), bin("-", ref("a"), lit(1))))},
		&ast.Stmt{Kind: ast.StmtIf, Cond: ref("a"), Then: &ast.Stmt{Kind: ast.StmtGoto, Label: "again"}},
		ret(ref("a")))
	p, report := convert(fnDef("f", intT, params("a"), body))
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
	fn := p.Functions["f"]
	wantGoto(t, fn, 0, 1, "entry falls into the label")
	if writes(fn.Blocks[1], 0) != 1 {
		t.Errorf("label block does not hold the decrement:\n%s", Repr(fn))
	}
	c, ok := fn.Blocks[1].Term.(*If)
	if !ok {
		t.Fatalf("bb1 terminator = %s, want if", TermString(fn.Blocks[1].Term))
	}
	wantGoto(t, fn, c.Then, 1, "goto again")
	if err := Verify(fn); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestConditionalShape(t *testing.T) {
	// return a ? 1 : abs(a);
	body := block(ret(&ast.Expr{Kind: ast.ExprConditional, Cond: ref("a"), Then: lit(1), Else: call("abs", ref("a"))}))
	p, _ := convert(fnDef("f", intT, params("a"), body))
	fn := p.Functions["f"]
	if len(fn.Blocks) != 4 {
		t.Fatalf("len(Blocks) = %d, want 4\n%s", len(fn.Blocks), Repr(fn))
	}

	const tmp = 1
	c, ok := fn.Blocks[0].Term.(*If)
	if !ok || c.Then != 1 || c.Else != 2 {
		t.Fatalf("entry terminator = %s, want if .. then bb1 else bb2", TermString(fn.Blocks[0].Term))
	}
	wantGoto(t, fn, 1, 3, "then arm")
	wantGoto(t, fn, 2, 3, "else arm")

	// each path from entry to the merge assigns the temporary exactly once
	for _, path := range [][]BlockID{{0, 1, 3}, {0, 2, 3}} {
		n := 0
		for _, id := range path {
			n += writes(fn.Blocks[id], tmp)
		}
		if n != 1 {
			t.Errorf("path %v assigns the temporary %d time(s), want 1", path, n)
		}
	}
	if a, ok := fn.Blocks[1].Statements[0].(*Assign); !ok || len(pretty.Diff(a.Value, RValue(&Constant{Value: 1}))) > 0 {
		t.Errorf("then arm = %s", StmtString(fn.Blocks[1].Statements[0]))
	}
	if abs, ok := fn.Blocks[2].Statements[0].(*Call); !ok || abs.Callee != ForeignPrefix+"abs" {
		t.Errorf("else arm = %s", StmtString(fn.Blocks[2].Statements[0]))
	}
	r, ok := fn.Blocks[3].Term.(*Return)
	if !ok {
		t.Fatalf("merge terminator = %s, want return", TermString(fn.Blocks[3].Term))
	}
	if diff := pretty.Diff(r.Value, SlotUse(tmp)); len(diff) > 0 {
		t.Errorf("merge does not return the temporary: %v", diff)
	}
}
