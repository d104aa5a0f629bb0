package mir

import (
	"fmt"
	"sort"

	"github.com/chazu/carcinize/pkg/ast"
)

// loopFrame holds the jump targets of an enclosing loop or switch.
type loopFrame struct {
	breakTo    BlockID
	continueTo BlockID
	isSwitch   bool
}

// functionBuilder lowers one function body into a CFG. The cursor is nil
// after a jump; the next emitted statement opens a fresh unreachable block.
type functionBuilder struct {
	b       *Builder
	fn      *Function
	blocks  []*BasicBlock
	current *BasicBlock
	scope   *Scope
	locals  []Local
	loops   []loopFrame
	labels  map[string]BlockID
	placed  map[string]bool
	err     error
}

func newFunctionBuilder(b *Builder, fn *Function) *functionBuilder {
	fb := &functionBuilder{
		b:      b,
		fn:     fn,
		scope:  NewScope(nil),
		labels: make(map[string]BlockID),
		placed: make(map[string]bool),
	}
	for _, p := range fn.Params {
		fb.scope.Define(p.Name, Binding{Slot: p.Slot, Type: p.Type})
	}
	return fb
}

func (fb *functionBuilder) build(body *ast.Stmt) error {
	fb.setBlock(fb.newBlock())
	if body != nil {
		fb.lowerStmt(body)
	}
	if fb.err != nil {
		return fb.err
	}

	if fb.current != nil && fb.current.Term == nil && fb.fn.ReturnType != nil && fb.fn.Name != "main" {
		fb.warnf("control reaches end of non-void function")
	}
	for _, blk := range fb.blocks {
		if blk.Term == nil {
			blk.Term = fb.implicitReturn()
		}
	}

	var missing []string
	for name := range fb.labels {
		if !fb.placed[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &BuilderError{Function: fb.fn.Name, Reason: fmt.Sprintf("goto to undefined label %s", missing[0])}
	}

	fb.fn.Blocks = fb.blocks
	fb.fn.Locals = fb.locals
	return nil
}

func (fb *functionBuilder) implicitReturn() Terminator {
	if fb.fn.ReturnType == nil {
		return &Return{}
	}
	return &Return{Value: &Constant{Value: 0}}
}

func (fb *functionBuilder) warnf(format string, args ...interface{}) {
	fb.b.report.warnf("%s: %s", fb.fn.Name, fmt.Sprintf(format, args...))
}

// newBlock allocates a block without moving the cursor.
func (fb *functionBuilder) newBlock() BlockID {
	id := BlockID(len(fb.blocks))
	fb.blocks = append(fb.blocks, &BasicBlock{ID: id})
	return id
}

func (fb *functionBuilder) setBlock(id BlockID) {
	fb.current = fb.blocks[id]
}

// ensureBlock opens a fresh block when the cursor sits after a jump.
func (fb *functionBuilder) ensureBlock() *BasicBlock {
	if fb.current == nil || fb.current.Term != nil {
		fb.setBlock(fb.newBlock())
	}
	return fb.current
}

func (fb *functionBuilder) emit(st Statement) {
	blk := fb.ensureBlock()
	blk.Statements = append(blk.Statements, st)
}

// terminate ends the current block and clears the cursor.
func (fb *functionBuilder) terminate(t Terminator) {
	blk := fb.ensureBlock()
	blk.Term = t
	fb.current = nil
}

// branchIfNoTerm falls through to target unless the block already jumped.
func (fb *functionBuilder) branchIfNoTerm(target BlockID) {
	if fb.current != nil && fb.current.Term == nil {
		fb.current.Term = &Goto{Target: target}
	}
	fb.current = nil
}

func (fb *functionBuilder) pushLoop(f loopFrame) { fb.loops = append(fb.loops, f) }
func (fb *functionBuilder) popLoop()             { fb.loops = fb.loops[:len(fb.loops)-1] }

func (fb *functionBuilder) pushScope() { fb.scope = NewScope(fb.scope) }
func (fb *functionBuilder) popScope()  { fb.scope = fb.scope.Parent() }

// newLocal allocates the next slot after all parameters and earlier locals.
func (fb *functionBuilder) newLocal(name string, t Type, temp bool) Slot {
	slot := Slot(len(fb.fn.Params) + len(fb.locals))
	fb.locals = append(fb.locals, Local{Name: name, Type: t, Slot: slot, Temp: temp})
	return slot
}

func (fb *functionBuilder) newTemp(t Type) Slot {
	return fb.newLocal("", t, true)
}

func (fb *functionBuilder) labelBlock(name string) BlockID {
	if id, ok := fb.labels[name]; ok {
		return id
	}
	id := fb.newBlock()
	fb.labels[name] = id
	return id
}

func (fb *functionBuilder) lowerStmt(s *ast.Stmt) {
	if s == nil {
		return
	}
	switch s.Kind {
	case ast.StmtCompound:
		fb.pushScope()
		for _, inner := range s.Body {
			fb.lowerStmt(inner)
		}
		fb.popScope()
	case ast.StmtDecl:
		for _, d := range s.Decls {
			fb.lowerLocalDecl(d)
		}
	case ast.StmtExpr:
		fb.lowerDiscard(s.Expr)
	case ast.StmtReturn:
		fb.lowerReturn(s)
	case ast.StmtIf:
		fb.lowerIf(s)
	case ast.StmtWhile:
		fb.lowerWhile(s)
	case ast.StmtDo:
		fb.lowerDo(s)
	case ast.StmtFor:
		fb.lowerFor(s)
	case ast.StmtSwitch:
		fb.lowerSwitch(s)
	case ast.StmtCase, ast.StmtDefault:
		fb.warnf("case label outside switch at line %d", s.Location.Line)
		fb.lowerStmt(s.Sub)
	case ast.StmtBreak:
		if len(fb.loops) == 0 {
			fb.warnf("break outside loop at line %d", s.Location.Line)
			return
		}
		fb.terminate(&Goto{Target: fb.loops[len(fb.loops)-1].breakTo})
	case ast.StmtContinue:
		for i := len(fb.loops) - 1; i >= 0; i-- {
			if !fb.loops[i].isSwitch {
				fb.terminate(&Goto{Target: fb.loops[i].continueTo})
				return
			}
		}
		fb.warnf("continue outside loop at line %d", s.Location.Line)
	case ast.StmtLabel:
		target := fb.labelBlock(s.Label)
		fb.placed[s.Label] = true
		fb.branchIfNoTerm(target)
		fb.setBlock(target)
		fb.lowerStmt(s.Sub)
	case ast.StmtGoto:
		fb.terminate(&Goto{Target: fb.labelBlock(s.Label)})
	case ast.StmtNull:
	default:
		fb.warnf("unsupported statement %q at line %d", s.Kind, s.Location.Line)
	}
}

func (fb *functionBuilder) lowerLocalDecl(d *ast.Decl) {
	if d.Kind != ast.DeclVar || d.Name == "" {
		return
	}
	t, warn := LowerType(d.Type)
	if warn != "" {
		fb.warnf("local %s: %s", d.Name, warn)
	}
	if d.Type != nil && d.Type.Kind == ast.TypeArray {
		fb.warnf("array storage for %s is not modelled; treated as a pointer", d.Name)
	}

	if d.Storage == ast.StorageStatic || d.Storage == ast.StorageExtern {
		fb.lowerStaticLocal(d, t)
		return
	}

	slot := fb.newLocal(d.Name, t, false)
	if d.Init != nil {
		fb.assignExpr(&Variable{Slot: slot}, d.Init)
	}
	fb.scope.Define(d.Name, Binding{Slot: slot, Type: t})
}

// lowerStaticLocal hoists a function-scope static into a project global.
func (fb *functionBuilder) lowerStaticLocal(d *ast.Decl, t Type) {
	name := d.Name
	if d.Storage == ast.StorageStatic {
		name = fb.fn.Name + "_" + d.Name
		g := &GlobalVar{Name: name, Type: t, IsStatic: true, Origin: fb.fn.Origin}
		if v, ok := constValue(d.Init); ok {
			g.Init = &Constant{Value: v}
		} else if d.Init != nil {
			fb.warnf("static %s: non-constant initializer dropped", d.Name)
		}
		if _, exists := fb.b.project.Globals[name]; !exists {
			fb.b.project.Globals[name] = g
		}
	}
	fb.scope.Define(d.Name, Binding{Slot: -1, Type: t, Global: name})
}

func (fb *functionBuilder) lowerReturn(s *ast.Stmt) {
	if s.Expr == nil {
		fb.terminate(&Return{})
		return
	}
	if fb.fn.ReturnType == nil {
		fb.lowerDiscard(s.Expr)
		fb.terminate(&Return{})
		return
	}
	fb.terminate(&Return{Value: fb.lowerExpr(s.Expr)})
}

func (fb *functionBuilder) lowerIf(s *ast.Stmt) {
	thenB := fb.newBlock()
	elseB := BlockID(-1)
	if s.Else != nil {
		elseB = fb.newBlock()
	}
	merge := fb.newBlock()

	falseTarget := merge
	if s.Else != nil {
		falseTarget = elseB
	}
	fb.condBr(s.Cond, thenB, falseTarget)

	fb.setBlock(thenB)
	fb.lowerStmt(s.Then)
	fb.branchIfNoTerm(merge)

	if s.Else != nil {
		fb.setBlock(elseB)
		fb.lowerStmt(s.Else)
		fb.branchIfNoTerm(merge)
	}
	fb.setBlock(merge)
}

func (fb *functionBuilder) lowerWhile(s *ast.Stmt) {
	cond := fb.newBlock()
	body := fb.newBlock()
	exit := fb.newBlock()

	fb.branchIfNoTerm(cond)
	fb.setBlock(cond)
	fb.condBr(s.Cond, body, exit)

	fb.pushLoop(loopFrame{breakTo: exit, continueTo: cond})
	fb.setBlock(body)
	fb.lowerStmt(s.Sub)
	fb.branchIfNoTerm(cond)
	fb.popLoop()

	fb.setBlock(exit)
}

func (fb *functionBuilder) lowerDo(s *ast.Stmt) {
	body := fb.newBlock()
	cond := fb.newBlock()
	exit := fb.newBlock()

	fb.branchIfNoTerm(body)
	fb.pushLoop(loopFrame{breakTo: exit, continueTo: cond})
	fb.setBlock(body)
	fb.lowerStmt(s.Sub)
	fb.branchIfNoTerm(cond)
	fb.popLoop()

	fb.setBlock(cond)
	fb.condBr(s.Cond, body, exit)
	fb.setBlock(exit)
}

func (fb *functionBuilder) lowerFor(s *ast.Stmt) {
	fb.pushScope()
	defer fb.popScope()

	fb.lowerStmt(s.Init)

	cond := fb.newBlock()
	body := fb.newBlock()
	step := fb.newBlock()
	exit := fb.newBlock()

	fb.branchIfNoTerm(cond)
	fb.setBlock(cond)
	if s.Cond != nil {
		fb.condBr(s.Cond, body, exit)
	} else {
		fb.terminate(&Goto{Target: body})
	}

	fb.pushLoop(loopFrame{breakTo: exit, continueTo: step})
	fb.setBlock(body)
	fb.lowerStmt(s.Sub)
	fb.branchIfNoTerm(step)
	fb.popLoop()

	fb.setBlock(step)
	if s.Step != nil {
		fb.lowerDiscard(s.Step)
	}
	fb.branchIfNoTerm(cond)
	fb.setBlock(exit)
}

// switchItem is one flattened element of a switch body.
type switchItem struct {
	label     bool
	isDefault bool
	value     *ast.Expr
	stmt      *ast.Stmt
	block     BlockID
}

func flattenSwitch(s *ast.Stmt, out []switchItem) []switchItem {
	if s == nil {
		return out
	}
	switch s.Kind {
	case ast.StmtCase:
		out = append(out, switchItem{label: true, value: s.Expr})
		return flattenSwitch(s.Sub, out)
	case ast.StmtDefault:
		out = append(out, switchItem{label: true, isDefault: true})
		return flattenSwitch(s.Sub, out)
	}
	return append(out, switchItem{stmt: s})
}

// lowerSwitch builds a chain of equality tests in case order. Case bodies are
// laid out in source order and fall through unless they break.
func (fb *functionBuilder) lowerSwitch(s *ast.Stmt) {
	scrutType := fb.exprType(s.Cond)
	tmp := fb.newTemp(scrutType)
	fb.assignExpr(&Variable{Slot: tmp}, s.Cond)

	var items []switchItem
	if s.Sub != nil && s.Sub.Kind == ast.StmtCompound {
		for _, inner := range s.Sub.Body {
			items = flattenSwitch(inner, items)
		}
	} else {
		items = flattenSwitch(s.Sub, items)
	}

	defaultBlock := BlockID(-1)
	for i := range items {
		if !items[i].label {
			continue
		}
		items[i].block = fb.newBlock()
		if items[i].isDefault {
			defaultBlock = items[i].block
		}
	}
	exit := fb.newBlock()
	if defaultBlock < 0 {
		defaultBlock = exit
	}

	for i := range items {
		it := items[i]
		if !it.label || it.isDefault {
			continue
		}
		next := fb.newBlock()
		if _, ok := constValue(it.value); !ok {
			fb.warnf("non-constant case label")
		}
		val := fb.lowerExpr(it.value)
		fb.terminate(&If{
			Cond: &BinaryOp{Op: Eq, Left: SlotUse(tmp), Right: val},
			Then: it.block,
			Else: next,
		})
		fb.setBlock(next)
	}
	fb.terminate(&Goto{Target: defaultBlock})

	fb.pushLoop(loopFrame{breakTo: exit, isSwitch: true})
	fb.pushScope()
	for _, it := range items {
		if it.label {
			fb.branchIfNoTerm(it.block)
			fb.setBlock(it.block)
			continue
		}
		fb.lowerStmt(it.stmt)
	}
	fb.popScope()
	fb.popLoop()
	fb.branchIfNoTerm(exit)
	fb.setBlock(exit)
}
