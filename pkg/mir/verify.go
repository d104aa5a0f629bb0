package mir

import "fmt"

// InvariantViolation reports a malformed control-flow graph.
type InvariantViolation struct {
	Function string
	Block    BlockID
	Detail   string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s, block %d: %s", e.Function, e.Block, e.Detail)
}

// Verify checks the structural invariants of a function: contiguous block ids
// starting at 0, exactly one terminator per block, resolvable branch targets,
// and slots that are unique and numbered parameters first.
func Verify(fn *Function) error {
	for i, p := range fn.Params {
		if p.Slot != Slot(i) {
			return &InvariantViolation{Function: fn.Name, Block: 0,
				Detail: fmt.Sprintf("parameter %q has slot %d, want %d", p.Name, p.Slot, i)}
		}
	}
	for i, l := range fn.Locals {
		want := Slot(len(fn.Params) + i)
		if l.Slot != want {
			return &InvariantViolation{Function: fn.Name, Block: 0,
				Detail: fmt.Sprintf("local %q has slot %d, want %d", l.Name, l.Slot, want)}
		}
	}

	for i, b := range fn.Blocks {
		if b == nil {
			return &InvariantViolation{Function: fn.Name, Block: BlockID(i), Detail: "missing block"}
		}
		if b.ID != BlockID(i) {
			return &InvariantViolation{Function: fn.Name, Block: BlockID(i),
				Detail: fmt.Sprintf("block at index %d has id %d", i, b.ID)}
		}
		if b.Term == nil {
			return &InvariantViolation{Function: fn.Name, Block: b.ID, Detail: "block has no terminator"}
		}
		for _, succ := range b.Term.Successors() {
			if fn.Block(succ) == nil {
				return &InvariantViolation{Function: fn.Name, Block: b.ID,
					Detail: fmt.Sprintf("branch to unknown block %d", succ)}
			}
		}
		n := Slot(fn.NumSlots())
		var bad Slot
		found := false
		check := func(s Slot) {
			if !found && (s < 0 || s >= n) {
				bad, found = s, true
			}
		}
		for _, st := range b.Statements {
			VisitSlots(st, check)
		}
		if r, ok := b.Term.(*Return); ok && r.Value != nil {
			visitValueSlots(r.Value, check)
		}
		if t, ok := b.Term.(*If); ok {
			visitValueSlots(t.Cond, check)
		}
		if found {
			return &InvariantViolation{Function: fn.Name, Block: b.ID,
				Detail: fmt.Sprintf("reference to undeclared slot %d", bad)}
		}
	}
	return nil
}

// VerifyProject verifies every function in sorted order.
func VerifyProject(p *ProjectMIR) error {
	for _, name := range p.FunctionNames() {
		if err := Verify(p.Functions[name]); err != nil {
			return err
		}
	}
	return nil
}

// VisitSlots calls fn for every slot a statement mentions.
func VisitSlots(st Statement, fn func(Slot)) {
	switch s := st.(type) {
	case *Assign:
		visitPlaceSlots(s.Target, fn)
		visitValueSlots(s.Value, fn)
	case *Call:
		if s.Target != nil {
			visitPlaceSlots(s.Target, fn)
		}
		for _, a := range s.Args {
			visitValueSlots(a, fn)
		}
	}
}

func visitPlaceSlots(p LValue, fn func(Slot)) {
	switch pl := p.(type) {
	case *Variable:
		fn(pl.Slot)
	case *Deref:
		visitValueSlots(pl.Ptr, fn)
	}
}

func visitValueSlots(v RValue, fn func(Slot)) {
	switch val := v.(type) {
	case *Use:
		visitPlaceSlots(val.Place, fn)
	case *BinaryOp:
		visitValueSlots(val.Left, fn)
		visitValueSlots(val.Right, fn)
	case *UnaryOp:
		visitValueSlots(val.Operand, fn)
	case *AddressOf:
		visitPlaceSlots(val.Place, fn)
	}
}
