package analysis

import (
	"fmt"

	"github.com/chazu/carcinize/pkg/mir"
)

// DeadStore is an assignment whose value is never read.
type DeadStore struct {
	Block mir.BlockID
	Index int // statement index within the block
	Slot  mir.Slot
}

// DeadStoreResult lists dead assignments in block and statement order.
type DeadStoreResult struct {
	Stores []DeadStore
}

// DeadStores finds assignments to slots that are dead right after the store.
// Calls are never reported since they may have side effects.
type DeadStores struct{}

func (*DeadStores) Name() string       { return "dead-stores" }
func (*DeadStores) Requires() []string { return []string{"liveness"} }

func (*DeadStores) Run(fn *mir.Function, deps *FunctionResults) (interface{}, error) {
	if deps == nil || deps.Liveness == nil {
		return nil, fmt.Errorf("liveness result missing")
	}
	return FindDeadStores(fn, deps.Liveness), nil
}

// FindDeadStores walks each block backwards from its live-out set. Slots
// whose address is taken anywhere are never reported.
func FindDeadStores(fn *mir.Function, live *LivenessResult) *DeadStoreResult {
	res := &DeadStoreResult{}
	escaped := addressTaken(fn)
	for _, blk := range fn.Blocks {
		cur := live.LiveOut[blk.ID].clone()
		termReads(blk.Term, cur.add)

		var found []DeadStore
		for i := len(blk.Statements) - 1; i >= 0; i-- {
			st := blk.Statements[i]
			if slot, ok := stmtDef(st); ok {
				if _, isAssign := st.(*mir.Assign); isAssign && !cur.Has(slot) && !escaped.Has(slot) {
					found = append(found, DeadStore{Block: blk.ID, Index: i, Slot: slot})
				}
				cur.remove(slot)
			}
			stmtReads(st, cur.add)
		}
		for i := len(found) - 1; i >= 0; i-- {
			res.Stores = append(res.Stores, found[i])
		}
	}
	return res
}

func addressTaken(fn *mir.Function) SlotSet {
	set := newSlotSet(fn.NumSlots())
	var visit func(v mir.RValue)
	visitPlace := func(p mir.LValue) {
		if d, ok := p.(*mir.Deref); ok {
			visit(d.Ptr)
		}
	}
	visit = func(v mir.RValue) {
		switch val := v.(type) {
		case *mir.AddressOf:
			if vr, ok := val.Place.(*mir.Variable); ok {
				set.add(vr.Slot)
			}
			visitPlace(val.Place)
		case *mir.Use:
			visitPlace(val.Place)
		case *mir.BinaryOp:
			visit(val.Left)
			visit(val.Right)
		case *mir.UnaryOp:
			visit(val.Operand)
		}
	}
	for _, blk := range fn.Blocks {
		for _, st := range blk.Statements {
			switch s := st.(type) {
			case *mir.Assign:
				visitPlace(s.Target)
				visit(s.Value)
			case *mir.Call:
				if s.Target != nil {
					visitPlace(s.Target)
				}
				for _, a := range s.Args {
					visit(a)
				}
			}
		}
		switch t := blk.Term.(type) {
		case *mir.Return:
			if t.Value != nil {
				visit(t.Value)
			}
		case *mir.If:
			visit(t.Cond)
		}
	}
	return set
}
