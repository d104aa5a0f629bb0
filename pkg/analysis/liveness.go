package analysis

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/chazu/carcinize/pkg/mir"
)

// SlotSet is a set of function slots.
type SlotSet struct {
	bits *bitset.BitSet
}

func newSlotSet(n int) SlotSet {
	return SlotSet{bits: bitset.New(uint(n))}
}

// Has reports membership.
func (s SlotSet) Has(slot mir.Slot) bool {
	return slot >= 0 && s.bits.Test(uint(slot))
}

// Len returns the number of slots in the set.
func (s SlotSet) Len() int {
	return int(s.bits.Count())
}

// Slots lists the members in ascending order.
func (s SlotSet) Slots() []mir.Slot {
	var out []mir.Slot
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		out = append(out, mir.Slot(i))
	}
	return out
}

// Equal compares two sets.
func (s SlotSet) Equal(o SlotSet) bool {
	return s.bits.Equal(o.bits)
}

func (s SlotSet) add(slot mir.Slot) {
	if slot >= 0 {
		s.bits.Set(uint(slot))
	}
}

func (s SlotSet) remove(slot mir.Slot) {
	if slot >= 0 {
		s.bits.Clear(uint(slot))
	}
}

func (s SlotSet) clone() SlotSet {
	return SlotSet{bits: s.bits.Clone()}
}

// LivenessResult holds live-in and live-out sets per block.
type LivenessResult struct {
	LiveIn     map[mir.BlockID]SlotSet
	LiveOut    map[mir.BlockID]SlotSet
	Iterations int // full sweeps until nothing changed
}

// Liveness is backward live-variable analysis over slots.
type Liveness struct{}

func (*Liveness) Name() string       { return "liveness" }
func (*Liveness) Requires() []string { return []string{"reachability"} }

func (*Liveness) Run(fn *mir.Function, deps *FunctionResults) (interface{}, error) {
	var order []mir.BlockID
	if deps != nil && deps.Reachability != nil {
		order = deps.Reachability.Postorder()
	}
	return ComputeLiveness(fn, order), nil
}

// blockSummary holds upward-exposed uses and definitions of one block.
type blockSummary struct {
	uses SlotSet
	defs SlotSet
}

func summarize(fn *mir.Function, blk *mir.BasicBlock) blockSummary {
	n := fn.NumSlots()
	sum := blockSummary{uses: newSlotSet(n), defs: newSlotSet(n)}
	read := func(s mir.Slot) {
		if !sum.defs.Has(s) {
			sum.uses.add(s)
		}
	}
	for _, st := range blk.Statements {
		stmtReads(st, read)
		if s, ok := stmtDef(st); ok {
			sum.defs.add(s)
		}
	}
	termReads(blk.Term, read)
	return sum
}

// stmtDef returns the slot a statement overwrites, if any.
func stmtDef(st mir.Statement) (mir.Slot, bool) {
	var target mir.LValue
	switch s := st.(type) {
	case *mir.Assign:
		target = s.Target
	case *mir.Call:
		target = s.Target
	}
	if v, ok := target.(*mir.Variable); ok {
		return v.Slot, true
	}
	return 0, false
}

// stmtReads reports every slot a statement reads. Storing through a pointer
// reads the pointer; taking an address counts as a read of the slot.
func stmtReads(st mir.Statement, read func(mir.Slot)) {
	switch s := st.(type) {
	case *mir.Assign:
		valueReads(s.Value, read)
		placeReads(s.Target, read)
	case *mir.Call:
		for _, a := range s.Args {
			valueReads(a, read)
		}
		if s.Target != nil {
			placeReads(s.Target, read)
		}
	}
}

func termReads(t mir.Terminator, read func(mir.Slot)) {
	switch term := t.(type) {
	case *mir.Return:
		if term.Value != nil {
			valueReads(term.Value, read)
		}
	case *mir.If:
		valueReads(term.Cond, read)
	}
}

func placeReads(p mir.LValue, read func(mir.Slot)) {
	if d, ok := p.(*mir.Deref); ok {
		valueReads(d.Ptr, read)
	}
}

func valueReads(v mir.RValue, read func(mir.Slot)) {
	switch val := v.(type) {
	case *mir.Use:
		if vr, ok := val.Place.(*mir.Variable); ok {
			read(vr.Slot)
			return
		}
		placeReads(val.Place, read)
	case *mir.BinaryOp:
		valueReads(val.Left, read)
		valueReads(val.Right, read)
	case *mir.UnaryOp:
		valueReads(val.Operand, read)
	case *mir.AddressOf:
		if vr, ok := val.Place.(*mir.Variable); ok {
			read(vr.Slot)
			return
		}
		placeReads(val.Place, read)
	}
}

// ComputeLiveness solves live_in(B) = (live_out(B) - defs(B)) ∪ uses(B) with
// live_out(B) the union of live_in over successors. order is the sweep order;
// nil means postorder from the entry followed by unreachable blocks.
func ComputeLiveness(fn *mir.Function, order []mir.BlockID) *LivenessResult {
	n := fn.NumSlots()
	res := &LivenessResult{
		LiveIn:  make(map[mir.BlockID]SlotSet, len(fn.Blocks)),
		LiveOut: make(map[mir.BlockID]SlotSet, len(fn.Blocks)),
	}
	if order == nil {
		order = ComputeReachability(fn).Postorder()
	}

	sums := make(map[mir.BlockID]blockSummary, len(fn.Blocks))
	succs := make(map[mir.BlockID][]mir.BlockID, len(fn.Blocks))
	for _, blk := range fn.Blocks {
		sums[blk.ID] = summarize(fn, blk)
		succs[blk.ID] = successors(fn, blk)
		res.LiveIn[blk.ID] = newSlotSet(n)
		res.LiveOut[blk.ID] = newSlotSet(n)
	}

	for changed := true; changed; {
		changed = false
		res.Iterations++
		for _, id := range order {
			out := newSlotSet(n)
			for _, s := range succs[id] {
				out.bits.InPlaceUnion(res.LiveIn[s].bits)
			}
			in := out.clone()
			in.bits.InPlaceDifference(sums[id].defs.bits)
			in.bits.InPlaceUnion(sums[id].uses.bits)

			if !out.Equal(res.LiveOut[id]) || !in.Equal(res.LiveIn[id]) {
				changed = true
			}
			res.LiveOut[id] = out
			res.LiveIn[id] = in
		}
	}
	return res
}
