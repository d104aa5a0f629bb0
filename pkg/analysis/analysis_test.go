package analysis

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/carcinize/pkg/mir"
)

func assign(slot mir.Slot, v mir.RValue) mir.Statement {
	return &mir.Assign{Target: &mir.Variable{Slot: slot}, Value: v}
}

func add(a, b mir.RValue) mir.RValue {
	return &mir.BinaryOp{Op: mir.Add, Left: a, Right: b}
}

func konst(v int64) mir.RValue { return &mir.Constant{Value: v} }

// diamond: x is redefined on one arm only.
func diamond() *mir.Function {
	return &mir.Function{
		Name:   "diamond",
		Params: []mir.Parameter{{Name: "a", Type: mir.IntType(), Slot: 0}},
		Locals: []mir.Local{{Name: "x", Type: mir.IntType(), Slot: 1}},
		Blocks: []*mir.BasicBlock{
			{ID: 0, Statements: []mir.Statement{assign(1, konst(1))}, Term: &mir.If{Cond: mir.SlotUse(0), Then: 1, Else: 2}},
			{ID: 1, Statements: []mir.Statement{assign(1, add(mir.SlotUse(1), konst(1)))}, Term: &mir.Goto{Target: 3}},
			{ID: 2, Term: &mir.Goto{Target: 3}},
			{ID: 3, Term: &mir.Return{Value: mir.SlotUse(1)}},
		},
	}
}

// loop: for (i = 0; i < n; i++); return i
func loop() *mir.Function {
	return &mir.Function{
		Name:   "loop",
		Params: []mir.Parameter{{Name: "n", Type: mir.IntType(), Slot: 0}},
		Locals: []mir.Local{{Name: "i", Type: mir.IntType(), Slot: 1}},
		Blocks: []*mir.BasicBlock{
			{ID: 0, Statements: []mir.Statement{assign(1, konst(0))}, Term: &mir.Goto{Target: 1}},
			{ID: 1, Term: &mir.If{Cond: &mir.BinaryOp{Op: mir.Lt, Left: mir.SlotUse(1), Right: mir.SlotUse(0)}, Then: 2, Else: 3}},
			{ID: 2, Statements: []mir.Statement{assign(1, add(mir.SlotUse(1), konst(1)))}, Term: &mir.Goto{Target: 1}},
			{ID: 3, Term: &mir.Return{Value: mir.SlotUse(1)}},
		},
	}
}

// escape: the address of x reaches a foreign call, plus an unreachable block.
func escape() *mir.Function {
	return &mir.Function{
		Name:   "escape",
		Locals: []mir.Local{{Name: "x", Type: mir.IntType(), Slot: 0}},
		Blocks: []*mir.BasicBlock{
			{ID: 0, Statements: []mir.Statement{
				assign(0, konst(7)),
				&mir.Call{Callee: "libc::use_ptr", Args: []mir.RValue{&mir.AddressOf{Place: &mir.Variable{Slot: 0}}}},
				assign(0, konst(9)),
			}, Term: &mir.Return{}},
			{ID: 1, Term: &mir.Goto{Target: 0}},
		},
	}
}

func slots(ids ...mir.Slot) []mir.Slot {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func TestLiveness(t *testing.T) {
	tests := []struct {
		name    string
		fn      *mir.Function
		liveIn  map[mir.BlockID][]mir.Slot
		liveOut map[mir.BlockID][]mir.Slot
	}{
		{
			name: "diamond",
			fn:   diamond(),
			liveIn: map[mir.BlockID][]mir.Slot{
				0: slots(0), 1: slots(1), 2: slots(1), 3: slots(1),
			},
			liveOut: map[mir.BlockID][]mir.Slot{
				0: slots(1), 1: slots(1), 2: slots(1), 3: slots(),
			},
		},
		{
			name: "loop",
			fn:   loop(),
			liveIn: map[mir.BlockID][]mir.Slot{
				0: slots(0), 1: slots(0, 1), 2: slots(0, 1), 3: slots(1),
			},
			liveOut: map[mir.BlockID][]mir.Slot{
				0: slots(0, 1), 1: slots(0, 1), 2: slots(0, 1), 3: slots(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ComputeLiveness(tt.fn, nil)
			for id, want := range tt.liveIn {
				if got := res.LiveIn[id].Slots(); !reflect.DeepEqual(got, want) {
					t.Errorf("live_in(bb%d) = %v, want %v", id, got, want)
				}
			}
			for id, want := range tt.liveOut {
				if got := res.LiveOut[id].Slots(); !reflect.DeepEqual(got, want) {
					t.Errorf("live_out(bb%d) = %v, want %v", id, got, want)
				}
			}
		})
	}
}

func TestLivenessFixedPoint(t *testing.T) {
	for _, fn := range []*mir.Function{diamond(), loop(), escape()} {
		t.Run(fn.Name, func(t *testing.T) {
			res := ComputeLiveness(fn, nil)
			n := fn.NumSlots()
			for _, blk := range fn.Blocks {
				out := newSlotSet(n)
				for _, s := range blk.Term.Successors() {
					out.bits.InPlaceUnion(res.LiveIn[s].bits)
				}
				if !out.Equal(res.LiveOut[blk.ID]) {
					t.Errorf("bb%d: live_out is not the union of successor live_in", blk.ID)
				}
				sum := summarize(fn, blk)
				in := out.clone()
				in.bits.InPlaceDifference(sum.defs.bits)
				in.bits.InPlaceUnion(sum.uses.bits)
				if !in.Equal(res.LiveIn[blk.ID]) {
					t.Errorf("bb%d: live_in does not satisfy the transfer equation", blk.ID)
				}
			}

			again := ComputeLiveness(fn, nil)
			for _, blk := range fn.Blocks {
				if !again.LiveIn[blk.ID].Equal(res.LiveIn[blk.ID]) || !again.LiveOut[blk.ID].Equal(res.LiveOut[blk.ID]) {
					t.Errorf("bb%d: second run differs", blk.ID)
				}
			}
		})
	}
}

func TestLivenessAddressOfIsUse(t *testing.T) {
	res := ComputeLiveness(escape(), nil)
	// x is assigned before its address is taken, so it is not live on entry
	if res.LiveIn[0].Has(0) {
		t.Error("x should not be live into the entry block")
	}
	sum := summarize(escape(), escape().Blocks[0])
	if !sum.defs.Has(0) {
		t.Error("x should be defined by the entry block")
	}
}

func TestReachability(t *testing.T) {
	res := ComputeReachability(escape())
	if !res.Reachable(0) || res.Reachable(1) {
		t.Errorf("reachable = {0:%v 1:%v}, want {0:true 1:false}", res.Reachable(0), res.Reachable(1))
	}
	if !reflect.DeepEqual(res.Unreachable, []mir.BlockID{1}) {
		t.Errorf("Unreachable = %v, want [1]", res.Unreachable)
	}

	rpo := ComputeReachability(loop()).ReversePostorder
	if len(rpo) != 4 || rpo[0] != 0 {
		t.Errorf("ReversePostorder = %v, want entry first and all four blocks", rpo)
	}
}

func TestDeadStores(t *testing.T) {
	fn := &mir.Function{
		Name:   "overwrite",
		Locals: []mir.Local{{Name: "x", Type: mir.IntType(), Slot: 0}},
		Blocks: []*mir.BasicBlock{
			{ID: 0, Statements: []mir.Statement{assign(0, konst(1)), assign(0, konst(2))},
				Term: &mir.Return{Value: mir.SlotUse(0)}},
		},
	}
	got := FindDeadStores(fn, ComputeLiveness(fn, nil)).Stores
	want := []DeadStore{{Block: 0, Index: 0, Slot: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dead stores = %+v, want %+v", got, want)
	}

	if stores := FindDeadStores(escape(), ComputeLiveness(escape(), nil)).Stores; len(stores) != 0 {
		t.Errorf("address-taken slot reported as dead: %+v", stores)
	}
	if stores := FindDeadStores(loop(), ComputeLiveness(loop(), nil)).Stores; len(stores) != 0 {
		t.Errorf("loop has no dead stores, got %+v", stores)
	}
}

type fakePass struct {
	name string
	deps []string
}

func (p *fakePass) Name() string       { return p.name }
func (p *fakePass) Requires() []string { return p.deps }
func (p *fakePass) Run(*mir.Function, *FunctionResults) (interface{}, error) {
	return p.name, nil
}

func TestSchedule(t *testing.T) {
	order, err := DefaultManager().Schedule()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range order {
		names = append(names, p.Name())
	}
	want := []string{"reachability", "liveness", "dead-stores"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("order = %v, want %v", names, want)
	}

	tests := []struct {
		name    string
		passes  []Pass
		wantErr string
	}{
		{"unknown", []Pass{&fakePass{name: "a", deps: []string{"missing"}}}, "unknown pass missing"},
		{"cycle", []Pass{&fakePass{name: "a", deps: []string{"b"}}, &fakePass{name: "b", deps: []string{"a"}}}, "cycle"},
		{"duplicate", []Pass{&fakePass{name: "a"}, &fakePass{name: "a"}}, "registered twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.passes...).Schedule()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Schedule() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestManagerRun(t *testing.T) {
	p := mir.NewProject()
	for _, fn := range []*mir.Function{diamond(), loop(), escape()} {
		p.Functions[fn.Name] = fn
	}
	p.Functions["decl_only"] = &mir.Function{Name: "decl_only"}

	res, err := DefaultManager().Run(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"diamond", "loop", "escape"} {
		fr := res.Function(name)
		if fr == nil || fr.Liveness == nil || fr.Reachability == nil || fr.DeadStores == nil {
			t.Errorf("%s: incomplete results %+v", name, fr)
			continue
		}
		if v, ok := fr.Get("liveness"); !ok || v != fr.Liveness {
			t.Errorf("%s: Get(liveness) does not match the typed field", name)
		}
	}
	if res.Function("decl_only") != nil {
		t.Error("functions without blocks should not be analyzed")
	}
}

func TestManagerInvariantViolation(t *testing.T) {
	p := mir.NewProject()
	p.Functions["broken"] = &mir.Function{Name: "broken", Blocks: []*mir.BasicBlock{
		{ID: 0, Term: &mir.Goto{Target: 3}},
	}}
	_, err := DefaultManager().Run(p)
	var iv *mir.InvariantViolation
	if !errors.As(err, &iv) {
		t.Fatalf("Run() error = %v, want InvariantViolation", err)
	}
	if iv.Function != "broken" || iv.Block != 0 {
		t.Errorf("violation at %s/bb%d, want broken/bb0", iv.Function, iv.Block)
	}
}

func TestLivenessPanicsOnUnknownBlock(t *testing.T) {
	fn := &mir.Function{Name: "broken", Blocks: []*mir.BasicBlock{
		{ID: 0, Term: &mir.If{Cond: konst(1), Then: 0, Else: 9}},
	}}
	defer func() {
		iv, ok := recover().(*mir.InvariantViolation)
		if !ok || iv.Function != "broken" {
			t.Errorf("recover() = %v, want InvariantViolation for broken", iv)
		}
	}()
	ComputeLiveness(fn, nil)
}
