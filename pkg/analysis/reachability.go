package analysis

import "github.com/chazu/carcinize/pkg/mir"

// ReachabilityResult records which blocks the entry reaches.
type ReachabilityResult struct {
	// ReversePostorder lists reachable blocks, entry first.
	ReversePostorder []mir.BlockID
	Unreachable      []mir.BlockID
	reachable        map[mir.BlockID]bool
}

// Reachable reports whether the entry block reaches id.
func (r *ReachabilityResult) Reachable(id mir.BlockID) bool {
	return r.reachable[id]
}

// Postorder returns reachable blocks in postorder followed by unreachable
// blocks in id order: the iteration order for backward problems.
func (r *ReachabilityResult) Postorder() []mir.BlockID {
	out := make([]mir.BlockID, 0, len(r.ReversePostorder)+len(r.Unreachable))
	for i := len(r.ReversePostorder) - 1; i >= 0; i-- {
		out = append(out, r.ReversePostorder[i])
	}
	return append(out, r.Unreachable...)
}

// Reachability computes the reverse postorder of the CFG.
type Reachability struct{}

func (*Reachability) Name() string       { return "reachability" }
func (*Reachability) Requires() []string { return nil }

func (*Reachability) Run(fn *mir.Function, _ *FunctionResults) (interface{}, error) {
	return ComputeReachability(fn), nil
}

// ComputeReachability walks the CFG depth-first from the entry.
func ComputeReachability(fn *mir.Function) *ReachabilityResult {
	res := &ReachabilityResult{reachable: make(map[mir.BlockID]bool)}
	if len(fn.Blocks) == 0 {
		return res
	}

	var post []mir.BlockID
	type frame struct {
		id   mir.BlockID
		next int
	}
	stack := []frame{{id: 0}}
	res.reachable[0] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := successors(fn, fn.Blocks[top.id])
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if !res.reachable[s] {
				res.reachable[s] = true
				stack = append(stack, frame{id: s})
			}
			continue
		}
		post = append(post, top.id)
		stack = stack[:len(stack)-1]
	}

	for i := len(post) - 1; i >= 0; i-- {
		res.ReversePostorder = append(res.ReversePostorder, post[i])
	}
	for _, blk := range fn.Blocks {
		if !res.reachable[blk.ID] {
			successors(fn, blk)
			res.Unreachable = append(res.Unreachable, blk.ID)
		}
	}
	return res
}
