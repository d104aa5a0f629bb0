// Package analysis runs dataflow passes over a frozen ProjectMIR.
// Passes declare the passes they depend on and are scheduled in dependency
// order; each function gets one result bundle per run.
package analysis

import (
	"fmt"
	"strings"

	"github.com/chazu/carcinize/pkg/mir"
)

// Pass is a per-function analysis.
type Pass interface {
	Name() string
	Requires() []string
	Run(fn *mir.Function, deps *FunctionResults) (interface{}, error)
}

// FunctionResults bundles the results of every pass for one function.
type FunctionResults struct {
	Liveness     *LivenessResult
	Reachability *ReachabilityResult
	DeadStores   *DeadStoreResult
	values       map[string]interface{}
}

func newFunctionResults() *FunctionResults {
	return &FunctionResults{values: make(map[string]interface{})}
}

// Get returns the raw result of a pass by name.
func (r *FunctionResults) Get(pass string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[pass]
	return v, ok
}

func (r *FunctionResults) set(pass string, v interface{}) {
	r.values[pass] = v
	switch res := v.(type) {
	case *LivenessResult:
		r.Liveness = res
	case *ReachabilityResult:
		r.Reachability = res
	case *DeadStoreResult:
		r.DeadStores = res
	}
}

// ProjectResults maps function names to their result bundles.
type ProjectResults struct {
	Functions map[string]*FunctionResults
}

// Function returns the bundle for a function, or nil when it was not analyzed.
func (p *ProjectResults) Function(name string) *FunctionResults {
	if p == nil {
		return nil
	}
	return p.Functions[name]
}

// Manager schedules and runs passes.
type Manager struct {
	passes []Pass
}

// NewManager registers passes. Registration order breaks scheduling ties.
func NewManager(passes ...Pass) *Manager {
	return &Manager{passes: passes}
}

// DefaultManager runs liveness, reachability and dead-store detection.
func DefaultManager() *Manager {
	return NewManager(&Liveness{}, &Reachability{}, &DeadStores{})
}

// Schedule orders passes so each runs after everything it requires.
func (m *Manager) Schedule() ([]Pass, error) {
	known := make(map[string]bool, len(m.passes))
	for _, p := range m.passes {
		if known[p.Name()] {
			return nil, fmt.Errorf("pass %s registered twice", p.Name())
		}
		known[p.Name()] = true
	}
	for _, p := range m.passes {
		for _, dep := range p.Requires() {
			if !known[dep] {
				return nil, fmt.Errorf("pass %s requires unknown pass %s", p.Name(), dep)
			}
		}
	}

	done := make(map[string]bool, len(m.passes))
	order := make([]Pass, 0, len(m.passes))
	for len(order) < len(m.passes) {
		progressed := false
		for _, p := range m.passes {
			if done[p.Name()] || !depsDone(p, done) {
				continue
			}
			done[p.Name()] = true
			order = append(order, p)
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, p := range m.passes {
				if !done[p.Name()] {
					stuck = append(stuck, p.Name())
				}
			}
			return nil, fmt.Errorf("dependency cycle among passes: %s", strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

func depsDone(p Pass, done map[string]bool) bool {
	for _, dep := range p.Requires() {
		if !done[dep] {
			return false
		}
	}
	return true
}

// Run analyzes every function with a body. A malformed CFG aborts the run
// with a *mir.InvariantViolation naming the function and block.
func (m *Manager) Run(p *mir.ProjectMIR) (results *ProjectResults, err error) {
	order, err := m.Schedule()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			iv, ok := r.(*mir.InvariantViolation)
			if !ok {
				panic(r)
			}
			results, err = nil, iv
		}
	}()

	results = &ProjectResults{Functions: make(map[string]*FunctionResults)}
	for _, name := range p.FunctionNames() {
		fn := p.Functions[name]
		if len(fn.Blocks) == 0 {
			continue
		}
		if err := mir.Verify(fn); err != nil {
			return nil, err
		}
		fr := newFunctionResults()
		for _, pass := range order {
			v, err := pass.Run(fn, fr)
			if err != nil {
				return nil, fmt.Errorf("%s on %s: %w", pass.Name(), name, err)
			}
			fr.set(pass.Name(), v)
		}
		results.Functions[name] = fr
	}
	return results, nil
}

// successors returns the successors of a block, panicking on unknown targets.
func successors(fn *mir.Function, blk *mir.BasicBlock) []mir.BlockID {
	if blk.Term == nil {
		panic(&mir.InvariantViolation{Function: fn.Name, Block: blk.ID, Detail: "block has no terminator"})
	}
	succs := blk.Term.Successors()
	for _, s := range succs {
		if fn.Block(s) == nil {
			panic(&mir.InvariantViolation{Function: fn.Name, Block: blk.ID,
				Detail: fmt.Sprintf("branch to unknown block %d", s)})
		}
	}
	return succs
}
