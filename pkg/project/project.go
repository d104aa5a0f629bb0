package project

import (
	"context"
	"sync"

	"github.com/chazu/carcinize/pkg/ast"
	"github.com/chazu/carcinize/pkg/mir"
)

// Project is a loaded compilation database plus the frontend that parses it.
// Units are parsed once and reused by later passes.
type Project struct {
	Units    []UnitSpec
	frontend Frontend

	mu     sync.Mutex
	parsed map[string]*ast.Unit
}

// Load reads the compilation database at path (a file or a directory holding
// compile_commands.json).
func Load(path string, fe Frontend) (*Project, error) {
	units, err := ReadDatabase(path)
	if err != nil {
		return nil, err
	}
	return New(units, fe), nil
}

// New builds a project from explicit units.
func New(units []UnitSpec, fe Frontend) *Project {
	return &Project{Units: units, frontend: fe, parsed: make(map[string]*ast.Unit)}
}

// Sources returns the unit source paths in database order.
func (p *Project) Sources() []string {
	out := make([]string, len(p.Units))
	for i, u := range p.Units {
		out[i] = u.Source
	}
	return out
}

// Parse returns the AST of one unit, parsing it on first use.
func (p *Project) Parse(ctx context.Context, unit UnitSpec) (*ast.Unit, error) {
	p.mu.Lock()
	if u, ok := p.parsed[unit.Source]; ok {
		p.mu.Unlock()
		return u, nil
	}
	p.mu.Unlock()

	u, err := p.frontend.Parse(ctx, unit)
	if err != nil {
		return nil, &FrontendError{Unit: unit.Source, Err: err}
	}

	p.mu.Lock()
	p.parsed[unit.Source] = u
	p.mu.Unlock()
	return u, nil
}

// Source adapts p to the MIR builder. The first failing unit stops the visit
// with a *FrontendError.
func (p *Project) Source(ctx context.Context) mir.UnitSource {
	return unitSource{p: p, ctx: ctx}
}

type unitSource struct {
	p   *Project
	ctx context.Context
}

func (s unitSource) ProcessUnits(visit func(*ast.Unit) error) error {
	for _, unit := range s.p.Units {
		u, err := s.p.Parse(s.ctx, unit)
		if err != nil {
			return err
		}
		if err := visit(u); err != nil {
			return err
		}
	}
	return nil
}
