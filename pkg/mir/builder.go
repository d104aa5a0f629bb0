package mir

import (
	"fmt"
	"path/filepath"

	"github.com/chazu/carcinize/pkg/ast"
	"github.com/hashicorp/go-multierror"
)

// ForeignPrefix qualifies calls to functions the project never defines.
const ForeignPrefix = "libc::"

// UnitSource visits every compilation unit of a project.
// It is called once per conversion phase.
type UnitSource interface {
	ProcessUnits(visit func(unit *ast.Unit) error) error
}

// BuilderError reports a function that could not be lowered.
// Other functions are unaffected.
type BuilderError struct {
	Function string
	Reason   string
}

func (e *BuilderError) Error() string {
	return fmt.Sprintf("cannot lower %s: %s", e.Function, e.Reason)
}

// Report collects the diagnostics of a conversion.
type Report struct {
	Warnings []string
	Errors   *multierror.Error
}

// Err returns the aggregated builder errors, or nil.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

// Failed returns the names of functions that failed to lower.
func (r *Report) Failed() []string {
	if r.Errors == nil {
		return nil
	}
	var names []string
	for _, err := range r.Errors.Errors {
		if be, ok := err.(*BuilderError); ok {
			names = append(names, be.Function)
		}
	}
	return names
}

func (r *Report) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) fail(err error) {
	r.Errors = multierror.Append(r.Errors, err)
}

// Builder converts C compilation units into a ProjectMIR in two phases:
// Discover registers every top-level symbol, Lower fills in function bodies.
type Builder struct {
	project *ProjectMIR
	report  *Report
	tracked map[string]bool
	defFile map[string]string // symbol -> file holding its definition
	lowered map[string]bool
}

// NewBuilder creates a builder with an empty project.
func NewBuilder() *Builder {
	return &Builder{
		project: NewProject(),
		report:  &Report{},
		tracked: make(map[string]bool),
		defFile: make(map[string]string),
		lowered: make(map[string]bool),
	}
}

// ConvertProject runs discovery over every unit, then body lowering over every
// unit. A frontend failure aborts the conversion and no MIR is returned.
func ConvertProject(src UnitSource) (*ProjectMIR, *Report, error) {
	b := NewBuilder()
	err := src.ProcessUnits(func(unit *ast.Unit) error {
		b.Discover(unit)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	b.ResolveOrigins()

	err = src.ProcessUnits(func(unit *ast.Unit) error {
		b.Lower(unit)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	p, report := b.Finish()
	return p, report, nil
}

// Discover registers placeholders for every top-level function and global.
// Existing entries are never replaced.
func (b *Builder) Discover(unit *ast.Unit) {
	b.tracked[cleanPath(unit.File)] = true

	for _, decl := range unit.Decls {
		switch decl.Kind {
		case ast.DeclFunction:
			b.discoverFunction(unit, decl)
		case ast.DeclVar:
			b.discoverGlobal(unit, decl)
		}
	}
}

func (b *Builder) discoverFunction(unit *ast.Unit, decl *ast.Decl) {
	if decl.Name == "" {
		b.report.fail(&BuilderError{Function: "<unnamed>", Reason: "function declaration has no name"})
		return
	}
	fn, ok := b.project.Functions[decl.Name]
	if !ok {
		static := decl.Storage == ast.StorageStatic
		fn = &Function{
			Name:     decl.Name,
			IsStatic: static,
			IsPublic: !static,
			Variadic: decl.Variadic,
		}
		fn.ReturnType = b.returnType(decl)
		for i, p := range decl.Params {
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("arg%d", i)
			}
			t, _ := LowerType(p.Type)
			fn.Params = append(fn.Params, Parameter{Name: name, Type: t, Slot: Slot(i)})
		}
		b.project.Functions[decl.Name] = fn
	}
	if decl.IsDefinition() && !fn.Defined {
		fn.Defined = true
		b.defFile[decl.Name] = declFile(unit, decl)
	}
}

func (b *Builder) discoverGlobal(unit *ast.Unit, decl *ast.Decl) {
	if decl.Name == "" {
		return
	}
	g, ok := b.project.Globals[decl.Name]
	if !ok {
		t, warn := LowerType(decl.Type)
		if warn != "" {
			b.report.warnf("global %s: %s", decl.Name, warn)
		}
		static := decl.Storage == ast.StorageStatic
		g = &GlobalVar{Name: decl.Name, Type: t, IsStatic: static, IsPublic: !static}
		b.project.Globals[decl.Name] = g
	}
	if decl.Storage != ast.StorageExtern {
		if _, seen := b.defFile["@"+decl.Name]; !seen {
			b.defFile["@"+decl.Name] = declFile(unit, decl)
		}
		if decl.Init != nil && g.Init == nil {
			if v, ok := constValue(decl.Init); ok {
				g.Init = &Constant{Value: v}
			} else {
				b.report.warnf("global %s: non-constant initializer dropped", decl.Name)
			}
		}
	}
}

// ResolveOrigins assigns each definition its tracked source file. Definitions
// living in files outside the compilation database get no origin.
func (b *Builder) ResolveOrigins() {
	for name, fn := range b.project.Functions {
		if file, ok := b.defFile[name]; ok && b.tracked[file] {
			fn.Origin = file
		}
	}
	for name, g := range b.project.Globals {
		if file, ok := b.defFile["@"+name]; ok && b.tracked[file] {
			g.Origin = file
		}
	}
}

// Lower replaces the placeholder bodies of every function defined in unit.
func (b *Builder) Lower(unit *ast.Unit) {
	for _, decl := range unit.Decls {
		if !decl.IsDefinition() || decl.Name == "" {
			continue
		}
		fn, ok := b.project.Functions[decl.Name]
		if !ok {
			continue
		}
		if b.lowered[decl.Name] {
			b.report.warnf("duplicate definition of %s in %s ignored", decl.Name, unit.File)
			continue
		}
		b.lowered[decl.Name] = true

		if err := b.lowerFunction(fn, decl); err != nil {
			fn.Blocks = nil
			fn.Locals = nil
			b.report.fail(err)
		}
	}
}

// Finish moves never-defined functions into Externs and returns the result.
func (b *Builder) Finish() (*ProjectMIR, *Report) {
	for name, fn := range b.project.Functions {
		if !fn.Defined {
			b.project.Externs[name] = fn
			delete(b.project.Functions, name)
		}
	}
	return b.project, b.report
}

func (b *Builder) returnType(decl *ast.Decl) *Type {
	t, warn := LowerType(decl.Type)
	if warn != "" {
		b.report.warnf("function %s return: %s", decl.Name, warn)
	}
	if t.Kind == KindVoid {
		return nil
	}
	return &t
}

func (b *Builder) lowerFunction(fn *Function, decl *ast.Decl) error {
	if decl.Type == nil {
		return &BuilderError{Function: decl.Name, Reason: "return type cannot be resolved"}
	}
	params := make([]Parameter, 0, len(decl.Params))
	for i, p := range decl.Params {
		if p.Name == "" {
			return &BuilderError{Function: decl.Name, Reason: fmt.Sprintf("parameter %d has no name", i)}
		}
		if p.Type == nil {
			return &BuilderError{Function: decl.Name, Reason: fmt.Sprintf("parameter %s has no type", p.Name)}
		}
		t, warn := LowerType(p.Type)
		if warn != "" {
			b.report.warnf("%s parameter %s: %s", decl.Name, p.Name, warn)
		}
		params = append(params, Parameter{Name: p.Name, Type: t, Slot: Slot(i)})
	}
	fn.Params = params
	fn.ReturnType = b.returnType(decl)

	fb := newFunctionBuilder(b, fn)
	return fb.build(decl.Body)
}

func declFile(unit *ast.Unit, decl *ast.Decl) string {
	if decl.Location.File != "" {
		return cleanPath(decl.Location.File)
	}
	return cleanPath(unit.File)
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// constValue folds integer constant expressions.
func constValue(e *ast.Expr) (int64, bool) {
	if e == nil {
		return 0, false
	}
	switch e.Kind {
	case ast.ExprInt, ast.ExprChar:
		return e.Value, true
	case ast.ExprParen, ast.ExprCast:
		return constValue(e.Operand)
	case ast.ExprUnary:
		v, ok := constValue(e.Operand)
		if !ok {
			return 0, false
		}
		switch e.Op {
		case "-":
			return -v, true
		case "+":
			return v, true
		case "~":
			return ^v, true
		case "!":
			if v == 0 {
				return 1, true
			}
			return 0, true
		}
	case ast.ExprBinary:
		l, lok := constValue(e.LHS)
		r, rok := constValue(e.RHS)
		if !lok || !rok {
			return 0, false
		}
		switch e.Op {
		case "+":
			return l + r, true
		case "-":
			return l - r, true
		case "*":
			return l * r, true
		case "<<":
			return l << uint(r), true
		case "|":
			return l | r, true
		case "&":
			return l & r, true
		}
	}
	return 0, false
}
