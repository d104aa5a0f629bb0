// Package codegen synthesizes a Rust Cargo crate from project MIR and its
// analysis results.
package codegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/carcinize/pkg/analysis"
	"github.com/chazu/carcinize/pkg/annotate"
	"github.com/chazu/carcinize/pkg/mir"
)

// Options configures one synthesis run.
type Options struct {
	OutputDir         string
	ProjectName       string
	ProjectSummary    string
	Concurrency       int           // module rendering tasks in flight, default 4
	AnnotationTimeout time.Duration // per annotation request, default 5s
}

// Result contains what a run produced and any warnings.
type Result struct {
	RunID         string
	Files         []string
	Modules       map[string][]string
	Warnings      []string
	UnsafeRegions int
	Fallbacks     int // annotation answers replaced by fallback text
}

// State is a step of the synthesis run.
type State int

const (
	StateInit State = iota
	StateStructureCreated
	StateManifestWritten
	StateModulesPartitioned
	StateModulesRendered
	StateEntryWritten
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:               "Init",
	StateStructureCreated:   "StructureCreated",
	StateManifestWritten:    "ManifestWritten",
	StateModulesPartitioned: "ModulesPartitioned",
	StateModulesRendered:    "ModulesRendered",
	StateEntryWritten:       "EntryWritten",
	StateDone:               "Done",
	StateFailed:             "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// prerequisite is the only state each state may be entered from.
var prerequisite = map[State]State{
	StateStructureCreated:   StateInit,
	StateManifestWritten:    StateStructureCreated,
	StateModulesPartitioned: StateManifestWritten,
	StateModulesRendered:    StateModulesPartitioned,
	StateEntryWritten:       StateModulesRendered,
	StateDone:               StateEntryWritten,
}

// Generator runs synthesis once.
type Generator struct {
	opts Options
	svc  annotate.Service

	mu         sync.Mutex
	state      State
	failedFile string
}

// New creates a generator. A nil service behaves like annotate.Disabled.
func New(opts Options, svc annotate.Service) *Generator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.AnnotationTimeout <= 0 {
		opts.AnnotationTimeout = 5 * time.Second
	}
	if opts.ProjectName == "" {
		opts.ProjectName = filepath.Base(filepath.Clean(opts.OutputDir))
	}
	if svc == nil {
		svc = annotate.Disabled{}
	}
	return &Generator{opts: opts, svc: svc}
}

// State returns the current state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// FailedFile returns the file that moved the run to Failed, if any.
func (g *Generator) FailedFile() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failedFile
}

func (g *Generator) advance(to State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if from, ok := prerequisite[to]; !ok || g.state != from {
		return fmt.Errorf("codegen: cannot enter %s from %s", to, g.state)
	}
	g.state = to
	return nil
}

func (g *Generator) fail(err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateFailed
	if ee, ok := err.(*EmitError); ok {
		g.failedFile = ee.File
	}
	return err
}

// Run writes the crate for p under the output directory. results may be nil.
// A Generator runs once; later calls fail.
func (g *Generator) Run(ctx context.Context, p *mir.ProjectMIR, results *analysis.ProjectResults) (*Result, error) {
	if results == nil {
		results = &analysis.ProjectResults{}
	}
	res := &Result{RunID: uuid.NewString()}

	if err := g.advance(StateStructureCreated); err != nil {
		return nil, err
	}
	srcDir := filepath.Join(g.opts.OutputDir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return nil, g.fail(&EmitError{File: srcDir, Err: err})
	}

	manifest, err := renderManifest(g.opts.ProjectName, g.opts.ProjectSummary)
	if err != nil {
		return nil, g.fail(err)
	}
	manifestPath := filepath.Join(g.opts.OutputDir, "Cargo.toml")
	if err := writeFile(manifestPath, manifest); err != nil {
		return nil, g.fail(err)
	}
	res.Files = append(res.Files, manifestPath)
	if err := g.advance(StateManifestWritten); err != nil {
		return nil, err
	}

	modules, files := Partition(p)
	snap := &snapshot{
		opts:     g.opts,
		svc:      g.svc,
		project:  p,
		results:  results,
		globals:  globalNames(p),
		fnModule: make(map[string]string),
	}
	for m, fns := range modules {
		for _, fn := range fns {
			snap.fnModule[fn] = m
		}
	}
	names := moduleNames(modules)
	res.Modules = make(map[string][]string, len(modules)+1)
	for m, fns := range modules {
		res.Modules[m] = fns
	}
	hasGlobals := len(p.Globals) > 0
	if hasGlobals {
		res.Modules[GlobalsModule] = p.GlobalNames()
	}
	if err := g.advance(StateModulesPartitioned); err != nil {
		return nil, err
	}

	written, err := g.renderModules(ctx, snap, names, modules, files, hasGlobals, res)
	res.Files = append(res.Files, written...)
	if err != nil {
		return nil, g.fail(err)
	}
	if err := g.advance(StateModulesRendered); err != nil {
		return nil, err
	}

	libPath := filepath.Join(srcDir, "lib.rs")
	if err := writeFile(libPath, renderLib(g.opts.ProjectName, g.opts.ProjectSummary, names, hasGlobals)); err != nil {
		return nil, g.fail(err)
	}
	res.Files = append(res.Files, libPath)
	if err := g.advance(StateEntryWritten); err != nil {
		return nil, err
	}

	if err := g.advance(StateDone); err != nil {
		return nil, err
	}
	return res, nil
}

// renderModules renders and writes every module file, one task per module.
// Tasks only read snap and write their own file.
func (g *Generator) renderModules(ctx context.Context, snap *snapshot, names []string, modules map[string][]string, files map[string]string, hasGlobals bool, res *Result) ([]string, error) {
	srcDir := filepath.Join(g.opts.OutputDir, "src")
	stats := make([]*moduleStats, len(names))
	paths := make([]string, len(names))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)
	if hasGlobals {
		eg.Go(func() error {
			return writeFile(filepath.Join(srcDir, GlobalsModule+".rs"), renderGlobals(g.opts.ProjectName, snap.project, snap.globals))
		})
	}
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			code, st := snap.renderModule(ectx, name, files[name], modules[name])
			stats[i] = st
			path := filepath.Join(srcDir, name+".rs")
			if err := writeFile(path, code); err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	err := eg.Wait()

	var written []string
	if hasGlobals {
		written = append(written, filepath.Join(srcDir, GlobalsModule+".rs"))
	}
	for i := range names {
		if paths[i] != "" {
			written = append(written, paths[i])
		}
		if st := stats[i]; st != nil {
			res.UnsafeRegions += st.unsafeRegions
			res.Fallbacks += st.fallbacks
			res.Warnings = append(res.Warnings, st.warnings...)
		}
	}
	sort.Strings(res.Warnings)
	return written, err
}
