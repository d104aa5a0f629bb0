// Package translate wires the pipeline together: load the compilation
// database, lower every unit to MIR, attach call semantics, analyze, and
// synthesize the Rust crate.
package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/chazu/carcinize/pkg/analysis"
	"github.com/chazu/carcinize/pkg/annotate"
	"github.com/chazu/carcinize/pkg/codegen"
	"github.com/chazu/carcinize/pkg/config"
	"github.com/chazu/carcinize/pkg/logging"
	"github.com/chazu/carcinize/pkg/mir"
	"github.com/chazu/carcinize/pkg/project"
)

// Summary is everything a translation produced.
type Summary struct {
	Project  *mir.ProjectMIR
	Report   *mir.Report
	Analysis *analysis.ProjectResults
	Result   *codegen.Result
	Warnings []string // annotation warnings
}

// Translator runs the pipeline for one project directory.
type Translator struct {
	cfg *config.Config
	dir string
	log *logging.Logger
}

// New creates a translator. A nil logger is silent.
func New(cfg *config.Config, dir string, log *logging.Logger) *Translator {
	if log == nil {
		log = logging.NewLogger(logging.LogLevelSilent)
	}
	return &Translator{cfg: cfg, dir: dir, log: log}
}

// ProjectName is the configured crate name, or the directory name.
func (t *Translator) ProjectName() string {
	if t.cfg.Project.Name != "" {
		return t.cfg.Project.Name
	}
	abs, err := filepath.Abs(t.dir)
	if err != nil {
		return filepath.Base(t.dir)
	}
	return filepath.Base(abs)
}

func (t *Translator) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.dir, path)
}

// Frontend builds the configured frontend.
func (t *Translator) Frontend() project.Frontend {
	if t.cfg.Frontend.Command != "" {
		return project.CommandFrontend{Command: t.cfg.Frontend.Command}
	}
	return project.DumpFrontend{ASTDir: t.resolve(t.cfg.Frontend.ASTDir)}
}

// Service opens the configured annotation backend. The returned closer
// releases the cache database, if any.
func (t *Translator) Service() (annotate.Service, io.Closer, error) {
	var svc annotate.Service
	switch t.cfg.Annotation.Backend {
	case config.BackendNone:
		svc = annotate.Disabled{}
	case config.BackendPlugin:
		p, err := annotate.LoadPlugin(t.resolve(t.cfg.Annotation.Plugin))
		if err != nil {
			return nil, nil, err
		}
		svc = p
	default:
		svc = annotate.Rules{}
	}

	if t.cfg.Annotation.Cache == "" {
		return svc, nopCloser{}, nil
	}
	cache, err := annotate.OpenCache(t.resolve(t.cfg.Annotation.Cache), svc)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildMIR loads the project and lowers it. Builder errors are logged and
// kept in the report; only frontend failures are returned.
func (t *Translator) BuildMIR(ctx context.Context) (*mir.ProjectMIR, *mir.Report, error) {
	t.log.BeginPhase("Loading")
	proj, err := project.Load(t.resolve(t.cfg.Project.Database), t.Frontend())
	if err != nil {
		t.log.Error("Load", err)
		return nil, nil, err
	}
	t.log.EndPhase(true)

	t.log.BeginPhase("Lowering")
	p, report, err := mir.ConvertProject(proj.Source(ctx))
	if err != nil {
		t.log.Error("Frontend", err)
		return nil, nil, err
	}
	for _, w := range report.Warnings {
		t.log.Warn("Lowering", w)
	}
	t.log.EndPhase(report.Err() == nil)
	if report.Errors != nil {
		for _, e := range report.Errors.Errors {
			t.log.Error("Builder", e)
		}
	}
	return p, report, nil
}

// Run performs the full translation into the configured output directory.
func (t *Translator) Run(ctx context.Context) (*Summary, error) {
	if err := t.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p, report, err := t.BuildMIR(ctx)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Project: p, Report: report}

	svc, closer, err := t.Service()
	if err != nil {
		t.log.Error("Annotation", err)
		return nil, err
	}
	defer closer.Close()

	t.log.BeginPhase("Annotating")
	sum.Warnings = annotate.EnrichExterns(ctx, svc, p, t.cfg.Timeout())
	for _, w := range sum.Warnings {
		t.log.Warn("Annotation", w)
	}
	t.log.EndPhase(true)

	t.log.BeginPhase("Analyzing")
	results, err := analysis.DefaultManager().Run(p)
	if err != nil {
		t.log.Error("Analysis", err)
		return nil, err
	}
	sum.Analysis = results
	t.log.EndPhase(true)

	t.log.BeginPhase("Synthesizing")
	gen := codegen.New(codegen.Options{
		OutputDir:         t.resolve(t.cfg.Project.Output),
		ProjectName:       t.ProjectName(),
		ProjectSummary:    t.cfg.Project.Summary,
		Concurrency:       t.cfg.Codegen.Concurrency,
		AnnotationTimeout: t.cfg.Timeout(),
	}, svc)
	res, err := gen.Run(ctx, p, results)
	if err != nil {
		var ee *codegen.EmitError
		if errors.As(err, &ee) {
			t.log.Error("Emit", err)
		} else {
			t.log.Error("Synthesis", err)
		}
		return nil, err
	}
	sum.Result = res
	for _, w := range res.Warnings {
		t.log.Warn("Synthesis", w)
	}
	t.log.EndPhase(true)

	if cache, ok := svc.(*annotate.Cache); ok {
		st := cache.Stats()
		t.log.Info("Cache", fmt.Sprintf("%d hit(s), %d miss(es) in %s", st.Hits, st.Misses, cache.Path()))
	}
	return sum, nil
}

// Err combines the builder errors of a finished run, or nil.
func (s *Summary) Err() error {
	if s == nil || s.Report == nil {
		return nil
	}
	return s.Report.Err()
}
