// Package annotate provides the semantic annotation service consulted while
// translating: call semantics for foreign functions, module narratives and
// safety justifications for unsafe regions.
//
// Backends: Rules answers from a fixed table, Plugin forwards to a c-shared
// library, Cache persists answers of another backend in SQLite, and Disabled
// always fails so callers use their deterministic fallbacks.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/carcinize/pkg/mir"
)

// ErrDisabled is returned by the Disabled backend.
var ErrDisabled = errors.New("annotation service disabled")

// CallQuery asks for the semantics of a foreign function.
type CallQuery struct {
	Callee string `json:"callee"`
	Header string `json:"header,omitempty"`
}

// ModuleQuery asks for the doc comment of a generated module.
type ModuleQuery struct {
	Module  string `json:"module"`
	File    string `json:"file"`
	Project string `json:"project"`
	Summary string `json:"summary,omitempty"`
}

// UnsafeQuery asks for the justification of one unsafe statement.
type UnsafeQuery struct {
	Project  string `json:"project"`
	File     string `json:"file"`
	Function string `json:"function"`
	Source   string `json:"source"` // MIR text of the statement
	Target   string `json:"target"` // rendered Rust statement
	Reason   string `json:"reason"` // classification reason code
}

// Service answers annotation queries. Every method may fail; callers must
// treat failures as recoverable.
type Service interface {
	InferCallSemantics(ctx context.Context, q CallQuery) ([]mir.Tag, error)
	ModuleNarrative(ctx context.Context, q ModuleQuery) (string, error)
	UnsafeJustification(ctx context.Context, q UnsafeQuery) (string, error)
}

// Disabled is a Service that answers nothing.
type Disabled struct{}

func (Disabled) InferCallSemantics(context.Context, CallQuery) ([]mir.Tag, error) {
	return nil, ErrDisabled
}

func (Disabled) ModuleNarrative(context.Context, ModuleQuery) (string, error) {
	return "", ErrDisabled
}

func (Disabled) UnsafeJustification(context.Context, UnsafeQuery) (string, error) {
	return "", ErrDisabled
}

// TagStrings renders tags in bracketed form.
func TagStrings(tags []mir.Tag) []string {
	return mir.TagSet(tags).Strings()
}

// ParseTags reads bracketed tags; unrecognised entries become Unknown.
func ParseTags(raw []string) []mir.Tag {
	tags := make([]mir.Tag, 0, len(raw))
	for _, s := range raw {
		tags = append(tags, mir.ParseTag(s))
	}
	return tags
}

// EnrichExterns attaches call semantics to every extern function and to each
// call statement targeting it. It must run before the MIR is handed to
// analysis. Failed queries are reported as warnings and leave no tags.
func EnrichExterns(ctx context.Context, svc Service, p *mir.ProjectMIR, timeout time.Duration) []string {
	var warnings []string
	tagged := make(map[string]mir.TagSet)
	for _, name := range p.ExternNames() {
		qctx, cancel := withTimeout(ctx, timeout)
		tags, err := svc.InferCallSemantics(qctx, CallQuery{Callee: name})
		cancel()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("semantics of %s unavailable: %v", name, err))
			continue
		}
		ext := p.Externs[name]
		ext.Annotations = ext.Annotations.With(tags...)
		if len(ext.Annotations) > 0 {
			tagged[mir.ForeignPrefix+name] = ext.Annotations
		}
	}

	for _, fname := range p.FunctionNames() {
		for _, blk := range p.Functions[fname].Blocks {
			for i, st := range blk.Statements {
				c, ok := st.(*mir.Call)
				if !ok {
					continue
				}
				if tags, ok := tagged[c.Callee]; ok {
					blk.Statements[i] = mir.Annotate(c, tags...)
				}
			}
		}
	}
	return warnings
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
