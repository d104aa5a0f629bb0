package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/chazu/carcinize/pkg/ast"
)

// FrontendError reports a translation unit the frontend could not parse.
// It aborts the whole conversion.
type FrontendError struct {
	Unit string
	Err  error
}

func (e *FrontendError) Error() string {
	return fmt.Sprintf("frontend: %s: %v", e.Unit, e.Err)
}

func (e *FrontendError) Unwrap() error {
	return e.Err
}

// Frontend turns a translation unit into its AST.
type Frontend interface {
	Parse(ctx context.Context, unit UnitSpec) (*ast.Unit, error)
}

// DumpFrontend reads AST dumps produced ahead of time: <source>.ast.json next
// to each source, or <ASTDir>/<base>.ast.json when ASTDir is set.
type DumpFrontend struct {
	ASTDir string
}

// DumpPath returns where the dump for source is expected.
func (f DumpFrontend) DumpPath(source string) string {
	if f.ASTDir != "" {
		return filepath.Join(f.ASTDir, filepath.Base(source)+".ast.json")
	}
	return source + ".ast.json"
}

func (f DumpFrontend) Parse(ctx context.Context, unit UnitSpec) (*ast.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := ast.ParseFile(f.DumpPath(unit.Source))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CommandFrontend runs an external AST dumper once per unit as
// `<Command> <unit args...> <source>` and decodes its stdout.
type CommandFrontend struct {
	Command string
}

func (f CommandFrontend) Parse(ctx context.Context, unit UnitSpec) (*ast.Unit, error) {
	argv, err := shlex.Split(f.Command)
	if err != nil {
		return nil, fmt.Errorf("splitting frontend command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty frontend command")
	}

	args := append(append(argv[1:len(argv):len(argv)], unit.Args...), unit.Source)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = unit.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}

	u, err := ast.ParseBytes(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if u.File == "" {
		u.File = unit.Source
	}
	return u, nil
}
