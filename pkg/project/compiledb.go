// Package project loads a C project from its compilation database and feeds
// its translation units to the MIR builder through a Frontend.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// DatabaseName is the conventional compilation database file name.
const DatabaseName = "compile_commands.json"

// CompileCommand is one entry of compile_commands.json.
type CompileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Output    string   `json:"output,omitempty"`
}

// UnitSpec describes how to parse one translation unit.
type UnitSpec struct {
	Source string   // absolute source path
	Dir    string   // working directory of the compile
	Args   []string // compiler flags relevant to parsing (-I, -D, -std...)
}

// ReadDatabase decodes a compilation database. path may name the file or the
// directory containing it.
func ReadDatabase(path string) ([]UnitSpec, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DatabaseName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compilation database: %w", err)
	}

	var cmds []CompileCommand
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	var specs []UnitSpec
	seen := make(map[string]bool)
	for i, cmd := range cmds {
		spec, err := cmd.unitSpec(base)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		if seen[spec.Source] {
			continue
		}
		seen[spec.Source] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c CompileCommand) unitSpec(base string) (UnitSpec, error) {
	if c.File == "" {
		return UnitSpec{}, errors.New("missing file")
	}

	dir := c.Directory
	if dir == "" {
		dir = base
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}

	source := c.File
	if !filepath.IsAbs(source) {
		source = filepath.Join(dir, source)
	}
	source = filepath.Clean(source)

	args := c.Arguments
	if len(args) == 0 && c.Command != "" {
		split, err := shlex.Split(c.Command)
		if err != nil {
			return UnitSpec{}, fmt.Errorf("splitting command: %w", err)
		}
		args = split
	}

	return UnitSpec{
		Source: source,
		Dir:    filepath.Clean(dir),
		Args:   filterCompilerArgs(args, c.File, source),
	}, nil
}

// filterCompilerArgs drops the compiler itself, output and compile-only
// flags, and input files, keeping what affects parsing.
func filterCompilerArgs(args []string, file, source string) []string {
	if len(args) == 0 {
		return nil
	}
	var out []string
	for i := 1; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-c":
		case a == "-o":
			i++
		case strings.HasPrefix(a, "-o") && len(a) > 2:
		case a == file || a == source:
		case isInputFile(a):
		default:
			out = append(out, a)
		}
	}
	return out
}

func isInputFile(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	switch filepath.Ext(arg) {
	case ".c", ".o", ".obj", ".a", ".so":
		return true
	}
	return false
}
