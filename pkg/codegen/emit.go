package codegen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"

	"github.com/chazu/carcinize/pkg/mir"
)

// EmitError reports a file that could not be written. The run stops there;
// files written before it are left in place.
type EmitError struct {
	File string
	Err  error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.File, e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}

type cargoManifest struct {
	Package      cargoPackage      `toml:"package"`
	Dependencies map[string]string `toml:"dependencies"`
	Lib          cargoLib          `toml:"lib"`
}

type cargoPackage struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Edition     string `toml:"edition"`
	Description string `toml:"description,omitempty"`
}

type cargoLib struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// LibcVersion is the libc crate requirement of generated crates.
const LibcVersion = "0.2"

func renderManifest(name, summary string) (string, error) {
	crate := crateName(name)
	m := cargoManifest{
		Package: cargoPackage{
			Name:        crate,
			Version:     "0.1.0",
			Edition:     "2021",
			Description: summary,
		},
		Dependencies: map[string]string{"libc": LibcVersion},
		Lib: cargoLib{
			Name: libName(crate),
			Path: "src/lib.rs",
		},
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Order(toml.OrderPreserve).Indentation("").Encode(m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func libName(crate string) string {
	b := []byte(crate)
	for i, c := range b {
		if c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

func renderLib(project, summary string, modules []string, hasGlobals bool) string {
	e := &emitter{}
	e.line("//! %s, translated from C.", project)
	if summary != "" {
		e.line("//!")
		e.comment("//!", summary)
	}
	e.line("")
	for _, attr := range []string{
		"non_snake_case",
		"non_camel_case_types",
		"non_upper_case_globals",
		"dead_code",
		"unused_mut",
		"unused_unsafe",
		"unused_parens",
	} {
		e.line("#![allow(%s)]", attr)
	}
	e.line("")
	if hasGlobals {
		e.line("pub mod %s;", GlobalsModule)
	}
	for _, m := range modules {
		e.line("pub mod %s;", m)
	}
	if len(modules) > 0 {
		e.line("")
		for _, m := range modules {
			e.line("pub use %s::*;", m)
		}
	}
	return e.String()
}

func renderGlobals(project string, p *mir.ProjectMIR, names map[string]string) string {
	e := &emitter{}
	e.line("//! Global variables of the `%s` crate.", project)
	e.line("")

	for _, name := range p.GlobalNames() {
		if p.Globals[name].IsStatic {
			e.line("use std::sync::Mutex;")
			e.line("")
			break
		}
	}

	for _, name := range p.GlobalNames() {
		g := p.Globals[name]
		vis := "pub"
		if !g.IsPublic {
			vis = "pub(crate)"
		}
		if g.Origin != "" {
			e.line("/// From `%s`.", filepath.Base(g.Origin))
		}
		var init int64
		if g.Init != nil {
			init = g.Init.Value
		}
		if g.IsStatic {
			e.line("%s static %s: Mutex<%s> = Mutex::new(%s);", vis, names[name], cellType(g.Type), cellValue(init, g.Type))
			continue
		}
		val := defaultValue(g.Type)
		if g.Init != nil {
			val = constValue(init, g.Type)
		}
		e.line("%s static mut %s: %s = %s;", vis, names[name], RustType(g.Type), val)
	}
	return e.String()
}

// writeFile writes content to path in one call.
func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &EmitError{File: path, Err: err}
	}
	return nil
}
