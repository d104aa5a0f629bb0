package ast

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `{
  "file": "src/a.c",
  "decls": [
    {"kind": "function", "name": "f", "type": {"kind": "int"},
     "params": [{"name": "p", "type": {"kind": "pointer", "elem": {"kind": "char", "unsigned": true}}}],
     "body": {"kind": "compound", "body": [{"kind": "return", "expr": {"kind": "int", "value": 7}}]},
     "location": {"line": 1, "col": 1}},
    {"kind": "function", "name": "g", "variadic": true, "location": {"file": "inc/g.h", "line": 3, "col": 1}}
  ]
}`

func TestParseBytes(t *testing.T) {
	unit, err := ParseBytes([]byte(sample))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if unit.File != "src/a.c" || len(unit.Decls) != 2 {
		t.Fatalf("unit = %+v", unit)
	}

	f, g := unit.Decls[0], unit.Decls[1]
	if !f.IsDefinition() || g.IsDefinition() {
		t.Errorf("IsDefinition: f=%v g=%v", f.IsDefinition(), g.IsDefinition())
	}
	if elem := f.Params[0].Type.Elem; elem == nil || elem.Kind != TypeChar || !elem.Unsigned {
		t.Errorf("param type = %+v", f.Params[0].Type)
	}
	if ret := f.Body.Body[0]; ret.Kind != StmtReturn || ret.Expr.Value != 7 {
		t.Errorf("body = %+v", ret)
	}
	if !g.Variadic || g.Location.File != "inc/g.h" {
		t.Errorf("g = %+v", g)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := ParseBytes([]byte(`{"file": 3}`)); err == nil {
		t.Error("ParseBytes accepted a numeric file")
	}
	if _, err := Parse(strings.NewReader("")); err == nil {
		t.Error("Parse accepted empty input")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "x.c.ast.json")
	if err := os.WriteFile(path, []byte(`{"decls": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(path); err == nil || !strings.Contains(err.Error(), "no file") {
		t.Errorf("ParseFile without file = %v", err)
	}
	if _, err := ParseFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("ParseFile of a missing dump succeeded")
	}
}
