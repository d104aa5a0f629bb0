package ast

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Parse reads AST JSON from a reader and returns a Unit.
func Parse(r io.Reader) (*Unit, error) {
	var unit Unit
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&unit); err != nil {
		return nil, fmt.Errorf("failed to parse AST: %w", err)
	}
	return &unit, nil
}

// ParseBytes parses AST JSON from a byte slice.
func ParseBytes(data []byte) (*Unit, error) {
	var unit Unit
	if err := json.Unmarshal(data, &unit); err != nil {
		return nil, fmt.Errorf("failed to parse AST: %w", err)
	}
	return &unit, nil
}

// ParseFile parses an AST dump from disk.
func ParseFile(path string) (*Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	unit, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if unit.File == "" {
		return nil, fmt.Errorf("%s: AST has no file", path)
	}
	return unit, nil
}
