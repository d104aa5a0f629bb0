package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/chazu/carcinize/pkg/mir"
	"github.com/jamesits/goinvoke"
)

// Exported symbol names of an annotation plugin. Each takes a JSON request
// as a C string and returns a JSON PluginResponse as a C string that the
// caller hands back to CarcinizeFree.
const (
	SymInferCallSemantics  = "CarcinizeInferCallSemantics"
	SymModuleNarrative     = "CarcinizeModuleNarrative"
	SymUnsafeJustification = "CarcinizeUnsafeJustification"
	SymFree                = "CarcinizeFree"
)

// PluginResponse is the JSON reply of every plugin export.
type PluginResponse struct {
	Tags  []string `json:"tags,omitempty"`
	Text  string   `json:"text,omitempty"`
	Error string   `json:"error,omitempty"`
}

// pluginFuncs holds the exported functions from a c-shared plugin
type pluginFuncs struct {
	InferCallSemantics  *goinvoke.Proc `func:"CarcinizeInferCallSemantics"`
	ModuleNarrative     *goinvoke.Proc `func:"CarcinizeModuleNarrative"`
	UnsafeJustification *goinvoke.Proc `func:"CarcinizeUnsafeJustification"`
	Free                *goinvoke.Proc `func:"CarcinizeFree"`
}

// Plugin is a Service backed by a shared library. Calls are serialized.
// A cancelled context abandons the reply but cannot interrupt native code.
type Plugin struct {
	funcs *pluginFuncs
	path  string
	mu    sync.Mutex
}

// PluginExt is the shared library extension for this platform.
func PluginExt() string {
	if goruntime.GOOS == "darwin" {
		return ".dylib"
	}
	if goruntime.GOOS == "windows" {
		return ".dll"
	}
	return ".so"
}

// LoadPlugin loads a plugin library. A path without extension gets the
// platform's shared library extension.
func LoadPlugin(path string) (*Plugin, error) {
	if filepath.Ext(path) == "" {
		path += PluginExt()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("plugin not found: %s", path)
	}

	funcs := &pluginFuncs{}
	if err := goinvoke.Unmarshal(path, funcs); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	var missing []string
	if funcs.InferCallSemantics == nil {
		missing = append(missing, SymInferCallSemantics)
	}
	if funcs.ModuleNarrative == nil {
		missing = append(missing, SymModuleNarrative)
	}
	if funcs.UnsafeJustification == nil {
		missing = append(missing, SymUnsafeJustification)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("plugin %s missing %s", path, strings.Join(missing, ", "))
	}
	return &Plugin{funcs: funcs, path: path}, nil
}

// Path returns the loaded library path.
func (p *Plugin) Path() string {
	return p.path
}

// InferCallSemantics forwards to CarcinizeInferCallSemantics.
func (p *Plugin) InferCallSemantics(ctx context.Context, q CallQuery) ([]mir.Tag, error) {
	resp, err := p.call(ctx, p.funcs.InferCallSemantics, q)
	if err != nil {
		return nil, err
	}
	return ParseTags(resp.Tags), nil
}

// ModuleNarrative forwards to CarcinizeModuleNarrative.
func (p *Plugin) ModuleNarrative(ctx context.Context, q ModuleQuery) (string, error) {
	resp, err := p.call(ctx, p.funcs.ModuleNarrative, q)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// UnsafeJustification forwards to CarcinizeUnsafeJustification.
func (p *Plugin) UnsafeJustification(ctx context.Context, q UnsafeQuery) (string, error) {
	resp, err := p.call(ctx, p.funcs.UnsafeJustification, q)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (p *Plugin) call(ctx context.Context, proc *goinvoke.Proc, req interface{}) (*PluginResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	type reply struct {
		raw string
	}
	done := make(chan reply, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		buf := cstring(string(payload))
		ret, _, _ := proc.Call(uintptr(unsafe.Pointer(&buf[0])))
		goruntime.KeepAlive(buf)

		raw := gostringAt(ret)
		if ret != 0 && p.funcs.Free != nil {
			p.funcs.Free.Call(ret)
		}
		done <- reply{raw: raw}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.raw == "" {
			return nil, errors.New("plugin returned no response")
		}
		var resp PluginResponse
		if err := json.Unmarshal([]byte(r.raw), &resp); err != nil {
			return nil, fmt.Errorf("decoding plugin response: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("plugin: %s", resp.Error)
		}
		return &resp, nil
	}
}

// cstring converts a Go string to a NUL-terminated byte buffer
func cstring(s string) []byte {
	return append([]byte(s), 0)
}

// gostringAt converts a C string address returned by a proc call.
// The address is reinterpreted in place rather than converted, as it
// was never a Go pointer.
func gostringAt(addr uintptr) string {
	return gostring(*(*unsafe.Pointer)(unsafe.Pointer(&addr)))
}

// gostring converts a C string pointer to a Go string
func gostring(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	var length int
	for {
		if *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) == 0 {
			break
		}
		length++
		if length > 1024*1024 { // Safety limit: 1MB
			break
		}
	}
	return string(unsafe.Slice((*byte)(p), length))
}
