package codegen

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/carcinize/pkg/mir"
)

// Fixed module names.
const (
	GeneratedModule = "generated"
	GlobalsModule   = "globals"
)

var reservedModules = map[string]bool{
	"lib":     true,
	"main":    true,
	"mod":     true,
	"globals": true,
	"std":     true,
	"core":    true,
	"alloc":   true,
	"libc":    true,
}

// Partition assigns every defined function to exactly one module and
// returns module name to sorted function names, plus the origin file of
// each module. The assignment depends only on p.
func Partition(p *mir.ProjectMIR) (modules map[string][]string, files map[string]string) {
	byOrigin := make(map[string][]string)
	for _, name := range p.FunctionNames() {
		byOrigin[p.Functions[name].Origin] = append(byOrigin[p.Functions[name].Origin], name)
	}

	origins := make([]string, 0, len(byOrigin))
	for o := range byOrigin {
		if o != "" {
			origins = append(origins, o)
		}
	}
	sort.Strings(origins)

	modules = make(map[string][]string)
	files = make(map[string]string)
	taken := map[string]bool{GlobalsModule: true}
	if _, ok := byOrigin[""]; ok {
		taken[GeneratedModule] = true
		modules[GeneratedModule] = byOrigin[""]
	}

	for _, origin := range origins {
		base := ModuleName(origin)
		name := base
		for i := 2; taken[name]; i++ {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		taken[name] = true
		modules[name] = byOrigin[origin]
		files[name] = origin
	}
	return modules, files
}

// ModuleName derives a Rust module name from a source file path.
func ModuleName(origin string) string {
	stem := strings.TrimSuffix(filepath.Base(origin), filepath.Ext(origin))
	var sb strings.Builder
	for _, r := range strings.ToLower(stem) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	name := sb.String()
	if name == "" {
		return GeneratedModule + "_c"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "m" + name
	}
	if reservedModules[name] || rustKeywords[name] || name == GeneratedModule {
		name += "_c"
	}
	return name
}

// moduleNames returns the keys of modules in sorted order.
func moduleNames(modules map[string][]string) []string {
	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// globalNames assigns each global its upper-cased Rust name.
func globalNames(p *mir.ProjectMIR) map[string]string {
	out := make(map[string]string)
	taken := make(map[string]bool)
	for _, name := range p.GlobalNames() {
		base := strings.ToUpper(name)
		if rustKeywords[base] {
			base += "_"
		}
		rn := base
		for i := 2; taken[rn]; i++ {
			rn = fmt.Sprintf("%s_%d", base, i)
		}
		taken[rn] = true
		out[name] = rn
	}
	return out
}
