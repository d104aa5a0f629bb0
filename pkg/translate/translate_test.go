package translate_test

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/carcinize/pkg/codegen"
	"github.com/chazu/carcinize/pkg/config"
	"github.com/chazu/carcinize/pkg/project"
	"github.com/chazu/carcinize/pkg/translate"
)

const testdataDir = "../../testdata"

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, key := range []string{"project.output", "project.name", "annotation.backend", "annotation.cache", "frontend.command", "frontend.ast-dir"} {
		name := config.EnvName(key)
		if old, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, old) })
		}
	}
}

type fragment struct {
	file string
	text string
}

func readFragments(t *testing.T, path string) []fragment {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to read fragments: %v", err)
	}
	defer f.Close()

	var out []fragment
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		file, text, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("malformed fragment line %q", line)
		}
		out = append(out, fragment{file: file, text: text})
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestTranslateAcceptance(t *testing.T) {
	entries, err := os.ReadDir(testdataDir)
	if err != nil {
		t.Fatalf("Failed to read testdata directory: %v", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		testName := entry.Name()
		t.Run(testName, func(t *testing.T) {
			isolate(t)
			testDir := filepath.Join(testdataDir, testName)

			cfg, err := config.Load(testDir)
			if err != nil {
				t.Fatalf("config.Load: %v", err)
			}
			out := t.TempDir()
			cfg.Project.Output = out

			sum, err := translate.New(cfg, testDir, nil).Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if err := sum.Err(); err != nil {
				t.Fatalf("builder errors: %v", err)
			}
			if len(sum.Report.Warnings) > 0 {
				t.Logf("Lowering warnings: %v", sum.Report.Warnings)
			}
			if len(sum.Result.Warnings) > 0 {
				t.Logf("Synthesis warnings: %v", sum.Result.Warnings)
			}

			contents := make(map[string]string)
			for _, fr := range readFragments(t, filepath.Join(testDir, "expected_fragments.txt")) {
				text, ok := contents[fr.file]
				if !ok {
					data, err := os.ReadFile(filepath.Join(out, fr.file))
					if err != nil {
						t.Fatalf("Failed to read %s: %v", fr.file, err)
					}
					text = string(data)
					contents[fr.file] = text
				}
				if !strings.Contains(text, fr.text) {
					t.Errorf("%s does not contain %q\n\n=== ACTUAL ===\n%s", fr.file, fr.text, text)
				}
			}
		})
	}
}

func TestBuildMIRControlFlow(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	tr := translate.New(cfg, filepath.Join(testdataDir, "control_flow"), nil)

	p, report, err := tr.BuildMIR(context.Background())
	if err != nil {
		t.Fatalf("BuildMIR: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("builder errors: %v", err)
	}
	fn, ok := p.Functions["sum_to"]
	if !ok {
		t.Fatalf("sum_to missing; functions: %v", p.FunctionNames())
	}
	if len(fn.Blocks) < 4 {
		t.Errorf("sum_to has %d blocks, want a loop", len(fn.Blocks))
	}
	if g, ok := p.Globals["total"]; !ok || !g.IsStatic {
		t.Errorf("total = %+v, want a static global", g)
	}
}

func TestMissingDumpIsFrontendError(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	cfg.Frontend.ASTDir = t.TempDir()
	tr := translate.New(cfg, filepath.Join(testdataDir, "control_flow"), nil)

	_, _, err := tr.BuildMIR(context.Background())
	var fe *project.FrontendError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *project.FrontendError", err)
	}
}

func TestInvalidConfigStopsBeforeLoading(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	cfg.Codegen.Concurrency = 0
	cfg.Project.Output = t.TempDir()

	_, err := translate.New(cfg, t.TempDir(), nil).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("err = %v, want an invalid configuration error", err)
	}
}

func TestFrontendSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Frontend.ASTDir = "dumps"
	tr := translate.New(cfg, "/work/proj", nil)
	dump, ok := tr.Frontend().(project.DumpFrontend)
	if !ok {
		t.Fatalf("Frontend() = %T, want DumpFrontend", tr.Frontend())
	}
	if want := filepath.Join("/work/proj", "dumps"); dump.ASTDir != want {
		t.Errorf("ASTDir = %q, want %q", dump.ASTDir, want)
	}

	cfg.Frontend.Command = "carcinize-dump --json"
	if _, ok := tr.Frontend().(project.CommandFrontend); !ok {
		t.Errorf("Frontend() = %T, want CommandFrontend", tr.Frontend())
	}
}

func TestServiceWithCache(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	cfg.Annotation.Cache = filepath.Join(t.TempDir(), "cache.db")
	cfg.Project.Output = t.TempDir()

	sum, err := translate.New(cfg, filepath.Join(testdataDir, "foreign_calls"), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Result.UnsafeRegions != 2 {
		t.Errorf("UnsafeRegions = %d, want 2", sum.Result.UnsafeRegions)
	}
	if _, err := os.Stat(cfg.Annotation.Cache); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
	lib, err := os.ReadFile(filepath.Join(cfg.Project.Output, "src", "lib.rs"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(lib), "pub mod "+codegen.GlobalsModule+";") {
		t.Errorf("lib.rs declares a globals module for a project without globals:\n%s", lib)
	}
}

func TestProjectName(t *testing.T) {
	cfg := config.Default()
	if got := translate.New(cfg, "/work/my-lib", nil).ProjectName(); got != "my-lib" {
		t.Errorf("ProjectName() = %q, want my-lib", got)
	}
	cfg.Project.Name = "named"
	if got := translate.New(cfg, "/work/my-lib", nil).ProjectName(); got != "named" {
		t.Errorf("ProjectName() = %q, want named", got)
	}
}
