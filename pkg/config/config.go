// Package config loads carcinize settings from TOML files and the environment.
//
// Layers apply in order, each overriding the previous one: built-in defaults,
// the project file (carcinize.toml in the project directory), the user file
// ($XDG_CONFIG_HOME/carcinize/config.toml) and CARCINIZE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"

	"github.com/chazu/carcinize/pkg/logging"
)

// FileName is the name of the project configuration file.
const FileName = "carcinize.toml"

// Annotation backends.
const (
	BackendOffline = "offline"
	BackendPlugin  = "plugin"
	BackendNone    = "none"
)

// Config is the full set of settings for one run.
type Config struct {
	Project    ProjectConfig    `toml:"project"`
	Frontend   FrontendConfig   `toml:"frontend"`
	Annotation AnnotationConfig `toml:"annotation"`
	Codegen    CodegenConfig    `toml:"codegen"`
	Log        LogConfig        `toml:"log"`

	sources []string
}

// ProjectConfig names the input and output of a translation.
type ProjectConfig struct {
	Name     string `toml:"name"`
	Output   string `toml:"output"`
	Database string `toml:"database"` // compile_commands.json
	Summary  string `toml:"summary"`
}

// FrontendConfig selects how translation units become ASTs.
type FrontendConfig struct {
	Command string `toml:"command"` // empty reads pre-dumped <source>.ast.json files
	ASTDir  string `toml:"ast-dir"`
}

// AnnotationConfig selects the annotation service backend.
type AnnotationConfig struct {
	Backend   string `toml:"backend"`
	Plugin    string `toml:"plugin"`
	Cache     string `toml:"cache"`
	TimeoutMS int    `toml:"timeout-ms"`
}

// CodegenConfig tunes crate synthesis.
type CodegenConfig struct {
	Concurrency int `toml:"concurrency"`
}

// LogConfig sets console verbosity.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			Output:   "rust",
			Database: "compile_commands.json",
		},
		Annotation: AnnotationConfig{
			Backend:   BackendOffline,
			TimeoutMS: 5000,
		},
		Codegen: CodegenConfig{Concurrency: 4},
		Log:     LogConfig{Level: "verbose"},
		sources: []string{"defaults"},
	}
}

// field binds a dotted TOML key to a settings field.
type field struct {
	key string
	str *string
	num *int
}

func (c *Config) fields() []field {
	return []field{
		{key: "project.name", str: &c.Project.Name},
		{key: "project.output", str: &c.Project.Output},
		{key: "project.database", str: &c.Project.Database},
		{key: "project.summary", str: &c.Project.Summary},
		{key: "frontend.command", str: &c.Frontend.Command},
		{key: "frontend.ast-dir", str: &c.Frontend.ASTDir},
		{key: "annotation.backend", str: &c.Annotation.Backend},
		{key: "annotation.plugin", str: &c.Annotation.Plugin},
		{key: "annotation.cache", str: &c.Annotation.Cache},
		{key: "annotation.timeout-ms", num: &c.Annotation.TimeoutMS},
		{key: "codegen.concurrency", num: &c.Codegen.Concurrency},
		{key: "log.level", str: &c.Log.Level},
	}
}

// EnvName returns the environment variable overriding a dotted key.
func EnvName(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return "CARCINIZE_" + strings.ToUpper(r.Replace(key))
}

// UserPath returns the per-user configuration file path.
func UserPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "carcinize", "config.toml")
}

// Load builds the configuration for the project in dir. Missing files are
// skipped; a file that exists but does not parse is an error.
func Load(dir string) (*Config, error) {
	c := Default()
	for _, path := range []string{filepath.Join(dir, FileName), UserPath()} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := c.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.MergeEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// MergeFile applies the keys present in a TOML file.
func (c *Config) MergeFile(path string) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for _, f := range c.fields() {
		if !tree.Has(f.key) {
			continue
		}
		if err := f.set(tree.Get(f.key)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	c.sources = append(c.sources, path)
	return nil
}

// MergeEnv applies CARCINIZE_* variables found through lookup.
func (c *Config) MergeEnv(lookup func(string) (string, bool)) error {
	applied := false
	for _, f := range c.fields() {
		v, ok := lookup(EnvName(f.key))
		if !ok {
			continue
		}
		if err := f.set(v); err != nil {
			return fmt.Errorf("%s: %w", EnvName(f.key), err)
		}
		applied = true
	}
	if applied {
		c.sources = append(c.sources, "environment")
	}
	return nil
}

func (f field) set(v interface{}) error {
	if f.str != nil {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: expected a string, got %T", f.key, v)
		}
		*f.str = s
		return nil
	}
	switch n := v.(type) {
	case int64:
		*f.num = int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", f.key, n)
		}
		*f.num = i
	default:
		return fmt.Errorf("%s: expected an integer, got %T", f.key, v)
	}
	return nil
}

// Sources lists the layers that contributed to c, lowest first.
func (c *Config) Sources() []string {
	return append([]string(nil), c.sources...)
}

// Timeout is the per-request annotation deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Annotation.TimeoutMS) * time.Millisecond
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() int {
	lvl, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LogLevelVerbose
	}
	return lvl
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Annotation.Backend {
	case BackendOffline, BackendNone:
	case BackendPlugin:
		if c.Annotation.Plugin == "" {
			result = multierror.Append(result, errors.New("annotation.plugin is required for the plugin backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("annotation.backend %q is not one of %s, %s, %s",
			c.Annotation.Backend, BackendOffline, BackendPlugin, BackendNone))
	}
	if c.Annotation.TimeoutMS <= 0 {
		result = multierror.Append(result, fmt.Errorf("annotation.timeout-ms must be positive, got %d", c.Annotation.TimeoutMS))
	}
	if c.Codegen.Concurrency <= 0 {
		result = multierror.Append(result, fmt.Errorf("codegen.concurrency must be positive, got %d", c.Codegen.Concurrency))
	}
	if c.Project.Output == "" {
		result = multierror.Append(result, errors.New("project.output must not be empty"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// Save writes c as TOML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := c.Encode(f); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

// Encode writes c as TOML to w.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Order(toml.OrderPreserve).Encode(c)
}

// Example returns a commented project file with the default settings.
func Example() string {
	d := Default()
	return fmt.Sprintf(`# carcinize project configuration

[project]
# crate name; defaults to the project directory name
name = ""
# output directory for the generated crate
output = %q
# compilation database, relative to the project directory
database = %q
# one-line description passed to module narratives
summary = ""

[frontend]
# external AST dumper run per unit as: <command> <args...> <source>
# empty reads <source>.ast.json files
command = ""
# directory holding <base>.ast.json dumps
ast-dir = ""

[annotation]
# offline | plugin | none
backend = %q
# shared library for the plugin backend
plugin = ""
# SQLite file caching answers; empty disables caching
cache = ""
timeout-ms = %d

[codegen]
concurrency = %d

[log]
# silent | error | warn | verbose
level = %q
`, d.Project.Output, d.Project.Database, d.Annotation.Backend, d.Annotation.TimeoutMS,
		d.Codegen.Concurrency, d.Log.Level)
}
