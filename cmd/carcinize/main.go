// Carcinize - C to Rust translator
// Named for carcinisation, nature's habit of turning everything into a crab.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/ComedicChimera/olive"
	"github.com/hashicorp/go-multierror"
	"github.com/kr/pretty"

	"github.com/chazu/carcinize/pkg/annotate"
	"github.com/chazu/carcinize/pkg/config"
	"github.com/chazu/carcinize/pkg/logging"
	"github.com/chazu/carcinize/pkg/translate"
)

const versionStr = "0.1.0"

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	cli := olive.NewCLI("carcinize", "carcinize translates C projects into Rust crates", true)
	cli.AddSelectorArg("loglevel", "ll", "the log level; overrides the configured one", false, logging.LevelNames())

	translateCmd := cli.AddSubcommand("translate", "translate a C project into a Cargo crate", true)
	translateCmd.AddPrimaryArg("project-path", "the directory holding compile_commands.json", true)
	translateCmd.AddStringArg("output", "o", "the output directory for the crate", false)

	mirCmd := cli.AddSubcommand("mir", "print the mid-level IR of a C project", true)
	mirCmd.AddPrimaryArg("project-path", "the directory holding compile_commands.json", true)
	mirCmd.AddFlag("pretty", "p", "print the IR data structures instead of the textual form")

	stubCmd := cli.AddSubcommand("plugin-stub", "write a Go skeleton for an annotation plugin", true)
	stubCmd.AddPrimaryArg("out-file", "where to write the plugin source", true)

	configCmd := cli.AddSubcommand("config", "manage configuration", true)
	initCmd := configCmd.AddSubcommand("init", "write a commented carcinize.toml", true)
	initCmd.AddPrimaryArg("project-path", "the project directory", true)
	initCmd.AddFlag("force", "f", "overwrite an existing file")
	showCmd := configCmd.AddSubcommand("show", "print the effective configuration", true)
	showCmd.AddPrimaryArg("project-path", "the project directory", true)
	validateCmd := configCmd.AddSubcommand("validate", "check the effective configuration", true)
	validateCmd.AddPrimaryArg("project-path", "the project directory", true)

	cli.AddSubcommand("version", "print the carcinize version", false)

	result, err := olive.ParseArgs(cli, args)
	if err != nil {
		logging.PrintErrorMessage("CLI Usage Error", err)
		return 2
	}

	loglevel, _ := result.Arguments["loglevel"].(string)
	subcmdName, subResult, _ := result.Subcommand()
	switch subcmdName {
	case "translate":
		return execTranslateCommand(subResult, loglevel)
	case "mir":
		return execMIRCommand(subResult, loglevel)
	case "plugin-stub":
		return execStubCommand(subResult)
	case "config":
		return execConfigCommand(subResult)
	case "version":
		logging.PrintInfoMessage("Carcinize Version", versionStr)
	}
	return 0
}

// loadProject resolves the project directory and its configuration.
// A --loglevel given on the command line overrides the configured level.
func loadProject(result *olive.ArgParseResult, loglevel string) (string, *config.Config, bool) {
	relPath, _ := result.PrimaryArg()
	dir, err := filepath.Abs(relPath)
	if err != nil {
		logging.PrintErrorMessage("Path Error", err)
		return "", nil, false
	}
	cfg, err := config.Load(dir)
	if err != nil {
		logging.PrintErrorMessage("Config Error", err)
		return "", nil, false
	}
	if loglevel != "" {
		cfg.Log.Level = loglevel
	}
	return dir, cfg, true
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func execTranslateCommand(result *olive.ArgParseResult, loglevel string) int {
	dir, cfg, ok := loadProject(result, loglevel)
	if !ok {
		return 1
	}
	if out, ok := result.Arguments["output"]; ok {
		cfg.Project.Output = out.(string)
	}

	log := logging.NewLogger(cfg.LogLevel())
	tr := translate.New(cfg, dir, log)
	log.Header(versionStr, tr.ProjectName())

	ctx, cancel := signalContext()
	defer cancel()

	sum, err := tr.Run(ctx)
	if err != nil {
		log.Finish("Translation")
		return 1
	}
	log.Info("Output", fmt.Sprintf("%d file(s), %d unsafe region(s), run %s",
		len(sum.Result.Files), sum.Result.UnsafeRegions, sum.Result.RunID))
	log.Finish("Translation")
	if sum.Err() != nil {
		return 1
	}
	return 0
}

func execMIRCommand(result *olive.ArgParseResult, loglevel string) int {
	dir, cfg, ok := loadProject(result, loglevel)
	if !ok {
		return 1
	}
	// stdout carries the IR; keep the spinner off it
	log := logging.NewLogger(min(cfg.LogLevel(), logging.LogLevelWarning))
	ctx, cancel := signalContext()
	defer cancel()

	p, report, err := translate.New(cfg, dir, log).BuildMIR(ctx)
	if err != nil {
		log.Finish("Lowering")
		return 1
	}
	if result.HasFlag("pretty") {
		pretty.Println(p)
	} else {
		fmt.Print(p.Repr())
	}
	log.Finish("Lowering")
	if report.Err() != nil {
		return 1
	}
	return 0
}

func execStubCommand(result *olive.ArgParseResult) int {
	out, _ := result.PrimaryArg()
	src, err := annotate.GeneratePluginStub()
	if err != nil {
		logging.PrintErrorMessage("Stub Error", err)
		return 1
	}
	if err := os.WriteFile(out, []byte(src), 0o644); err != nil {
		logging.PrintErrorMessage("Stub Error", err)
		return 1
	}
	logging.PrintSuccessMessage("Plugin Stub", fmt.Sprintf("wrote %s; build it with go build -buildmode=c-shared", out))
	return 0
}

func execConfigCommand(result *olive.ArgParseResult) int {
	subcmdName, subResult, _ := result.Subcommand()
	relPath, _ := subResult.PrimaryArg()
	dir, err := filepath.Abs(relPath)
	if err != nil {
		logging.PrintErrorMessage("Path Error", err)
		return 1
	}

	switch subcmdName {
	case "init":
		path := filepath.Join(dir, config.FileName)
		if _, err := os.Stat(path); err == nil && !subResult.HasFlag("force") {
			logging.PrintErrorMessage("Config Error", fmt.Errorf("%s already exists; use --force to overwrite", path))
			return 1
		}
		if err := os.WriteFile(path, []byte(config.Example()), 0o644); err != nil {
			logging.PrintErrorMessage("Config Error", err)
			return 1
		}
		logging.PrintSuccessMessage("Config", "wrote "+path)
	case "show", "validate":
		cfg, err := config.Load(dir)
		if err != nil {
			logging.PrintErrorMessage("Config Error", err)
			return 1
		}
		if subcmdName == "show" {
			for _, src := range cfg.Sources() {
				fmt.Printf("# from %s\n", src)
			}
			if err := cfg.Encode(os.Stdout); err != nil {
				logging.PrintErrorMessage("Config Error", err)
				return 1
			}
			return 0
		}
		if err := cfg.Validate(); err != nil {
			var merr *multierror.Error
			if errors.As(err, &merr) {
				for _, e := range merr.WrappedErrors() {
					logging.PrintErrorMessage("Invalid Config", e)
				}
			} else {
				logging.PrintErrorMessage("Invalid Config", err)
			}
			return 1
		}
		logging.PrintSuccessMessage("Config", "configuration is valid")
	}
	return 0
}
