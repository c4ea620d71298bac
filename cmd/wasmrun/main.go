// Command wasmrun loads a js/wasm guest module and runs it to completion,
// mirroring the guest's exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	gojs "github.com/wasmbridge/wazero-gojs"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type runConfig struct {
	// Module is the path to the compiled guest binary.
	Module string `yaml:"module" validate:"required"`

	// Args are the guest's command line arguments, without the program
	// name.
	Args []string `yaml:"args"`

	// Env is the environment visible to the guest.
	Env map[string]string `yaml:"env"`
}

type envFlags map[string]string

func (e envFlags) String() string {
	pairs := make([]string, 0, len(e))
	for k, v := range e {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (e envFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("environment entry %q is not of the form KEY=VALUE", s)
	}
	e[k] = v
	return nil
}

func main() {
	env := envFlags{}
	configPath := flag.String("config", "", "path to a YAML run configuration")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Var(env, "env", "environment entry KEY=VALUE, repeatable")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] module.wasm [args...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := buildLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wasmrun:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath, flag.Args(), env)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	os.Exit(run(context.Background(), logger, cfg))
}

// buildLogger picks a human-readable encoder on a terminal and JSON
// otherwise, so piped output stays machine-parseable.
func buildLogger(verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// loadConfig merges the optional YAML file with the command line. Positional
// arguments and -env entries take precedence over the file.
func loadConfig(path string, args []string, env envFlags) (runConfig, error) {
	var cfg runConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("could not parse %s: %w", path, err)
		}
	}
	if len(args) > 0 {
		cfg.Module = args[0]
		cfg.Args = args[1:]
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	for k, v := range env {
		cfg.Env[k] = v
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("missing module path: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, logger *zap.Logger, cfg runConfig) int {
	module, err := os.ReadFile(cfg.Module)
	if err != nil {
		logger.Error("could not read module", zap.Error(err))
		return 1
	}

	bridge := gojs.New(gojs.Config{
		Module: module,
		Env:    cfg.Env,
		Logger: logger,
	})
	exitCode := 0
	bridge.OnExit(func(code int) {
		exitCode = code
	})
	if err := bridge.Load(ctx); err != nil {
		logger.Error("could not load module", zap.Error(err))
		return 1
	}
	defer bridge.Close(ctx)

	argv := append([]string{filepath.Base(cfg.Module)}, cfg.Args...)
	if err := bridge.Run(ctx, argv...); err != nil {
		logger.Error("module failed", zap.Error(err))
		return 1
	}
	return exitCode
}
