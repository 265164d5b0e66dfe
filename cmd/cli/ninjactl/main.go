package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-ninja/pkg/config"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manager"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	Config   string `long:"config" short:"c" description:"path to the YAML configuration file"`
	Root     string `long:"root" description:"overrides the installation root"`
	LogLevel string `long:"log-level" default:"warn" description:"log level (debug, info, warn, error)"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

// app is shared by all subcommands of one invocation
type app struct {
	ctx     context.Context
	options globalOptions
	stdout  io.Writer
	sync    func() error
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			return
		}
		fmt.Fprintf(os.Stderr, "ninjactl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, stdout io.Writer) error {
	a := &app{ctx: ctx, stdout: stdout}
	parser := flags.NewParser(&a.options, flags.HelpFlag)

	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{"list", "List installed units", "Lists unit names in sorted order, optionally with their state", &listCommand{app: a}},
		{"get", "Show a unit", "Prints the manifest and merged configuration of a unit as YAML", &getCommand{app: a}},
		{"start", "Start a unit", "Starts the unit through its maintenance strategy", &startCommand{app: a}},
		{"stop", "Stop a unit", "Stops a unit that is running", &stopCommand{app: a}},
		{"refresh", "Rescan the root", "Rebuilds the catalog from disk and reports the unit count", &refreshCommand{app: a}},
		{"configure", "Render a unit config", "Renders .ninja/config.tmpl into the unit's config path", &configureCommand{app: a}},
		{"install", "Install a package", "Extracts a .shuriken package for the host platform", &installCommand{app: a}},
		{"remove", "Remove a unit", "Deletes the unit directory and forgets the unit", &removeCommand{app: a}},
		{"logs", "Show unit output", "Prints the captured stdout and stderr of a native unit", &logsCommand{app: a}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return err
		}
	}

	defer func() {
		if a.sync != nil {
			_ = a.sync()
		}
	}()

	_, err := parser.ParseArgs(argv)
	return err
}

func (a *app) loadConfig() (*config.NinjaConfig, error) {
	cfg := config.DefaultConfig()
	if a.options.Config != "" {
		var err error
		cfg, err = config.LoadConfigFromFile(a.options.Config)
		if err != nil {
			return nil, err
		}
	}
	if a.options.Root != "" {
		root, err := filepath.Abs(a.options.Root)
		if err != nil {
			return nil, err
		}
		cfg.Ninja.Root = root
	}
	if a.options.LogLevel != "" {
		cfg.Logging.Level = a.options.LogLevel
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) openManager() (*manager.Manager, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	zapLogger, err := logging.NewZapLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a.sync = zapLogger.Sync
	logger := logging.NewLogger(logPrefix("hsu-ninja"), logging.FuncsOf(zapLogger))

	if err := os.MkdirAll(cfg.Ninja.Root, 0755); err != nil {
		return nil, err
	}

	return manager.NewManager(a.ctx, manager.Options{
		Root:                 cfg.Ninja.Root,
		SkipInvalidManifests: cfg.Ninja.SkipInvalidManifests,
		ScriptLibs:           cfg.Scripting.Libs,
		OutputMaxSize:        cfg.Ninja.OutputMaxSize,
	}, logger)
}
