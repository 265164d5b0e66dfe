package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/config"
	"github.com/core-tools/hsu-ninja/pkg/daemon"
	"github.com/core-tools/hsu-ninja/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string        `long:"config" short:"c" description:"path to the YAML configuration file"`
	Root        string        `long:"root" description:"overrides the installation root"`
	LogLevel    string        `long:"log-level" description:"overrides the log level (debug, info, warn, error)"`
	RunDuration time.Duration `long:"run-duration" description:"stop after the given duration, e.g. 30s"`
	Validate    bool          `long:"validate" description:"validate the configuration file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if opts.Config == "" {
			fmt.Println("Config file is required for validation")
			os.Exit(1)
		}
		if err := daemon.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logger := logging.NewLogger(logPrefix("hsu-ninja"), logging.FuncsOf(zapLogger))
	logger.Infof("opts: %+v", opts)

	err = daemon.Run(context.Background(), cfg, daemon.RunOptions{RunDuration: opts.RunDuration}, logger)
	if err != nil {
		logger.Errorf("Ninja daemon failed: %v", err)
		_ = zapLogger.Sync()
		os.Exit(1)
	}
}

func loadConfig(opts flagOptions) (*config.NinjaConfig, error) {
	cfg := config.DefaultConfig()
	if opts.Config != "" {
		var err error
		cfg, err = config.LoadConfigFromFile(opts.Config)
		if err != nil {
			return nil, err
		}
	}

	if opts.Root != "" {
		root, err := filepath.Abs(opts.Root)
		if err != nil {
			return nil, err
		}
		cfg.Ninja.Root = root
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
