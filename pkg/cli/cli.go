// Package cli provides the command-line interface for xpath-healer.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/config"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (default: config.yaml in the current directory)",
		EnvVars: []string{"XPATH_HEALER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "store",
		Usage:   "Snapshot store database (overrides config)",
		EnvVars: []string{"XPATH_HEALER_STORE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write logs to this file",
		EnvVars: []string{"XPATH_HEALER_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging to stderr",
		EnvVars: []string{"XPATH_HEALER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "xpath-healer",
		Usage:   "Evaluate and repair XPath locators against captured mobile app snapshots",
		Version: Version,
		Description: `xpath-healer evaluates XPath locators against captured iOS and Android
page sources and repairs the ones that stopped matching.

Examples:
  xpath-healer evaluate --source login.xml --platform android "//node[@text='Login']"
  xpath-healer check checkout.yaml
  xpath-healer repair --save checkout
  xpath-healer snapshot import checkout.yaml`,
		Flags:  GlobalFlags,
		Before: setup,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			evaluateCommand,
			checkCommand,
			repairCommand,
			snapshotCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	if c.Bool("no-ansi") {
		colorsEnabled = false
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	c.App.Metadata = map[string]interface{}{"config": cfg}

	logPath := c.String("log-file")
	if logPath == "" {
		logPath = cfg.LogFile
	}
	switch {
	case logPath != "":
		if err := logger.Init(logPath); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	case c.Bool("verbose"):
		logger.SetOutput(os.Stderr)
	}

	level := cfg.LogLevel
	if c.Bool("verbose") {
		level = "debug"
	}
	return logger.SetLevel(level)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}
	if store := c.String("store"); store != "" {
		cfg.Store = store
	}
	return cfg, nil
}

// configFrom returns the config loaded by setup.
func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata["config"].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
