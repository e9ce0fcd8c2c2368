package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go-php-cli/server"
)

var version = "0.1.0"

// configName is looked up in the project root when --config is not given.
const configName = "phpcli.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "phpcli",
		Short:   "Run PHP scripts as if they were answering HTTP requests",
		Version: version,
		Long: `phpcli runs one interpreter process per request, hands it the request
state on stdin and reads the status, headers, body and session back from
its output. No socket is opened.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.PersistentFlags().String("config", "", "config file, JSON or YAML (default <project root>/"+configName+")")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output and debug logging")

	root.AddCommand(newRequestCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// projectRoot is the nearest directory above the working directory holding
// a composer.json, or the working directory itself.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "composer.json")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd
		}
		dir = parent
	}
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = filepath.Join(projectRoot(), configName)
	}
	return path
}

// newLogger logs warnings and above as JSON to stderr, or everything in
// development format when verbose.
func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// loadConfig reads the configuration named by the command's flags.
func loadConfig(cmd *cobra.Command) (*server.Config, *zap.SugaredLogger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	log, err := newLogger(verbose)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := server.LoadConfig(configPath(cmd), log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openServer(cmd *cobra.Command) (*server.Server, *zap.SugaredLogger, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	srv, err := server.NewServer(cfg, server.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return srv, log, nil
}
