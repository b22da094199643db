package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "0.1.0-dev"

	storeKind   string
	sqlitePath  string
	includeRoot string
	includeHTTP bool
	enableJS    bool
	verbose     bool
	configPath  string
)

var rootCmd = &cobra.Command{
	Use:     "wilddoc",
	Short:   "Evaluate wd: templates against a record store",
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "memory", "record store backend: memory or sqlite")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "sqlite database file (required when --store=sqlite)")
	rootCmd.PersistentFlags().StringVar(&includeRoot, "include-root", "", "filesystem root wd:include resolves relative to")
	rootCmd.PersistentFlags().BoolVar(&includeHTTP, "include-http", false, "allow wd:include to fetch http(s):// sources")
	rootCmd.PersistentFlags().BoolVar(&enableJS, "js", false, "enable the js script dialect")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (flags override its values)")
}

// logger builds the process-wide slog logger, honoring --verbose.
func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
