package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var projectDir string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "cupcake",
		Short: "Policy decision engine for AI coding agent hook events",
		Long:  "Cupcake evaluates AI coding agent hook events against project policy, synthesizes a single decision, and dispatches the actions it implies.",
	}
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project-dir", "d", ".", "Project directory (or its .cupcake/ subdirectory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newEvalCmd(&projectDir, &logLevel),
		newTrustCmd(&projectDir),
		newDaemonCmd(&projectDir, &logLevel),
		newInitCmd(),
		newCatalogCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cupcake %s (%s)\n", version, commit)
		},
	}
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
