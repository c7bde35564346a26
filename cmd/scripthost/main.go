package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	logpkg "github.com/agent-racer/scripthost/internal/log"
)

// Set via ldflags at build time.
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "scripthost",
		Short:         "Run and supervise a scripting runtime process",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func main() {
	slog.SetDefault(logpkg.New(logpkg.FromEnv()))

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scripthost:", err)
		os.Exit(1)
	}
}
