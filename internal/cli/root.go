// Package cli implements the convoy command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyallcooper/convoy/internal/app"
	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/logger"
	"github.com/lyallcooper/convoy/internal/tool"
)

// Version info - injected at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

// findTool resolves the tool binary. Tests replace it with a fake.
var findTool = func(configured string) (tool.ExecutorInterface, error) {
	executor, err := app.NewExecutor(configured)
	if err != nil {
		return nil, err
	}
	return executor, nil
}

// NewRootCommand creates and returns the root cobra command for convoy
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convoy",
		Short: "Bulk conversion of file trees through an external tool",
		Long: `Convoy converts every matching file under a directory with an external
tool (hdk by default), mirroring the tree into an output directory.

Files whose output already exists are skipped, so an interrupted run can be
repeated. Trees can be exported as text and JSON, and either side of a
conversion can be searched for keywords.

Configuration is loaded from convoy.yaml if present, then CONVOY_*
environment variables. Flags override both.`,
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", config.DefaultPath, "Path to config file")
	cmd.PersistentFlags().String("tool", "", "Path to the conversion tool (default: search for hdk)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")

	cmd.AddCommand(NewConvertCommand())
	cmd.AddCommand(NewTreeCommand())
	cmd.AddCommand(NewSearchCommand())
	cmd.AddCommand(NewToolCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig loads the config file named by --config and applies the global flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if toolPath, _ := cmd.Flags().GetString("tool"); toolPath != "" {
		cfg.ToolPath = config.ExpandPath(toolPath)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger returns a console logger on the command's output
func newLogger(cmd *cobra.Command, cfg *config.Config) *logger.ConsoleLogger {
	return logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the convoy version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "convoy %s (commit %s)\n", Version, Commit)
		},
	}
}
