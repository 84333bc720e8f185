package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/filelock"
	"github.com/lyallcooper/convoy/internal/tool"
)

// NewToolCommand creates the tool command group, which runs single
// archive operations through the same binary used for conversions
func NewToolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Run a single archive operation with the conversion tool",
	}

	cmd.AddCommand(newToolVersionCommand())
	cmd.AddCommand(newExtractCommand())
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newCompressCommand())
	cmd.AddCommand(newMapCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newCryptCommand())

	return cmd
}

// loadTool loads the config and resolves the tool binary
func loadTool(cmd *cobra.Command) (*config.Config, tool.ExecutorInterface, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	t, err := findTool(cfg.ToolPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, t, nil
}

// printResult copies the tool's stdout to the command output
func printResult(cmd *cobra.Command, res *tool.CommandResult) error {
	if res == nil || len(res.Stdout) == 0 {
		return nil
	}
	_, err := cmd.OutOrStdout().Write(res.Stdout)
	return err
}

func absPath(p string) (string, error) {
	return filepath.Abs(config.ExpandPath(p))
}

func newToolVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tool's path and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			version, err := t.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version, t.BinaryPath())
			return nil
		},
	}
}

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <archive>",
		Short: "Unpack an archive (.sdat, .bar, .sharc, .pkg)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			input, err := absPath(args[0])
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			if output != "" {
				if output, err = absPath(output); err != nil {
					return err
				}
			}

			res, err := t.Extract(cmd.Context(), input, output)
			if err != nil {
				return err
			}
			if output == "" {
				output = input + "_extracted"
			}
			newLogger(cmd, cfg).Infof("Extracted %s to %s", filepath.Base(input), output)
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output directory (default: <archive>_extracted)")
	return cmd
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <dir> <archive>",
		Short: "Pack a directory into an archive",
		Long: `Pack <dir> into <archive>. The format comes from --format or from the
archive's extension.

Assets that the format expects compressed (.bar, .havok, .dds, .xml) are
compressed in place first unless --no-compress is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			inputDir, err := absPath(args[0])
			if err != nil {
				return err
			}
			outputFile, err := absPath(args[1])
			if err != nil {
				return err
			}

			formatFlag, _ := cmd.Flags().GetString("format")
			var format tool.Format
			if formatFlag != "" {
				format, err = tool.ParseFormat(formatFlag)
			} else {
				format, err = tool.DetectFormat(outputFile)
			}
			if err != nil {
				return err
			}

			log := newLogger(cmd, cfg)
			if skip, _ := cmd.Flags().GetBool("no-compress"); !skip {
				batch, err := tool.BatchCompress(cmd.Context(), t, inputDir)
				if err != nil {
					return err
				}
				for _, w := range batch.Warnings {
					log.LogWarn(w)
				}
				log.Infof("Compressed %d asset(s)", batch.Compressed)
			}

			res, err := t.Create(cmd.Context(), format, inputDir, outputFile)
			if err != nil {
				return err
			}
			log.Infof("Created %s archive %s", strings.ToUpper(string(format)), outputFile)
			return printResult(cmd, res)
		},
	}
	cmd.Flags().String("format", "", "Archive format: sdat, bar, sharc, pkg (default: from extension)")
	cmd.Flags().Bool("no-compress", false, "Do not compress assets before packing")
	return cmd
}

func newCompressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress <file>",
		Short: "Compress or decompress a file in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			path, err := absPath(args[0])
			if err != nil {
				return err
			}

			mode := tool.Compress
			if decompress, _ := cmd.Flags().GetBool("decompress"); decompress {
				mode = tool.Decompress
			}
			res, err := t.Compress(cmd.Context(), mode, path)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().BoolP("decompress", "d", false, "Decompress instead of compress")
	return cmd
}

func newMapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map <dir>",
		Short: "Recover file names in an extracted archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			dir, err := absPath(args[0])
			if err != nil {
				return err
			}
			full, _ := cmd.Flags().GetBool("full")
			res, err := t.Map(cmd.Context(), dir, full)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().Bool("full", false, "Scan exhaustively")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <pkg>",
		Short: "Print the contents of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			pkg, err := absPath(args[0])
			if err != nil {
				return err
			}
			res, err := t.Inspect(cmd.Context(), pkg)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

func newCryptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crypt <file>",
		Short: "Encrypt or decrypt a file",
		Long: `Encrypt (or with --decrypt, decrypt) <file>. The result goes to stdout, or
to --output, which is written atomically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, t, err := loadTool(cmd)
			if err != nil {
				return err
			}
			input, err := absPath(args[0])
			if err != nil {
				return err
			}

			mode := tool.Encrypt
			if decrypt, _ := cmd.Flags().GetBool("decrypt"); decrypt {
				mode = tool.Decrypt
			}
			res, err := t.Crypt(cmd.Context(), mode, input)
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				return printResult(cmd, res)
			}
			if output, err = absPath(output); err != nil {
				return err
			}
			if output == input {
				return fmt.Errorf("output must differ from input")
			}
			if err := filelock.AtomicWrite(output, res.Stdout); err != nil {
				return err
			}
			newLogger(cmd, cfg).Infof("Wrote %s (%d bytes)", output, len(res.Stdout))
			return nil
		},
	}
	cmd.Flags().BoolP("decrypt", "d", false, "Decrypt instead of encrypt")
	cmd.Flags().StringP("output", "o", "", "Write the result to this file instead of stdout")
	return cmd
}
