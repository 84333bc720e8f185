package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/tree"
)

// NewTreeCommand creates the tree command
func NewTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree <dir>",
		Short: "Print or export the directory structure",
		Long: `Print the structure of <dir> as an indented listing, or as JSON with --json.

With --out both renderings are written to <out>/<name>.txt and
<out>/<name>.json instead.

Examples:
  convoy tree ./decompiled
  convoy tree ./decompiled --json
  convoy tree ./decompiled --out ./reports --name decompiled`,
		Args: cobra.ExactArgs(1),
		RunE: runTree,
	}

	cmd.Flags().Bool("json", false, "Print JSON instead of text")
	cmd.Flags().StringP("out", "o", "", "Export both renderings to this directory")
	cmd.Flags().String("name", "tree", "Base name of the exported files")

	return cmd
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(config.ExpandPath(args[0]))
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		name, _ := cmd.Flags().GetString("name")
		textPath, jsonPath, err := tree.Export(root, config.ExpandPath(out), name)
		if err != nil {
			return err
		}
		log := newLogger(cmd, cfg)
		log.Infof("Wrote %s", textPath)
		log.Infof("Wrote %s", jsonPath)
		return nil
	}

	node, err := tree.Build(root)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := tree.RenderJSON(node)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err = io.WriteString(w, tree.RenderText(node))
	return err
}
