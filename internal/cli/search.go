package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/pipeline"
	"github.com/lyallcooper/convoy/internal/search"
)

// NewSearchCommand creates the search command
func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <dir>",
		Short: "Rank files under a directory by keyword matches",
		Long: `Count case-insensitive occurrences of each keyword in the files under <dir>
and list the files with at least one match, most matches first.

--corpus picks the default extensions: the source extensions for inputs,
the target extension for outputs. --exts overrides both.

Examples:
  convoy search ./decompiled --keywords "player, spawn"
  convoy search ./scripts --corpus inputs --keywords password --json`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().StringP("keywords", "k", "", "Comma-separated keywords (required)")
	cmd.Flags().String("corpus", string(search.CorpusOutputs), "Which side to search: inputs or outputs")
	cmd.Flags().StringSlice("exts", nil, "File extensions to search (default depends on --corpus)")
	cmd.Flags().Bool("json", false, "Print hits as JSON")
	cmd.Flags().IntP("limit", "n", 0, "Show at most N hits (0 = all)")
	cmd.MarkFlagRequired("keywords")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	corpusFlag, _ := cmd.Flags().GetString("corpus")
	corpus, err := search.ParseCorpus(corpusFlag)
	if err != nil {
		return err
	}
	rawKeywords, _ := cmd.Flags().GetString("keywords")
	keywords, err := search.ParseKeywords(rawKeywords)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(config.ExpandPath(args[0]))
	if err != nil {
		return err
	}

	exts, _ := cmd.Flags().GetStringSlice("exts")
	if len(exts) == 0 {
		exts = searchExts(cfg, corpus)
	}

	hits, err := search.Search(cmd.Context(), root, pipeline.SuffixFilter(exts...), keywords)
	if err != nil {
		return err
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Fprintln(w, "No matches")
		return nil
	}
	for _, hit := range hits {
		rel, err := filepath.Rel(root, hit.Path)
		if err != nil {
			rel = hit.Path
		}
		fmt.Fprintf(w, "%6d  %s  (%s)\n", hit.Total, rel, formatMatches(hit.Matches, keywords))
	}
	return nil
}

// searchExts returns the default extensions searched for a corpus
func searchExts(cfg *config.Config, corpus search.Corpus) []string {
	if len(cfg.SearchExts) > 0 {
		return cfg.SearchExts
	}
	if corpus == search.CorpusInputs {
		return cfg.SourceExts
	}
	return []string{pipeline.NormalizeExt(cfg.TargetExt)}
}

// formatMatches lists per-keyword counts in keyword order, e.g. "player: 2, spawn: 1"
func formatMatches(matches map[string]int, keywords []string) string {
	parts := make([]string, 0, len(matches))
	for _, kw := range keywords {
		if n, ok := matches[kw]; ok {
			parts = append(parts, fmt.Sprintf("%s: %d", kw, n))
		}
	}
	return strings.Join(parts, ", ")
}
