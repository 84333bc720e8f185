// Package search counts keyword occurrences across a directory of text files
// and ranks the files by how many matches they hold.
package search

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lyallcooper/convoy/internal/pipeline"
)

// ErrNoKeywords is returned when a keyword list has no usable entries
var ErrNoKeywords = errors.New("no keywords given")

// Corpus selects which side of a conversion is searched
type Corpus string

const (
	CorpusInputs  Corpus = "inputs"
	CorpusOutputs Corpus = "outputs"
)

// ParseCorpus validates a corpus name. An empty name means outputs.
func ParseCorpus(s string) (Corpus, error) {
	switch Corpus(strings.ToLower(strings.TrimSpace(s))) {
	case CorpusInputs:
		return CorpusInputs, nil
	case CorpusOutputs, "":
		return CorpusOutputs, nil
	}
	return "", errors.New("corpus must be inputs or outputs")
}

// Hit is one file with at least one keyword match
type Hit struct {
	Path    string         `json:"path"`
	Matches map[string]int `json:"matches"`
	Total   int            `json:"total"`
}

// ParseKeywords splits a comma-separated list, trimming and lowercasing each
// entry and dropping blanks and duplicates
func ParseKeywords(input string) ([]string, error) {
	seen := make(map[string]bool)
	var keywords []string
	for _, part := range strings.Split(input, ",") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}
	return keywords, nil
}

// Search scans every file under root accepted by match and returns the files
// containing any keyword, most matches first. Keywords must already be
// lowercased (see ParseKeywords). Unreadable and non-UTF-8 files are skipped.
func Search(ctx context.Context, root string, match pipeline.MatchFunc, keywords []string) ([]Hit, error) {
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}

	files, err := pipeline.Scan(root, match)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(data) {
			continue
		}

		if hit, ok := countFile(path, strings.ToLower(string(data)), keywords); ok {
			hits = append(hits, hit)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Total != hits[j].Total {
			return hits[i].Total > hits[j].Total
		}
		return hits[i].Path < hits[j].Path
	})
	return hits, nil
}

func countFile(path, content string, keywords []string) (Hit, bool) {
	hit := Hit{Path: path, Matches: make(map[string]int)}
	for _, kw := range keywords {
		// strings.Count advances past each match, so overlaps count once
		if n := strings.Count(content, kw); n > 0 {
			hit.Matches[kw] = n
			hit.Total += n
		}
	}
	return hit, hit.Total > 0
}
