package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lyallcooper/convoy/internal/filelock"
)

// ErrDirectoryNotFound is returned when a scan root does not exist or is not a directory
var ErrDirectoryNotFound = errors.New("directory not found")

// MatchFunc reports whether a file with the given base name should be included
type MatchFunc func(name string) bool

// SuffixFilter returns a case-insensitive suffix predicate.
// With no suffixes every file matches.
func SuffixFilter(suffixes ...string) MatchFunc {
	var normalized []string
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}

	return func(name string) bool {
		if len(normalized) == 0 {
			return true
		}
		lower := strings.ToLower(name)
		for _, s := range normalized {
			if strings.HasSuffix(lower, s) {
				return true
			}
		}
		return false
	}
}

// CheckDir verifies that root exists and is a directory
func CheckDir(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDirectoryNotFound, root)
		}
		return fmt.Errorf("failed to access directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, root)
	}
	return nil
}

// Scan recursively lists files under root accepted by match.
// Paths are absolute and sorted by full path string.
func Scan(root string, match MatchFunc) ([]string, error) {
	if err := CheckDir(root); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if match == nil {
		match = SuffixFilter()
	}

	files := make([]string, 0)
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == filelock.LockFileName {
			return nil
		}
		if match(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
