package tool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/lyallcooper/convoy/internal/pipeline"
)

// Compressor is the part of the executor BatchCompress needs
type Compressor interface {
	Compress(ctx context.Context, mode CompressMode, path string) (*CommandResult, error)
}

// BatchCompress compresses every asset under dir with a compressible
// extension. A file that fails to compress becomes a warning; a missing tool
// or a cancelled ctx stops the pass.
func BatchCompress(ctx context.Context, c Compressor, dir string) (*BatchResult, error) {
	files, err := pipeline.Scan(dir, pipeline.SuffixFilter(CompressibleExts...))
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, err := c.Compress(ctx, Compress, path)
		switch {
		case err == nil:
			result.Compressed++
		case errors.Is(err, ErrToolNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return result, err
		default:
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not compress %s: %v", filepath.Base(path), err))
		}
	}
	return result, nil
}
