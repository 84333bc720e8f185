package tool

import (
	"context"

	"github.com/lyallcooper/convoy/internal/pipeline"
)

// ExecutorInterface defines the operations of the external tool.
// This allows mocking the executor in tests.
type ExecutorInterface interface {
	pipeline.Converter

	// BinaryPath returns the path the executor launches
	BinaryPath() string

	// CheckInstalled verifies that the tool is installed and runnable
	CheckInstalled(ctx context.Context) error

	// Version returns the tool's version string
	Version(ctx context.Context) (string, error)

	// Extract unpacks an archive into a directory
	Extract(ctx context.Context, input, output string) (*CommandResult, error)

	// Create packs a directory into an archive of the given format
	Create(ctx context.Context, format Format, inputDir, outputFile string) (*CommandResult, error)

	// Compress compresses or decompresses a single file in place
	Compress(ctx context.Context, mode CompressMode, path string) (*CommandResult, error)

	// Map restores original file names inside an extracted directory
	Map(ctx context.Context, dir string, full bool) (*CommandResult, error)

	// Inspect prints the metadata of a package
	Inspect(ctx context.Context, pkg string) (*CommandResult, error)

	// Crypt encrypts or decrypts a file fed on stdin; the result is on Stdout
	Crypt(ctx context.Context, mode CryptMode, input string) (*CommandResult, error)
}

// Ensure Executor implements ExecutorInterface
var _ ExecutorInterface = (*Executor)(nil)
