// Package tool runs the external archive/conversion binary.
package tool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"github.com/lyallcooper/convoy/internal/pipeline"
)

// DefaultBinary is the tool name looked up when no path is configured
const DefaultBinary = "hdk"

// ErrToolNotFound is the pipeline's fatal missing-tool error
var ErrToolNotFound = pipeline.ErrToolNotFound

// Executor runs tool commands
type Executor struct {
	binaryPath string
}

// NewExecutor creates a new executor for the default binary
func NewExecutor() *Executor {
	return &Executor{
		binaryPath: DefaultBinary,
	}
}

// SetBinaryPath sets a custom path to the tool binary
func (e *Executor) SetBinaryPath(path string) {
	e.binaryPath = path
}

// BinaryPath returns the configured binary path
func (e *Executor) BinaryPath() string {
	return e.binaryPath
}

// CheckInstalled verifies that the tool is installed and accessible
func (e *Executor) CheckInstalled(ctx context.Context) error {
	_, err := e.Version(ctx)
	return err
}

// Version returns the first line the tool prints for --version
func (e *Executor) Version(ctx context.Context) (string, error) {
	res, err := e.run(ctx, nil, "--version")
	if err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(bytes.NewReader(res.Stdout))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", fmt.Errorf("unexpected empty output from %s --version", e.binaryPath)
}

// Convert runs `convert <sourcePath>` and returns the converted text from stdout
func (e *Executor) Convert(ctx context.Context, sourcePath string) ([]byte, error) {
	res, err := e.run(ctx, nil, "convert", sourcePath)
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// Extract unpacks input into output. The format comes from input's extension;
// an empty output means <input>_extracted.
func (e *Executor) Extract(ctx context.Context, input, output string) (*CommandResult, error) {
	format, err := DetectFormat(input)
	if err != nil {
		return nil, err
	}
	if output == "" {
		output = input + "_extracted"
	}
	return e.run(ctx, nil, string(format), "extract", "--input", input, "--output", output)
}

// Create packs inputDir into outputFile
func (e *Executor) Create(ctx context.Context, format Format, inputDir, outputFile string) (*CommandResult, error) {
	return e.run(ctx, nil, string(format), "create", "--input", inputDir, "--output", outputFile)
}

// Compress runs `compress <mode> <path>`
func (e *Executor) Compress(ctx context.Context, mode CompressMode, path string) (*CommandResult, error) {
	if mode != Compress && mode != Decompress {
		return nil, fmt.Errorf("invalid compress mode %q", mode)
	}
	return e.run(ctx, nil, "compress", string(mode), path)
}

// Map runs `map --input <dir>`, scanning exhaustively when full is set
func (e *Executor) Map(ctx context.Context, dir string, full bool) (*CommandResult, error) {
	args := []string{"map", "--input", dir}
	if full {
		args = append(args, "--full")
	}
	return e.run(ctx, nil, args...)
}

// Inspect runs `pkg inspect <pkg>`
func (e *Executor) Inspect(ctx context.Context, pkg string) (*CommandResult, error) {
	return e.run(ctx, nil, "pkg", "inspect", pkg)
}

// Crypt runs `crypt <mode>` with the input file on stdin
func (e *Executor) Crypt(ctx context.Context, mode CryptMode, input string) (*CommandResult, error) {
	if mode != Encrypt && mode != Decrypt {
		return nil, fmt.Errorf("invalid crypt mode %q", mode)
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	return e.run(ctx, f, "crypt", string(mode))
}

// run executes the tool and classifies the failure. A result is returned
// whenever the process started, including on a non-zero exit.
func (e *Executor) run(ctx context.Context, stdin io.Reader, args ...string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	err := cmd.Run()
	res := &CommandResult{
		Args:   args,
		Stdout: stdout.Bytes(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Code: res.ExitCode, Stderr: res.Stderr}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, e.binaryPath)
	default:
		return nil, fmt.Errorf("failed to start %s: %w", e.binaryPath, err)
	}
}
