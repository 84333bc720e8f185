package tool

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is an archive container the tool can unpack and build
type Format string

const (
	FormatSDAT  Format = "sdat"  // scene archive
	FormatBAR   Format = "bar"   // general resource archive
	FormatSHARC Format = "sharc" // streaming audio/animation archive
	FormatPKG   Format = "pkg"   // installable package
)

// Formats lists every supported archive format
var Formats = []Format{FormatSDAT, FormatBAR, FormatSHARC, FormatPKG}

// ParseFormat validates a format name (case-insensitive, optional leading dot)
func ParseFormat(s string) (Format, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	for _, f := range Formats {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown archive format %q", s)
}

// DetectFormat picks the archive format from a file's extension
func DetectFormat(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("cannot detect archive format of %s: no extension", path)
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return "", fmt.Errorf("cannot detect archive format of %s: %w", path, err)
	}
	return f, nil
}

// CompressMode selects the direction of the compress command
type CompressMode string

const (
	Compress   CompressMode = "compress"
	Decompress CompressMode = "decompress"
)

// CryptMode selects the direction of the crypt command
type CryptMode string

const (
	Encrypt CryptMode = "encrypt"
	Decrypt CryptMode = "decrypt"
)

// CompressibleExts are the asset types shrunk before an archive is packed
var CompressibleExts = []string{".bar", ".havok", ".dds", ".xml"}

// CommandResult captures one tool invocation
type CommandResult struct {
	Args     []string
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// Succeeded reports whether the tool exited with code 0
func (r *CommandResult) Succeeded() bool {
	return r.ExitCode == 0
}

// ExitError is returned when the tool ran but exited non-zero
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("tool exited with code %d", e.Code)
	}
	// Keep the first line; tool stderr can run long
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return fmt.Sprintf("tool exited with code %d: %s", e.Code, msg)
}

// BatchResult summarizes a batch compression pass
type BatchResult struct {
	Compressed int
	Warnings   []string
}
