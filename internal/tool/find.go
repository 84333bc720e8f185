package tool

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// binaryName returns the platform file name of the tool
func binaryName() string {
	if runtime.GOOS == "windows" {
		return DefaultBinary + ".exe"
	}
	return DefaultBinary
}

// FindBinary locates the tool. The configured path wins if it exists; after
// that it looks next to the running executable, in the working directory, in
// the working directory's release build folder, and finally on $PATH.
func FindBinary(configured string) (string, error) {
	var exeDir string
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	cwd, _ := os.Getwd()
	return findBinary(configured, exeDir, cwd)
}

func findBinary(configured, exeDir, cwd string) (string, error) {
	name := binaryName()

	var candidates []string
	if configured != "" {
		candidates = append(candidates, configured)
	}
	if exeDir != "" {
		candidates = append(candidates, filepath.Join(exeDir, name))
	}
	if cwd != "" {
		candidates = append(candidates,
			filepath.Join(cwd, name),
			filepath.Join(cwd, "hdk-cli", "target", "release", name),
		)
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s not found in configured path, next to executable, working directory, or $PATH", ErrToolNotFound, name)
}
