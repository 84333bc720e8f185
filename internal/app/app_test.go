package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/lyallcooper/convoy/internal/tool"
)

func TestBuildVersionString(t *testing.T) {
	tests := []struct {
		version string
		commit  string
		want    string
	}{
		{"v1.2.0", "abcdef0123", "v1.2.0"},
		{"dev", "abcdef0123", "dev-abcdef0"},
		{"dev", "abc", "dev-abc"},
		{"dev", "", "dev-unknown"},
	}

	for _, tt := range tests {
		if got := buildVersionString(tt.version, tt.commit); got != tt.want {
			t.Errorf("buildVersionString(%q, %q) = %q, want %q", tt.version, tt.commit, got, tt.want)
		}
	}
}

func TestNewExecutor_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-tool")
	t.Setenv("PATH", t.TempDir())

	executor, err := NewExecutor(missing)
	if !errors.Is(err, tool.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if executor.BinaryPath() != missing {
		t.Errorf("BinaryPath() = %q, want the configured path", executor.BinaryPath())
	}
}

func TestNewExecutor_Configured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdk")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	executor, err := NewExecutor(path)
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	if executor.BinaryPath() != path {
		t.Errorf("BinaryPath() = %q, want %q", executor.BinaryPath(), path)
	}
}

func TestCreateServer(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "convoy.yaml")
	yaml := "db_path: " + filepath.Join(dir, "data", "convoy.db") + "\nport: 9090\nworkers: 3\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", t.TempDir())

	server, err := CreateServer(ServerConfig{
		ConfigPath:  configPath,
		Port:        9191,
		ToolPath:    filepath.Join(dir, "missing-hdk"),
		Version:     "v0.1.0",
		WebFS:       fstest.MapFS{"static/index.html": {Data: []byte("<html></html>")}},
		DisableCSRF: true,
	})
	if err != nil {
		t.Fatalf("CreateServer failed: %v", err)
	}
	defer server.Cleanup()

	if server.HTTP.Addr != "127.0.0.1:9191" {
		t.Errorf("Addr = %q, want port override applied", server.HTTP.Addr)
	}
	if server.Config.Workers != 3 {
		t.Errorf("Workers = %d, want 3 from the config file", server.Config.Workers)
	}
	if !server.Scheduler.Running() {
		t.Error("scheduler should be running")
	}

	rec := httptest.NewRecorder()
	server.HTTP.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/status = %d", rec.Code)
	}
}

func TestCreateServer_InvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "convoy.yaml")
	if err := os.WriteFile(configPath, []byte("workers: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := CreateServer(ServerConfig{ConfigPath: configPath}); err == nil {
		t.Error("expected an error for an invalid config")
	}
}
