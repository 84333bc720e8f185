package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home dir: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty path
		{"empty", "", ""},

		// Absolute paths (unchanged except for cleaning)
		{"absolute path", "/usr/local/bin", "/usr/local/bin"},
		{"absolute with trailing slash", "/usr/local/bin/", "/usr/local/bin"},

		// Home expansion
		{"tilde only", "~", home},
		{"tilde with path", "~/documents", filepath.Join(home, "documents")},
		{"tilde nested", "~/a/b/c", filepath.Join(home, "a/b/c")},

		// Relative paths (cleaned but not made absolute)
		{"relative", "foo/bar", "foo/bar"},
		{"relative with dots", "foo/../bar", "bar"},
		{"relative with double dots", "./foo/./bar", "foo/bar"},

		// Path cleaning
		{"redundant slashes", "/usr//local///bin", "/usr/local/bin"},
		{"dot segments", "/usr/./local/../bin", "/usr/bin"},

		// Edge cases
		{"tilde in middle (not expanded)", "/home/~user", "/home/~user"},
		{"tilde not at start (not expanded)", "foo/~/bar", "foo/~/bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandPath(tt.input)
			if got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsPathAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedPaths []string
		checkPath    string
		want         bool
	}{
		// Empty allowed paths = unrestricted
		{"empty allowed - any path allowed", nil, "/anything/goes", true},
		{"empty slice - any path allowed", []string{}, "/anything/goes", true},

		// Exact matches
		{"exact match", []string{"/home/user"}, "/home/user", true},
		{"exact match root", []string{"/"}, "/", true},

		// Subdirectory matches
		{"subdirectory allowed", []string{"/home/user"}, "/home/user/documents", true},
		{"deep subdirectory", []string{"/home/user"}, "/home/user/a/b/c/d", true},

		// Non-matches
		{"parent not allowed", []string{"/home/user/documents"}, "/home/user", false},
		{"sibling not allowed", []string{"/home/user"}, "/home/other", false},
		{"unrelated path", []string{"/home/user"}, "/etc/passwd", false},

		// Multiple allowed paths
		{"first of multiple", []string{"/home/user", "/tmp"}, "/home/user/file", true},
		{"second of multiple", []string{"/home/user", "/tmp"}, "/tmp/file", true},
		{"none of multiple", []string{"/home/user", "/tmp"}, "/etc/passwd", false},

		// Path traversal attempts - filepath.Clean should handle these
		{"traversal attempt", []string{"/home/user"}, "/home/user/../etc/passwd", false},
		{"traversal normalized", []string{"/home/user"}, "/home/user/./documents/../files", true},

		// Edge cases with trailing slashes
		{"allowed has trailing slash", []string{"/home/user/"}, "/home/user/file", true},
		{"check has trailing slash", []string{"/home/user"}, "/home/user/", true},

		// Prefix attack - /home/user shouldn't allow /home/username
		{"prefix attack prevented", []string{"/home/user"}, "/home/username", false},
		{"prefix attack with file", []string{"/home/user"}, "/home/userfile.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedPaths: tt.allowedPaths}
			got := cfg.IsPathAllowed(tt.checkPath)
			if got != tt.want {
				t.Errorf("IsPathAllowed(%q) with allowed=%v = %v, want %v",
					tt.checkPath, tt.allowedPaths, got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name       string
		envKey     string
		envValue   string
		defaultVal int
		want       int
	}{
		{"empty env", "CONVOY_TEST_INT_EMPTY", "", 42, 42},
		{"valid int", "CONVOY_TEST_INT_VALID", "123", 42, 123},
		{"invalid int", "CONVOY_TEST_INT_INVALID", "not-a-number", 42, 42},
		{"negative int", "CONVOY_TEST_INT_NEG", "-5", 42, -5},
		{"zero", "CONVOY_TEST_INT_ZERO", "0", 42, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set up environment
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			} else {
				os.Unsetenv(tt.envKey)
			}

			got := getEnvInt(tt.envKey, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvInt(%q, %d) = %d, want %d", tt.envKey, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestGetEnvPaths(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		envKey   string
		envValue string
		want     []string
	}{
		{"empty env", "CONVOY_TEST_PATHS_EMPTY", "", nil},
		{"single path", "CONVOY_TEST_PATHS_SINGLE", "/home/user", []string{"/home/user"}},
		{"multiple paths", "CONVOY_TEST_PATHS_MULTI", "/home/user,/tmp", []string{"/home/user", "/tmp"}},
		{"with spaces", "CONVOY_TEST_PATHS_SPACES", "/home/user, /tmp , /var", []string{"/home/user", "/tmp", "/var"}},
		{"with tilde", "CONVOY_TEST_PATHS_TILDE", "~/documents,/tmp", []string{filepath.Join(home, "documents"), "/tmp"}},
		{"empty segments", "CONVOY_TEST_PATHS_EMPTSEG", "/home/user,,/tmp", []string{"/home/user", "/tmp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			} else {
				os.Unsetenv(tt.envKey)
			}

			got := getEnvPaths(tt.envKey)

			if tt.want == nil && got != nil {
				t.Errorf("getEnvPaths(%q) = %v, want nil", tt.envKey, got)
				return
			}
			if len(got) != len(tt.want) {
				t.Errorf("getEnvPaths(%q) = %v (len=%d), want %v (len=%d)",
					tt.envKey, got, len(got), tt.want, len(tt.want))
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("getEnvPaths(%q)[%d] = %q, want %q", tt.envKey, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", cfg.Workers)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if !reflect.DeepEqual(cfg.SourceExts, DefaultConfig().SourceExts) {
		t.Errorf("SourceExts = %v, want defaults", cfg.SourceExts)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convoy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
workers: 8
source_exts: [".bin", ".luac"]
target_ext: ".txt"
run_timeout: 90m
allowed_paths: ["~/games"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	home, _ := os.UserHomeDir()
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if !reflect.DeepEqual(cfg.SourceExts, []string{".bin", ".luac"}) {
		t.Errorf("SourceExts = %v", cfg.SourceExts)
	}
	if cfg.TargetExt != ".txt" {
		t.Errorf("TargetExt = %q", cfg.TargetExt)
	}
	if cfg.RunTimeout != 90*time.Minute {
		t.Errorf("RunTimeout = %v", cfg.RunTimeout)
	}
	if len(cfg.AllowedPaths) != 1 || cfg.AllowedPaths[0] != filepath.Join(home, "games") {
		t.Errorf("AllowedPaths = %v", cfg.AllowedPaths)
	}
	// Untouched keys keep their defaults
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "workers: 8\nport: 9000\n")
	t.Setenv("CONVOY_WORKERS", "2")
	t.Setenv("CONVOY_SOURCE_EXTS", ".sdat, .bar")
	t.Setenv("CONVOY_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want env value 2", cfg.Workers)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want YAML value 9000", cfg.Port)
	}
	if !reflect.DeepEqual(cfg.SourceExts, []string{".sdat", ".bar"}) {
		t.Errorf("SourceExts = %v", cfg.SourceExts)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want normalized debug", cfg.LogLevel)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "workers: [1, 2"},
		{"wrong type", "workers: many"},
		{"zero workers", "workers: 0"},
		{"bad log level", "log_level: loud"},
		{"empty target", "target_ext: \"\""},
		{"bad port", "port: 70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
