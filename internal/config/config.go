package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given
const DefaultPath = "convoy.yaml"

// Config holds all application configuration
type Config struct {
	Port          int           `yaml:"port"`
	BindAddress   string        `yaml:"bind_address"`
	DBPath        string        `yaml:"db_path"`
	ToolPath      string        `yaml:"tool_path"`   // empty = search for the binary
	Workers       int           `yaml:"workers"`     // concurrent conversions per run
	SourceExts    []string      `yaml:"source_exts"` // files picked up for conversion
	TargetExt     string        `yaml:"target_ext"`
	SearchExts    []string      `yaml:"search_exts"` // empty = the corpus' own extensions
	RunTimeout    time.Duration `yaml:"run_timeout"` // 0 = no limit
	RetentionDays int           `yaml:"retention_days"`
	AllowedPaths  []string      `yaml:"allowed_paths"` // empty = unrestricted
	LogLevel      string        `yaml:"log_level"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Port:          8080,
		BindAddress:   "127.0.0.1",
		DBPath:        "./data/convoy.db",
		Workers:       4,
		SourceExts:    []string{".luac"},
		TargetExt:     ".lua",
		RetentionDays: 30,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path,
// then CONVOY_* environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("CONVOY_PORT", c.Port)
	c.BindAddress = getEnv("CONVOY_BIND_ADDRESS", c.BindAddress)
	c.DBPath = getEnv("CONVOY_DB_PATH", c.DBPath)
	c.ToolPath = getEnv("CONVOY_TOOL_PATH", c.ToolPath)
	c.Workers = getEnvInt("CONVOY_WORKERS", c.Workers)
	c.TargetExt = getEnv("CONVOY_TARGET_EXT", c.TargetExt)
	c.RetentionDays = getEnvInt("CONVOY_RETENTION_DAYS", c.RetentionDays)
	c.LogLevel = getEnv("CONVOY_LOG_LEVEL", c.LogLevel)
	c.RunTimeout = getEnvDuration("CONVOY_RUN_TIMEOUT", c.RunTimeout)

	if exts := getEnvList("CONVOY_SOURCE_EXTS"); exts != nil {
		c.SourceExts = exts
	}
	if exts := getEnvList("CONVOY_SEARCH_EXTS"); exts != nil {
		c.SearchExts = exts
	}
	if paths := getEnvPaths("CONVOY_ALLOWED_PATHS"); paths != nil {
		c.AllowedPaths = paths
	}
}

func (c *Config) normalize() {
	c.DBPath = ExpandPath(c.DBPath)
	c.ToolPath = ExpandPath(c.ToolPath)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	for i, p := range c.AllowedPaths {
		c.AllowedPaths[i] = ExpandPath(p)
	}
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if strings.TrimSpace(c.TargetExt) == "" {
		return fmt.Errorf("target_ext cannot be empty")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must be >= 0, got %v", c.RunTimeout)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0, got %d", c.RetentionDays)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// ExpandPath expands a leading ~ to the home directory and cleans the path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

// IsPathAllowed reports whether path is inside one of AllowedPaths.
// With no allowed paths configured every path is allowed.
func (c *Config) IsPathAllowed(path string) bool {
	if len(c.AllowedPaths) == 0 {
		return true
	}

	path = filepath.Clean(path)
	for _, allowed := range c.AllowedPaths {
		allowed = filepath.Clean(allowed)
		if path == allowed {
			return true
		}
		prefix := allowed
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping blank entries.
// Returns nil when the variable is unset or empty.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvPaths(key string) []string {
	list := getEnvList(key)
	if list == nil {
		return nil
	}
	paths := make([]string, 0, len(list))
	for _, p := range list {
		paths = append(paths, ExpandPath(p))
	}
	return paths
}
