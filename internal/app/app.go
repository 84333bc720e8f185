// Package app provides shared application initialization logic used by the
// server, the CLI serve command and the desktop (Wails) entry points.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/handlers"
	"github.com/lyallcooper/convoy/internal/scheduler"
	"github.com/lyallcooper/convoy/internal/services"
	"github.com/lyallcooper/convoy/internal/tool"
)

// ServerConfig contains options for creating the application server.
type ServerConfig struct {
	// ConfigPath is the YAML config file. Missing files are ignored.
	ConfigPath string

	// Port to listen on. If 0, uses config default.
	Port int

	// ToolPath overrides the configured tool binary. If empty, the binary is searched for.
	ToolPath string

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string

	// WebFS is the filesystem containing web assets under static/.
	WebFS fs.FS

	// BindAddress overrides the configured bind address.
	// Use "127.0.0.1" for desktop mode to only allow local connections.
	BindAddress string

	// DisableCSRF disables CSRF protection. Use for desktop mode where
	// the server only accepts local connections and CSRF isn't a concern.
	DisableCSRF bool
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP      *http.Server
	Config    *config.Config
	Database  *db.DB
	Executor  *tool.Executor
	Converter *services.Converter
	Scheduler *scheduler.Scheduler
	Handler   *handlers.Handler

	stopCSRF chan struct{}
}

// NewExecutor returns an executor for the first tool binary found, starting
// at configured. When nothing is found the executor keeps the configured path
// (or the default name) so conversions report the tool as missing.
func NewExecutor(configured string) (*tool.Executor, error) {
	executor := tool.NewExecutor()
	path, err := tool.FindBinary(configured)
	if err != nil {
		if configured != "" {
			executor.SetBinaryPath(configured)
		}
		return executor, err
	}
	executor.SetBinaryPath(path)
	return executor, nil
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	appCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Overrides from the command line
	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}
	if cfg.BindAddress != "" {
		appCfg.BindAddress = cfg.BindAddress
	}
	if cfg.ToolPath != "" {
		appCfg.ToolPath = cfg.ToolPath
	}

	log.Printf("convoy starting...")
	log.Printf("  Database: %s", appCfg.DBPath)
	log.Printf("  Address: %s", appCfg.Addr())

	// Initialize database
	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Runs left "running" by a previous process can never finish
	if n, err := database.FailInterruptedRuns(); err != nil {
		log.Printf("Warning: failed to mark interrupted runs: %v", err)
	} else if n > 0 {
		log.Printf("  Marked %d interrupted run(s) as failed", n)
	}

	// Initialize tool executor
	executor, err := NewExecutor(appCfg.ToolPath)
	if err != nil {
		log.Printf("Warning: %v", err)
		log.Printf("  Set tool_path or CONVOY_TOOL_PATH to enable conversions")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := executor.CheckInstalled(ctx); err != nil {
			log.Printf("Warning: %s is not usable: %v", executor.BinaryPath(), err)
		} else {
			log.Printf("  Tool: %s", executor.BinaryPath())
		}
		cancel()
	}

	// Initialize conversion service
	converter := services.NewConverter(database, executor, appCfg.RunTimeout)

	// Initialize scheduler
	sched := scheduler.New(database, converter)
	sched.Start()

	// Build version string
	versionStr := buildVersionString(cfg.Version, cfg.Commit)

	// Initialize handlers
	h, err := handlers.New(database, appCfg, executor, converter, cfg.WebFS, versionStr, cfg.DisableCSRF)
	if err != nil {
		sched.Stop()
		converter.Shutdown()
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}
	log.Printf("  Retention: %d days", h.RetentionDays())

	// Start CSRF token cleanup
	stopCSRF := make(chan struct{})
	handlers.StartCSRFCleanup(stopCSRF)

	// Set up HTTP server
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         appCfg.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:      server,
		Config:    appCfg,
		Database:  database,
		Executor:  executor,
		Converter: converter,
		Scheduler: sched,
		Handler:   h,
		stopCSRF:  stopCSRF,
	}, nil
}

// Cleanup releases all resources held by the server. Active runs are stopped
// and marked as such before the database is closed.
func (s *Server) Cleanup() {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Converter != nil {
		s.Converter.Shutdown()
	}
	if s.stopCSRF != nil {
		close(s.stopCSRF)
		s.stopCSRF = nil
	}
	if s.Database != nil {
		s.Database.Close()
	}
}

// StartCleanupLoop starts a background goroutine that periodically cleans up old data.
// Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()

	return cleanupCancel, cleanupDone
}

func (s *Server) cleanup() {
	days := s.Handler.RetentionDays()
	if days < 1 {
		return
	}
	log.Printf("Running cleanup (retention: %d days)", days)
	if err := s.Database.CleanupOldData(days); err != nil {
		log.Printf("Cleanup error: %v", err)
	}
}

func buildVersionString(version, commit string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}
