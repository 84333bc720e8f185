package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyallcooper/convoy/internal/app"
	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/webfs"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := os.Getenv("CONVOY_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	server, err := app.CreateServer(app.ServerConfig{
		ConfigPath: configPath,
		Version:    version,
		Commit:     commit,
		WebFS:      webfs.FS,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	cleanupCancel, cleanupDone := server.StartCleanupLoop()

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.HTTP.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server listening on http://%s", server.Config.Addr())
	if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		server.Cleanup()
		log.Fatalf("Server error: %v", err)
	}
	<-shutdownDone

	cleanupCancel()
	<-cleanupDone
	// Stops active runs and records them as stopped before the database closes
	server.Cleanup()

	log.Println("Server stopped")
}
