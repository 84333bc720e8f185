package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/lyallcooper/convoy/internal/services"
)

// Frontend event names
const (
	eventRunProgress = "run:progress"
	eventRunComplete = "run:complete"
)

// App struct holds the Wails application context and provides
// methods that can be called from the frontend.
type App struct {
	ctx       context.Context
	converter *services.Converter
}

// NewApp creates a new App instance.
func NewApp(converter *services.Converter) *App {
	return &App{converter: converter}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// SelectDirectory shows the native folder picker and returns the chosen path,
// or "" if the dialog was cancelled.
func (a *App) SelectDirectory(title string) (string, error) {
	if title == "" {
		title = "Select Folder"
	}
	return wailsruntime.OpenDirectoryDialog(a.ctx, wailsruntime.OpenDialogOptions{
		Title:                title,
		CanCreateDirectories: true,
	})
}

// WatchRun forwards a run's progress to the frontend as run:progress events,
// followed by one run:complete event. It returns false if the run is not active.
func (a *App) WatchRun(runID int64) bool {
	// Subscribe first: a run still active afterwards is guaranteed to close the channel
	updates := a.converter.Subscribe(runID)
	if !a.converter.IsActive(runID) {
		a.converter.Unsubscribe(runID, updates)
		return false
	}

	go func() {
		defer a.converter.Unsubscribe(runID, updates)
		for progress := range updates {
			wailsruntime.EventsEmit(a.ctx, eventRunProgress, progress)
			if progress.Finished() {
				break
			}
		}
		wailsruntime.EventsEmit(a.ctx, eventRunComplete, runID)
	}()
	return true
}

// OpenInFileManager opens the system file manager at the specified path.
// This can be called from the frontend to reveal converted files.
func (a *App) OpenInFileManager(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", "-R", path) // -R reveals in Finder
	case "windows":
		cmd = exec.Command("explorer", "/select,", path)
	default: // Linux
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}

// OpenFolder opens a folder in the system file manager.
func (a *App) OpenFolder(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default: // Linux
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	return nil
}
