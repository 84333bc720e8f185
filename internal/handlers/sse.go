package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/types"
)

// RunProgressSSE handles SSE connections for run progress.
// Sends `progress` events and a final `complete` event.
func (h *Handler) RunProgressSSE(w http.ResponseWriter, r *http.Request) {
	run, err := h.lookupRun(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the state again so no update falls in between
	updates := h.converter.Subscribe(run.ID)
	defer h.converter.Unsubscribe(run.ID, updates)

	if current, err := h.db.GetRun(run.ID); err == nil {
		run = current
	}
	initial := runProgress(run)
	h.sendProgress(w, flusher, initial)
	if initial.Finished() {
		h.sendComplete(w, flusher, initial)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Channel closed: the run ended, report its stored state
				final := initial
				if stored, err := h.db.GetRun(run.ID); err == nil {
					final = runProgress(stored)
				}
				h.sendComplete(w, flusher, final)
				return
			}
			h.sendProgress(w, flusher, update)
			if update.Finished() {
				h.sendComplete(w, flusher, update)
				return
			}
		}
	}
}

// runProgress converts a stored run into a progress update
func runProgress(run *db.ConversionRun) *types.RunProgress {
	p := &types.RunProgress{
		RunID:     run.ID,
		Total:     run.Total,
		Completed: run.Completed(),
		Succeeded: run.Succeeded,
		Failed:    run.Failed,
		Skipped:   run.Skipped,
		Status:    string(run.Status),
	}
	if run.Total > 0 {
		p.Percent = p.Completed * 100 / run.Total
	}
	if run.ErrorMessage != nil {
		p.Error = *run.ErrorMessage
	}
	return p
}

func (h *Handler) sendProgress(w http.ResponseWriter, flusher http.Flusher, progress *types.RunProgress) {
	jsonData, _ := json.Marshal(progress)
	h.sendEvent(w, flusher, "progress", string(jsonData))
}

func (h *Handler) sendComplete(w http.ResponseWriter, flusher http.Flusher, progress *types.RunProgress) {
	jsonData, _ := json.Marshal(map[string]string{"status": progress.Status, "error": progress.Error})
	h.sendEvent(w, flusher, "complete", string(jsonData))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
