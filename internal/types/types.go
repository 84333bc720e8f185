package types

// RunProgress is a conversion progress update pushed to SSE and desktop subscribers
type RunProgress struct {
	RunID       int64  `json:"run_id"`
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Percent     int    `json:"percent"`
	LastFile    string `json:"last_file,omitempty"`
	LastOutcome string `json:"last_outcome,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// Finished reports whether this is the last update of a run
func (p *RunProgress) Finished() bool {
	return p.Status != "" && p.Status != "running"
}
