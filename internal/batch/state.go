// Package batch drives the paginated bulk research operation from the
// operator side, one page at a time.
package batch

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Mode selects which catalog items a research run touches.
type Mode string

const (
	ModeOverwrite   Mode = "overwrite"
	ModeMissingOnly Mode = "missing-only"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOverwrite || m == ModeMissingOnly
}

// JobConfig is the operator's input for a run. It is sent unchanged with
// every page request.
type JobConfig struct {
	Prompt             string
	Mode               Mode
	MarketIntelligence bool
	Sources            []string
}

// PageRequest is the body of one bulk research call.
type PageRequest struct {
	Prompt             string   `json:"prompt"`
	Mode               Mode     `json:"mode" validate:"required,oneof=overwrite missing-only"`
	Limit              int      `json:"limit" validate:"min=1,max=50"`
	Offset             int      `json:"offset" validate:"min=0"`
	DryRun             bool     `json:"dryRun"`
	MarketIntelligence bool     `json:"marketIntelligence"`
	Sources            []string `json:"sources"`
}

// PageResponse is the result of one bulk research call. A non-empty Error
// means the remote side rejected the page.
type PageResponse struct {
	Processed  int      `json:"processed"`
	Updated    int      `json:"updated"`
	Skipped    int      `json:"skipped"`
	NextOffset *int     `json:"nextOffset,omitempty"`
	HasMore    bool     `json:"hasMore"`
	Errors     []string `json:"errors,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Status is the lifecycle stage of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// MaxLogLines caps RunState.Log.
const MaxLogLines = 50

// RunState is a snapshot of a run. Every transition returns a new value;
// a RunState handed to an observer is never modified afterwards.
type RunState struct {
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	DryRun    bool      `json:"dry_run"`
	Processed int       `json:"processed"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Offset    int       `json:"offset"`
	Pages     int       `json:"pages"`
	Progress  int       `json:"progress"`
	Log       []string  `json:"log"`
	LogLines  int       `json:"log_lines"` // lines ever logged, including ones dropped from Log
	Err       string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func newRunState(runID string, dryRun bool, now time.Time) RunState {
	return RunState{
		RunID:     runID,
		Status:    StatusRunning,
		DryRun:    dryRun,
		Log:       []string{},
		StartedAt: now,
	}
}

// Done reports whether the run reached a terminal status.
func (s RunState) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// withLog prepends line, keeping at most MaxLogLines entries.
func (s RunState) withLog(line string) RunState {
	n := min(len(s.Log)+1, MaxLogLines)
	log := make([]string, 0, n)
	log = append(log, line)
	log = append(log, s.Log[:n-1]...)
	s.Log = log
	s.LogLines++
	return s
}

// withPage folds one successful page into the totals and advances the
// cursor. Per-item errors become individual log lines. A NextOffset that
// does not move past the current offset is ignored so the cursor always
// advances.
func (s RunState) withPage(resp PageResponse, pageSize, estimatedTotal int) RunState {
	s.Pages++
	s.Processed += resp.Processed
	s.Updated += resp.Updated
	s.Skipped += resp.Skipped

	prev := s.Offset
	stale := resp.NextOffset != nil && *resp.NextOffset <= prev
	if resp.NextOffset != nil && !stale {
		s.Offset = *resp.NextOffset
	} else {
		s.Offset += pageSize
	}
	s.Progress = progress(s.Processed, estimatedTotal)

	s = s.withLog(fmt.Sprintf("Page %d: processed %d, updated %d, skipped %d",
		s.Pages, resp.Processed, resp.Updated, resp.Skipped))
	if stale {
		s = s.withLog(fmt.Sprintf("Warning: next offset %d did not advance past %d, using %d",
			*resp.NextOffset, prev, s.Offset))
	}
	for _, e := range resp.Errors {
		s = s.withLog("Error: " + e)
	}
	return s
}

// fail moves the run to failed. Counters and log are kept for inspection.
func (s RunState) fail(err error) RunState {
	s.Status = StatusFailed
	s.Err = err.Error()
	return s.withLog("Batch failed: " + s.Err)
}

func (s RunState) complete() RunState {
	s.Status = StatusCompleted
	s.Progress = 100
	return s.withLog(fmt.Sprintf("Batch complete: processed %d, updated %d, skipped %d",
		s.Processed, s.Updated, s.Skipped))
}

// NewLines returns the lines logged since a state that had seen LogLines
// lines, oldest first. Lines already dropped from Log are lost.
func (s RunState) NewLines(seen int) []string {
	n := min(max(s.LogLines-seen, 0), len(s.Log))
	out := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, s.Log[i])
	}
	return out
}

// Clone returns a deep copy of s.
func (s RunState) Clone() RunState {
	s.Log = slices.Clone(s.Log)
	return s
}

// progress is a display-only estimate against an expected item count.
func progress(processed, estimatedTotal int) int {
	if estimatedTotal <= 0 {
		return 0
	}
	pct := int(math.Round(float64(processed) / float64(estimatedTotal) * 100))
	return min(100, pct)
}
