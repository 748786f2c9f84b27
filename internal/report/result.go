package report

// The launcher reports what the child did. It never interprets the output.
// A Result is written once, when the child is gone.

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExitReason describes why a run ended
type ExitReason string

const (
	ExitReasonSuccess      ExitReason = "success"       // Exit code 0
	ExitReasonError        ExitReason = "error"         // Exit code != 0
	ExitReasonSignal       ExitReason = "signal"        // Killed by signal
	ExitReasonTimeout      ExitReason = "timeout"       // Launcher timeout
	ExitReasonCanceled     ExitReason = "canceled"      // Launcher context canceled
	ExitReasonLaunchFailed ExitReason = "launch_failed" // Child never started
	ExitReasonIOFailed     ExitReason = "io_failed"     // Output stream broke
	ExitReasonUnknown      ExitReason = "unknown"
)

// IsSuccess returns true if the exit represents success
func (r ExitReason) IsSuccess() bool {
	return r == ExitReasonSuccess
}

// Result is run-level truth. Set once, never change.
type Result struct {
	// Identity
	RunID      string   `json:"run_id"`
	Source     string   `json:"source"` // "cli" or "api"
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
	PID        int      `json:"pid"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	// Outcome
	ExitCode   int        `json:"exit_code"`
	ExitReason ExitReason `json:"exit_reason"`
	Signal     string     `json:"signal,omitempty"`
	SignalNum  int        `json:"signal_number,omitempty"`
	Error      string     `json:"error,omitempty"`

	// Observation
	LinesForwarded int     `json:"lines_forwarded"`
	PeakRSSBytes   uint64  `json:"peak_rss_bytes"`
	CPUSeconds     float64 `json:"cpu_seconds"`
}

// NewResult creates a result with a fresh run ID
func NewResult(source, executable string, args []string) *Result {
	argv := make([]string, len(args))
	copy(argv, args)

	return &Result{
		RunID:      uuid.NewString(),
		Source:     source,
		Executable: executable,
		Args:       argv,
		ExitCode:   -1,
		ExitReason: ExitReasonUnknown,
	}
}

// Finish freezes timing and outcome.
func (r *Result) Finish(start, end time.Time, exitCode int, reason ExitReason) {
	r.StartTime = start
	r.EndTime = end
	r.Duration = end.Sub(start)
	r.ExitCode = exitCode
	r.ExitReason = reason
}

// Started reports whether the child was ever spawned
func (r *Result) Started() bool {
	return r.PID > 0
}

// FinishLine is the trailing line printed after the child terminates.
func FinishLine(exitCode int) string {
	return fmt.Sprintf("program execution finished, exit code: %d", exitCode)
}

// Summary is the one-line log form of a result
func (r *Result) Summary() string {
	sig := ""
	if r.Signal != "" {
		sig = " | signal=" + r.Signal
	}
	return fmt.Sprintf("RUN %s | reason=%s | runtime=%.2fs | exit=%d | pid=%d | lines=%d%s",
		r.RunID,
		r.ExitReason,
		r.Duration.Seconds(),
		r.ExitCode,
		r.PID,
		r.LinesForwarded,
		sig,
	)
}
