package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFinishLine(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{0, "program execution finished, exit code: 0"},
		{3, "program execution finished, exit code: 3"},
		{-1, "program execution finished, exit code: -1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FinishLine(tt.code))
	}
}

func TestNewResultCopiesArgs(t *testing.T) {
	args := []string{"scene_edit", "Walker"}
	r := NewResult("cli", "/opt/hpop", args)
	args[0] = "mutated"

	assert.Equal(t, "scene_edit", r.Args[0])
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, -1, r.ExitCode)
	assert.Equal(t, ExitReasonUnknown, r.ExitReason)
	assert.False(t, r.Started())
}

func TestResultFinish(t *testing.T) {
	r := NewResult("cli", "/opt/hpop", nil)
	start := time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	r.Finish(start, end, 3, ExitReasonError)

	assert.Equal(t, 1500*time.Millisecond, r.Duration)
	assert.Equal(t, 3, r.ExitCode)
	assert.Contains(t, r.Summary(), "exit=3")
	assert.Contains(t, r.Summary(), "reason=error")
}
