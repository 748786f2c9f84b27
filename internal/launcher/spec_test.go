package launcher

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hpoprun/internal/report"
)

func TestSpecCommand(t *testing.T) {
	s := Spec{Executable: "/opt/hpop/hpop_executable", Args: []string{"scene_edit", "Walker", "a b", ""}}
	assert.Equal(t, `/opt/hpop/hpop_executable scene_edit Walker "a b" ""`, s.Command())
}

func TestSpecResolveEmpty(t *testing.T) {
	_, err := Spec{}.Resolve()
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestSpecResolveBareNameUsesPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no sh on windows")
	}

	path, err := Spec{Executable: "sh"}.Resolve()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	_, err = Spec{Executable: "hpoprun-definitely-not-installed"}.Resolve()
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestSpecResolveRelativeToDir(t *testing.T) {
	dir := t.TempDir()
	_, err := Spec{Executable: "./build/hpop_executable", Dir: dir}.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(dir, "build", "hpop_executable"))
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		result   *report.Result
		expected int
	}{
		{"success", &report.Result{ExitCode: 0}, 0},
		{"failure", &report.Result{ExitCode: 3}, 3},
		{"signaled", &report.Result{ExitCode: -1, SignalNum: 15}, 143},
		{"unknown", &report.Result{ExitCode: -1}, 1},
		{"nil", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitStatus(tt.result, nil))
		})
	}
}
