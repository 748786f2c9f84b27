package launcher

import (
	"errors"
	"io/fs"
	"os/exec"

	"github.com/psantana5/hpoprun/internal/report"
)

// ExitStatus maps a run to the exit status the launcher itself should use
// when it mirrors the child. Shell conventions apply: 127 for a missing
// executable, 126 for one that cannot run, 128+n for a child killed by
// signal n.
func ExitStatus(r *report.Result, err error) int {
	switch {
	case errors.Is(err, ErrLaunch) && (errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound)):
		return 127
	case errors.Is(err, ErrLaunch):
		return 126
	case err != nil:
		return 1
	case r == nil:
		return 1
	case r.SignalNum > 0:
		return 128 + r.SignalNum
	case r.ExitCode < 0:
		return 1
	default:
		return r.ExitCode
	}
}
