package launcher

import "errors"

var (
	// ErrLaunch means the child process could not be started: the
	// executable is missing, is a directory, is not executable, or the
	// OS refused to spawn it.
	ErrLaunch = errors.New("launch failure")

	// ErrIO means the child's output stream broke before end-of-stream.
	ErrIO = errors.New("io failure")
)
