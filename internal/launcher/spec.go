package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Spec describes one child process invocation
type Spec struct {
	Executable string        // Path or bare name resolved through PATH
	Args       []string      // Positional arguments, passed verbatim
	Dir        string        // Working directory; empty means the launcher's
	Env        []string      // Extra KEY=VALUE pairs appended to the environment
	Timeout    time.Duration // 0 means wait forever
}

// Command renders the spec as a shell-like string for logs
func (s Spec) Command() string {
	parts := append([]string{s.Executable}, s.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

// Resolve checks that the executable exists and may be run, and returns
// its path. Every failure wraps ErrLaunch.
func (s Spec) Resolve() (string, error) {
	if s.Executable == "" {
		return "", fmt.Errorf("%w: no executable configured", ErrLaunch)
	}

	// Bare names go through PATH like a shell would
	if !strings.ContainsRune(s.Executable, filepath.Separator) && !strings.ContainsRune(s.Executable, '/') {
		path, err := exec.LookPath(s.Executable)
		if err != nil {
			return "", fmt.Errorf("%w: %s not found in PATH: %w", ErrLaunch, s.Executable, err)
		}
		return path, nil
	}

	path := s.Executable
	if s.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, path)
	}

	// cmd.Dir would otherwise apply to a relative path a second time
	path, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrLaunch, path)
	}
	if !isExecutable(info) {
		return "", fmt.Errorf("%w: %s is not executable", ErrLaunch, path)
	}

	return path, nil
}
