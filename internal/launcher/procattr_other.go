//go:build !unix

package launcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

func configureProcess(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func isExecutable(info os.FileInfo) bool {
	switch strings.ToLower(filepath.Ext(info.Name())) {
	case ".exe", ".bat", ".cmd", ".com":
		return true
	}
	return false
}

func signalOf(state *os.ProcessState) (syscall.Signal, bool) {
	return 0, false
}

func signalName(sig syscall.Signal) string {
	return sig.String()
}
