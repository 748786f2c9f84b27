package launcher

import (
	"context"
	"os/exec"
)

// Commander builds exec.Cmd values so tests can substitute the child.
// Implementations must use exec.CommandContext: the launcher installs a
// Cancel hook that os/exec only accepts on context-bound commands.
type Commander interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// DefaultCommander implements Commander with exec.CommandContext.
type DefaultCommander struct{}

// CommandContext creates a new exec.Cmd bound to ctx.
func (DefaultCommander) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
