package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/psantana5/hpoprun/internal/report"
)

type testOutput struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newTestLauncher(out *testOutput, opts ...Option) *Launcher {
	base := []Option{
		WithStdout(&out.stdout),
		WithStderr(&out.stderr),
		WithMetrics(report.NewMetrics()),
		WithSampleInterval(10 * time.Millisecond),
		WithWaitDelay(time.Second),
	}
	return New(append(base, opts...)...)
}

func TestLaunchForwardsLinesInOrder(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	result, err := l.Launch(context.Background(), helperSpec(t, "echo-exit", "0", "first", "second", "third"))
	require.NoError(t, err)

	assert.Equal(t, "first\nsecond\nthird\nprogram execution finished, exit code: 0\n", out.stdout.String())
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, report.ExitReasonSuccess, result.ExitReason)
	assert.Equal(t, 3, result.LinesForwarded)
	assert.True(t, result.Started())
}

func TestLaunchReportsNonZeroExit(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	result, err := l.Launch(context.Background(), helperSpec(t, "echo-exit", "3", "A", "B"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.stdout.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A", lines[0])
	assert.Equal(t, "B", lines[1])
	assert.Equal(t, "program execution finished, exit code: 3", lines[2])
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, report.ExitReasonError, result.ExitReason)
	assert.Equal(t, 3, ExitStatus(result, err))
}

func TestLaunchUnterminatedAndCRLFLines(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	_, err := l.Launch(context.Background(), helperSpec(t, "raw", "A\r\nB"))
	require.NoError(t, err)

	assert.Equal(t, "A\nB\nprogram execution finished, exit code: 0\n", out.stdout.String())
}

func TestLaunchStubScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}

	stub := filepath.Join(t.TempDir(), "hpop_executable")
	script := "#!/bin/sh\nprintf 'A\\nB'\nexit 3\n"
	require.NoError(t, os.WriteFile(stub, []byte(script), 0755))

	var out testOutput
	l := newTestLauncher(&out)

	spec := Spec{
		Executable: stub,
		Args:       []string{"scene_edit", "Walker", "7000.0", "0.001", "53", "0", "0", "0", "3", "4", "1"},
	}
	result, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "A\nB\nprogram execution finished, exit code: 3\n", out.stdout.String())
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, spec.Args, result.Args)
}

func TestLaunchSignalledChildReportsShellStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}

	stub := filepath.Join(t.TempDir(), "hpop_executable")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho A\nkill -9 $$\n"), 0755))

	var out testOutput
	l := newTestLauncher(&out)

	result, err := l.Launch(context.Background(), Spec{Executable: stub})
	require.NoError(t, err)

	assert.Equal(t, "A\nprogram execution finished, exit code: 137\n", out.stdout.String())
	assert.Equal(t, 137, result.ExitCode)
	assert.Equal(t, "SIGKILL", result.Signal)
	assert.Equal(t, report.ExitReasonSignal, result.ExitReason)
	assert.Equal(t, 137, ExitStatus(result, err))
}

func TestLaunchStderrIsNotForwardedToStdout(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	_, err := l.Launch(context.Background(), helperSpec(t, "stderr"))
	require.NoError(t, err)

	assert.Equal(t, "to stdout\nprogram execution finished, exit code: 0\n", out.stdout.String())
	assert.Contains(t, out.stderr.String(), "to stderr")
}

func TestLaunchPassesEnvironment(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	spec := helperSpec(t, "env", "HPOP_SCENE")
	spec.Env = append(spec.Env, "HPOP_SCENE=walker")

	_, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.stdout.String(), "walker\n"))
}

func TestLaunchMissingExecutable(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	var result *report.Result
	var err error
	assert.NotPanics(t, func() {
		result, err = l.Launch(context.Background(), Spec{Executable: missing})
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLaunch))
	require.NotNil(t, result)
	assert.False(t, result.Started())
	assert.Equal(t, report.ExitReasonLaunchFailed, result.ExitReason)
	assert.Contains(t, result.Error, "does-not-exist")
	assert.Empty(t, out.stdout.String())
	assert.Equal(t, 127, ExitStatus(result, err))
}

func TestLaunchRejectsDirectory(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	_, err := l.Launch(context.Background(), Spec{Executable: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestLaunchRejectsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), "hpop_executable")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0644))

	var out testOutput
	l := newTestLauncher(&out)

	result, err := l.Launch(context.Background(), Spec{Executable: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Equal(t, 126, ExitStatus(result, err))
}

func TestLaunchTimeout(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out)

	spec := helperSpec(t, "sleep", "10s")
	spec.Timeout = 100 * time.Millisecond

	start := time.Now()
	result, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, report.ExitReasonTimeout, result.ExitReason)
	assert.Contains(t, out.stdout.String(), "program execution finished, exit code: ")
}

type failingWriter struct {
	mu     sync.Mutex
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestLaunchIOFailureKillsChild(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out, WithStdout(&failingWriter{}))

	done := make(chan struct{})
	var result *report.Result
	var err error
	go func() {
		defer close(done)
		result, err = l.Launch(context.Background(), helperSpec(t, "forever"))
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("launcher did not return after output failure")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, report.ExitReasonIOFailed, result.ExitReason)
	assert.Equal(t, 1, result.LinesForwarded)
	assert.Equal(t, 1, ExitStatus(result, err))
}

func TestLaunchEmitsLifecycleEvents(t *testing.T) {
	var out testOutput
	var states []LifecycleState
	l := newTestLauncher(&out, WithEventFunc(func(e LifecycleEvent) {
		states = append(states, e.State)
	}))

	_, err := l.Launch(context.Background(), helperSpec(t, "echo-exit", "4"))
	require.NoError(t, err)

	assert.Equal(t, []LifecycleState{StateStarting, StateRunning, StateFailed}, states)
}

func TestLaunchSourceTag(t *testing.T) {
	var out testOutput
	l := newTestLauncher(&out, WithSource("api"))

	result, err := l.Launch(context.Background(), helperSpec(t, "echo-exit", "0"))
	require.NoError(t, err)
	assert.Equal(t, "api", result.Source)
}

// swapCommander records what the launcher asked for and can point the
// command at a different binary.
type swapCommander struct {
	name string
	args []string
	path string
}

func (c *swapCommander) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	c.name, c.args = name, args
	if c.path != "" {
		name = c.path
	}
	return exec.CommandContext(ctx, name, args...)
}

func TestLaunchUsesCommander(t *testing.T) {
	var out testOutput
	commander := &swapCommander{}
	l := newTestLauncher(&out, WithCommander(commander))

	spec := helperSpec(t, "echo-exit", "0", "via commander")
	_, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, spec.Executable, commander.name)
	assert.Equal(t, spec.Args, commander.args)
	assert.Equal(t, "via commander\nprogram execution finished, exit code: 0\n", out.stdout.String())
}

func TestLaunchStartFailure(t *testing.T) {
	var out testOutput
	// Resolve sees a real executable, but the binary is gone by Start
	commander := &swapCommander{path: filepath.Join(t.TempDir(), "vanished")}
	l := newTestLauncher(&out, WithCommander(commander))

	result, err := l.Launch(context.Background(), helperSpec(t, "echo-exit", "0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Equal(t, report.ExitReasonLaunchFailed, result.ExitReason)
	assert.False(t, result.Started())
	assert.Empty(t, out.stdout.String())
	assert.Equal(t, 127, ExitStatus(result, err))
}

func TestLaunchRecordsSpanEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	var out testOutput
	l := newTestLauncher(&out, WithTracer(tp.Tracer("test")))

	_, err := l.Launch(context.Background(), helperSpec(t, "echo-exit", "4"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "launcher.Launch", spans[0].Name)

	var events []string
	for _, e := range spans[0].Events {
		events = append(events, e.Name)
	}
	assert.Equal(t, []string{"starting", "running", "failed"}, events)
}
