// Package launcher spawns the propagator as a child process, forwards its
// stdout line by line and reports how it exited.
//
// One child, one read loop, one wait. No retries, no restarts.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/hpoprun/internal/observe"
	"github.com/psantana5/hpoprun/internal/report"
	"github.com/psantana5/hpoprun/pkg/logging"
	"github.com/psantana5/hpoprun/pkg/tracing"
)

const tracerName = "github.com/psantana5/hpoprun/internal/launcher"

// Launcher runs child processes. It is safe to reuse, but callers decide
// whether runs may overlap.
type Launcher struct {
	stdout         io.Writer
	stderr         io.Writer
	logger         *logging.Logger
	metrics        *report.Metrics
	commander      Commander
	sampleInterval time.Duration
	waitDelay      time.Duration
	source         string
	onEvent        EventFunc
	tracer         trace.Tracer
}

// Option configures a Launcher
type Option func(*Launcher)

// WithStdout sets where child stdout lines and the finish line go
func WithStdout(w io.Writer) Option {
	return func(l *Launcher) { l.stdout = w }
}

// WithStderr sets where child stderr is copied
func WithStderr(w io.Writer) Option {
	return func(l *Launcher) { l.stderr = w }
}

// WithLogger sets the diagnostic logger
func WithLogger(logger *logging.Logger) Option {
	return func(l *Launcher) { l.logger = logger.Named("launcher") }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *report.Metrics) Option {
	return func(l *Launcher) { l.metrics = m }
}

// WithCommander replaces how exec.Cmd values are built
func WithCommander(c Commander) Option {
	return func(l *Launcher) { l.commander = c }
}

// WithSampleInterval sets how often child RSS/CPU is sampled (0 disables)
func WithSampleInterval(d time.Duration) Option {
	return func(l *Launcher) { l.sampleInterval = d }
}

// WithWaitDelay bounds how long Wait lingers on stdio after cancellation
func WithWaitDelay(d time.Duration) Option {
	return func(l *Launcher) { l.waitDelay = d }
}

// WithSource tags results with where the run came from ("cli", "api")
func WithSource(source string) Option {
	return func(l *Launcher) { l.source = source }
}

// WithEventFunc receives lifecycle events
func WithEventFunc(fn EventFunc) Option {
	return func(l *Launcher) { l.onEvent = fn }
}

// WithTracer replaces the global tracer for launch spans
func WithTracer(t trace.Tracer) Option {
	return func(l *Launcher) { l.tracer = t }
}

// New creates a launcher writing to the process's own stdout/stderr
func New(opts ...Option) *Launcher {
	l := &Launcher{
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		logger:         logging.Discard(),
		metrics:        report.Global(),
		commander:      DefaultCommander{},
		sampleInterval: 500 * time.Millisecond,
		waitDelay:      5 * time.Second,
		source:         "cli",
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch runs spec to completion. The returned Result is never nil, even
// when the error is non-nil, so callers can always record it.
//
// A child that exits non-zero is not an error: its code is in the Result.
// Errors wrap ErrLaunch or ErrIO.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*report.Result, error) {
	result := report.NewResult(l.source, spec.Executable, spec.Args)
	log := l.logger.WithField("run_id", result.RunID)

	ctx, span := l.tracer.Start(ctx, "launcher.Launch", trace.WithAttributes(
		attribute.String("hpop.run_id", result.RunID),
		attribute.String("hpop.executable", spec.Executable),
		attribute.StringSlice("hpop.args", spec.Args),
	))
	defer span.End()

	l.metrics.IncrStarted()
	timing := observe.NewTiming()

	fail := func(reason report.ExitReason, err error) (*report.Result, error) {
		timing.Complete()
		result.Finish(timing.StartedAt, timing.CompletedAt, result.ExitCode, reason)
		result.Error = err.Error()
		l.metrics.RecordResult(result)

		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
		l.emit(ctx, result.PID, StateFailed, err.Error())
		log.Error("Run failed", map[string]interface{}{"reason": reason, "err": err})
		return result, err
	}

	path, err := spec.Resolve()
	if err != nil {
		return fail(report.ExitReasonLaunchFailed, err)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := l.commander.CommandContext(ctx, path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	cmd.Stderr = l.stderr
	cmd.WaitDelay = l.waitDelay
	configureProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(report.ExitReasonLaunchFailed, fmt.Errorf("%w: stdout pipe: %w", ErrLaunch, err))
	}

	log.Info("Starting child", map[string]interface{}{"command": spec.Command()})
	l.emit(ctx, 0, StateStarting, "Spawning child process")

	if err := cmd.Start(); err != nil {
		return fail(report.ExitReasonLaunchFailed, fmt.Errorf("%w: %w", ErrLaunch, err))
	}

	result.PID = cmd.Process.Pid
	span.SetAttributes(attribute.Int("hpop.pid", result.PID))
	log.Debug("Child started", map[string]interface{}{"pid": result.PID})
	l.emit(ctx, result.PID, StateRunning, fmt.Sprintf("PID %d started", result.PID))

	sampler := observe.StartSampler(result.PID, l.sampleInterval)

	// The pipe must be drained before Wait closes it
	lines, readErr := forwardLines(stdout, l.stdout)
	result.LinesForwarded = lines
	if readErr != nil {
		killProcess(cmd)
	}

	waitErr := cmd.Wait()
	usage := sampler.Stop()
	result.PeakRSSBytes = usage.PeakRSSBytes
	result.CPUSeconds = usage.CPUSeconds

	if readErr != nil {
		result.ExitCode = exitCodeOf(cmd)
		return fail(report.ExitReasonIOFailed, fmt.Errorf("%w: child stdout: %w", ErrIO, readErr))
	}

	if cmd.ProcessState == nil {
		return fail(report.ExitReasonUnknown, fmt.Errorf("%w: wait: %w", ErrIO, waitErr))
	}

	timing.Complete()
	exitCode := cmd.ProcessState.ExitCode()
	reason := l.classify(ctx, cmd, result)
	if result.SignalNum > 0 {
		// Shell convention, matching the status the wrapper exits with
		exitCode = 128 + result.SignalNum
	}
	result.Finish(timing.StartedAt, timing.CompletedAt, exitCode, reason)
	if waitErr != nil && errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn("Child stdio outlived the child", map[string]interface{}{"err": waitErr})
	}

	l.metrics.RecordResult(result)
	span.SetAttributes(attribute.Int("hpop.exit_code", exitCode))
	if !reason.IsSuccess() {
		span.SetStatus(codes.Error, string(reason))
	}

	if result.Signal != "" {
		l.emit(ctx, result.PID, StateKilled, "Killed by "+result.Signal)
	} else if reason.IsSuccess() {
		l.emit(ctx, result.PID, StateCompleted, "Completed successfully")
	} else {
		l.emit(ctx, result.PID, StateFailed, fmt.Sprintf("Exited with code %d", exitCode))
	}

	log.Info(result.Summary())

	if _, err := fmt.Fprintln(l.stdout, report.FinishLine(exitCode)); err != nil {
		return result, fmt.Errorf("%w: writing finish line: %w", ErrIO, err)
	}

	return result, nil
}

// classify turns the child's terminal state into an ExitReason
func (l *Launcher) classify(ctx context.Context, cmd *exec.Cmd, result *report.Result) report.ExitReason {
	state := cmd.ProcessState

	if sig, ok := signalOf(state); ok {
		result.Signal = signalName(sig)
		result.SignalNum = int(sig)
	}

	switch {
	case state.Success():
		return report.ExitReasonSuccess
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return report.ExitReasonTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return report.ExitReasonCanceled
	case result.Signal != "":
		return report.ExitReasonSignal
	default:
		return report.ExitReasonError
	}
}

// emit records a lifecycle transition on the launch span and hands it to
// the event callback, if any.
func (l *Launcher) emit(ctx context.Context, pid int, state LifecycleState, message string) {
	tracing.AddEvent(ctx, string(state),
		attribute.Int("hpop.pid", pid),
		attribute.String("hpop.message", message),
	)
	if l.onEvent == nil {
		return
	}
	l.onEvent(LifecycleEvent{
		PID:       pid,
		State:     state,
		Timestamp: time.Now(),
		Message:   message,
	})
}

func exitCodeOf(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
