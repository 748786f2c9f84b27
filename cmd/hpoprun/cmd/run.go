package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/hpoprun/internal/history"
	"github.com/psantana5/hpoprun/internal/launcher"
	"github.com/psantana5/hpoprun/internal/report"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		profile    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] [-- args...]",
		Short: "Run the propagator once",
		Long: `Run starts the propagator, relays its stdout line by line and prints

  program execution finished, exit code: <code>

once it exits. Arguments after "--" replace the configured argument vector;
otherwise --profile (or the configured default) picks one. In the config
file, quote numeric args that must reach the propagator exactly as written
(for example "1e3"); unquoted floats keep their decimal point.

Example:
  hpoprun run
  hpoprun run --profile beidou
  hpoprun run -- scene_edit Walker 7000.0 0.001 53 0 0 0 3 4 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			argv, err := a.cfg.LaunchArgs(profile, args)
			if err != nil {
				return err
			}
			return a.launch(cmd, argv, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "named argument vector from the config")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the run result as JSON after the child exits")
	cmd.Flags().Bool("propagate-exit-code", true, "exit with the child's status instead of 0")
	a.v.BindPFlag("propagate_exit_code", cmd.Flags().Lookup("propagate-exit-code"))

	return cmd
}

// launch runs argv once through the launcher and records the result
func (a *app) launch(cmd *cobra.Command, argv []string, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store history.Store
	if a.cfg.History.DSN != "" {
		s, err := history.Open(a.cfg.History.DSN)
		if err != nil {
			// history is bookkeeping; the run goes ahead without it
			a.logger.Warn("Run history unavailable", map[string]interface{}{"err": err})
		} else {
			store = s
			defer store.Close()
		}
	}

	l := launcher.New(
		launcher.WithStdout(cmd.OutOrStdout()),
		launcher.WithStderr(cmd.ErrOrStderr()),
		launcher.WithLogger(a.logger),
		launcher.WithMetrics(a.metrics),
		launcher.WithSampleInterval(a.cfg.SampleInterval),
		launcher.WithSource("cli"),
		launcher.WithTracer(a.tracer.Tracer()),
	)

	result, err := l.Launch(ctx, launcher.Spec{
		Executable: a.cfg.Executable,
		Args:       argv,
		Dir:        a.cfg.WorkDir,
		Env:        a.cfg.Env,
		Timeout:    a.cfg.Timeout,
	})

	a.record(store, result)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(result); jerr != nil {
			a.logger.Warn("Failed to write JSON result", map[string]interface{}{"err": jerr})
		}
	}

	code := 0
	if a.cfg.PropagateExitCode {
		code = launcher.ExitStatus(result, err)
	}
	if err != nil || code != 0 {
		return &exitError{err: err, code: code}
	}
	return nil
}

func (a *app) record(store history.Store, result *report.Result) {
	if store != nil {
		if err := store.Save(context.Background(), result); err != nil {
			a.logger.Warn("Failed to record run", map[string]interface{}{"run_id": result.RunID, "err": err})
		}
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("Failed to write metrics textfile", map[string]interface{}{"path": path, "err": err})
		}
	}
}
