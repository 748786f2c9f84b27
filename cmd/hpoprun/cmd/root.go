package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/hpoprun/internal/config"
	"github.com/psantana5/hpoprun/internal/launcher"
	"github.com/psantana5/hpoprun/internal/report"
	"github.com/psantana5/hpoprun/pkg/logging"
	"github.com/psantana5/hpoprun/pkg/tracing"
)

// app is the state shared by every command of one invocation
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *logging.Logger
	metrics *report.Metrics
	tracer  *tracing.Provider
}

// exitError carries the status the process should exit with. A nil err
// means nothing is printed.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the CLI and returns the process exit status
func Execute() int {
	return execute(os.Args[1:], os.Stdout, os.Stderr, report.Global())
}

func execute(args []string, stdout, stderr io.Writer, metrics *report.Metrics) int {
	a := &app{
		v:       config.NewViper(),
		logger:  logging.Discard(),
		metrics: metrics,
	}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return launcher.ExitStatus(nil, err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "hpoprun",
		Short: "Launch the HPOP orbit propagator and relay its output",
		Long: `hpoprun starts the HPOP propagator (hpop_executable) with a scene
argument vector, forwards everything it prints on stdout line by line and
reports the exit code once it finishes.

Runs can be recorded in a history database, exported as Prometheus metrics
and launched over HTTP with "hpoprun serve".`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.hpoprun/config.yaml, then ./hpoprun.yaml)")
	flags.String("executable", "", "path to hpop_executable")
	flags.String("workdir", "", "working directory for the propagator")
	flags.Duration("timeout", 0, "stop the propagator after this long (0 = no limit)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("history-dsn", "", "run history database (sqlite path, postgres:// URL or memory:)")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file after each run")

	for key, name := range map[string]string{
		"executable":       "executable",
		"workdir":          "workdir",
		"timeout":          "timeout",
		"log.level":        "log-level",
		"log.format":       "log-format",
		"history.dsn":      "history-dsn",
		"metrics.textfile": "metrics-textfile",
	} {
		a.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		newRunCmd(a),
		newSceneCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and builds the logger and tracer
func (a *app) load(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		home, _ := os.UserHomeDir()
		cwd, _ := os.Getwd()
		path = config.FindConfigFile(home, cwd)
	}
	if err := config.ReadFile(a.v, path); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := logging.ParseLevel(cfg.Log.Level)
	jsonFormat := cfg.Log.Format == "json"
	if cfg.Log.File != "" {
		logger, err := logging.NewFileLogger(cfg.Log.File, level, jsonFormat)
		if err != nil {
			return err
		}
		a.logger = logger
	} else {
		a.logger = logging.NewLogger(level, jsonFormat)
		a.logger.SetOutput(cmd.ErrOrStderr())
	}
	if path != "" {
		a.logger.Debug("Loaded config", map[string]interface{}{"path": path})
	}

	a.tracer, err = tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, a.logger)
	return err
}

func (a *app) close() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", map[string]interface{}{"err": err})
		}
	}
	a.logger.Close()
}
