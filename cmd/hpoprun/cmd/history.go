package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/hpoprun/internal/history"
	"github.com/psantana5/hpoprun/internal/report"
)

var errHistoryDisabled = errors.New("run history is disabled; set history.dsn or --history-dsn")

func newHistoryCmd(a *app) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")

	var (
		limit  int
		reason string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), history.ListOptions{
				Limit:  limit,
				Reason: report.ExitReason(reason),
			})
			if err != nil {
				return err
			}

			if outputFormat == "json" {
				if runs == nil {
					runs = []*report.Result{}
				}
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			renderRunTable(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "maximum number of runs")
	listCmd.Flags().StringVar(&reason, "reason", "", "only runs with this exit reason (success, error, signal, timeout, ...)")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			renderRunDetail(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func (a *app) openHistory() (history.Store, error) {
	if a.cfg.History.DSN == "" {
		return nil, errHistoryDisabled
	}
	return history.Open(a.cfg.History.DSN)
}

func renderRunTable(w io.Writer, runs []*report.Result) {
	table := tablewriter.NewWriter(w)
	table.Header("Run ID", "Source", "Started", "Duration", "Exit", "Reason", "Lines")

	for _, r := range runs {
		table.Append(
			shortID(r.RunID),
			r.Source,
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			r.Duration.Round(time.Millisecond).String(),
			strconv.Itoa(r.ExitCode),
			string(r.ExitReason),
			strconv.Itoa(r.LinesForwarded),
		)
	}

	table.Render()
}

func renderRunDetail(w io.Writer, r *report.Result) {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	table.Append([]string{"Run ID", r.RunID})
	table.Append([]string{"Source", r.Source})
	table.Append([]string{"Executable", r.Executable})
	table.Append([]string{"Args", strings.Join(r.Args, " ")})
	if r.Started() {
		table.Append([]string{"PID", strconv.Itoa(r.PID)})
	}
	table.Append([]string{"Started", r.StartTime.Local().Format(time.RFC3339)})
	table.Append([]string{"Ended", r.EndTime.Local().Format(time.RFC3339)})
	table.Append([]string{"Duration", r.Duration.Round(time.Millisecond).String()})
	table.Append([]string{"Exit Code", strconv.Itoa(r.ExitCode)})
	table.Append([]string{"Exit Reason", string(r.ExitReason)})
	if r.Signal != "" {
		table.Append([]string{"Signal", r.Signal})
	}
	if r.Error != "" {
		table.Append([]string{"Error", r.Error})
	}
	table.Append([]string{"Lines", strconv.Itoa(r.LinesForwarded)})
	if r.PeakRSSBytes > 0 {
		table.Append([]string{"Peak RSS", fmt.Sprintf("%.1f MB", float64(r.PeakRSSBytes)/(1<<20))})
	}
	if r.CPUSeconds > 0 {
		table.Append([]string{"CPU", fmt.Sprintf("%.2fs", r.CPUSeconds)})
	}

	table.Render()
}

// shortID keeps the first UUID group, like `git log --oneline`
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
