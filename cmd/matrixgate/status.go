package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/matrixgate/internal/git"
	"github.com/ShayCichocki/matrixgate/internal/report"
	"github.com/ShayCichocki/matrixgate/internal/state"
)

func (c *cli) newStatusCmd() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent matrix runs",
		Long: `Display the run history recorded in the project database.

Shows:
  - The latest run with the diagnostics of every non-passing environment
  - A summary line for each recent run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return configError(err)
			}
			if _, err := os.Stat(cfg.History.Path); os.IsNotExist(err) {
				fmt.Fprintln(c.stdout, "No runs recorded. Run 'matrixgate run' to start.")
				return nil
			}

			db, err := openHistory(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer db.Close()

			latest, err := db.LatestRun()
			if err != nil {
				return fmt.Errorf("get latest run: %w", err)
			}
			if latest == nil {
				fmt.Fprintln(c.stdout, "No runs recorded. Run 'matrixgate run' to start.")
				return nil
			}
			if err := c.displayLatest(db, latest); err != nil {
				return err
			}

			list, err := db.ListRuns(runs)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			fmt.Fprintln(c.stdout)
			c.displayRuns(list)
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent runs to show")
	return cmd
}

func (c *cli) displayLatest(db *state.DB, run *state.Run) error {
	fmt.Fprintf(c.stdout, "Latest Run: %s\n", run.ID)
	fmt.Fprintf(c.stdout, "  Started: %s ago\n", formatDuration(time.Since(run.StartedAt)))
	fmt.Fprintf(c.stdout, "  Duration: %s\n", run.Duration().Round(time.Millisecond))
	if run.Commit != "" {
		rev := git.Revision{Commit: run.Commit, Branch: run.Branch, Dirty: run.Dirty}
		fmt.Fprintf(c.stdout, "  Revision: %s\n", rev)
	}
	fmt.Fprintf(c.stdout, "  Status: %s (exit %d)\n", statusColor(run.Overall).Sprint(strings.ToUpper(run.Overall.String())), run.ExitCode)
	fmt.Fprintf(c.stdout, "  Environments: %d passed, %d failed, %d errored\n", run.Passed, run.Failed, run.Errored)

	outcomes, err := db.RunOutcomes(run.ID)
	if err != nil {
		return fmt.Errorf("get outcomes: %w", err)
	}
	for _, o := range outcomes {
		if o.Status == report.Passed {
			continue
		}
		fmt.Fprintf(c.stdout, "  %s %s (%s)\n", statusColor(o.Status).Sprint("✗"), o.EnvironmentID, o.Cause)
		for _, d := range o.Diagnostics {
			fmt.Fprintf(c.stdout, "      %s\n", d)
		}
	}
	return nil
}

func (c *cli) displayRuns(runs []state.Run) {
	fmt.Fprintln(c.stdout, "Recent Runs:")
	for _, r := range runs {
		fmt.Fprintf(c.stdout, "  %s  %-8s  %d/%d passed  %s ago\n",
			r.ID,
			statusColor(r.Overall).Sprint(strings.ToUpper(r.Overall.String())),
			r.Passed, r.Environments,
			formatDuration(time.Since(r.FinishedAt)))
	}
}

func statusColor(s report.Status) *color.Color {
	switch s {
	case report.Passed:
		return color.New(color.FgGreen, color.Bold)
	case report.Failed:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow, color.Bold)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
