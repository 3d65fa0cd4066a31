package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) newCleanupCmd() *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old runs from the history",
		Long: `Delete recorded runs older than a cutoff from the project database.

The cutoff defaults to history.retention.

Examples:
  matrixgate cleanup                     # Interactive cleanup with confirmation
  matrixgate cleanup --force             # Skip confirmation prompt
  matrixgate cleanup --dry-run           # Show what would be removed
  matrixgate cleanup --older-than=168h   # Keep only the last week`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return configError(err)
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.History.Retention
			}
			if olderThan <= 0 {
				return configError(fmt.Errorf("--older-than must be positive, got %s", olderThan))
			}
			if _, err := os.Stat(cfg.History.Path); os.IsNotExist(err) {
				fmt.Fprintln(c.stdout, "No run history found.")
				return nil
			}

			db, err := openHistory(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer db.Close()

			count, err := db.CountRunsOlderThan(olderThan)
			if err != nil {
				return fmt.Errorf("count old runs: %w", err)
			}
			if count == 0 {
				fmt.Fprintf(c.stdout, "No runs older than %s.\n", formatDuration(olderThan))
				return nil
			}

			fmt.Fprintf(c.stdout, "Found %d run(s) older than %s.\n", count, formatDuration(olderThan))
			if dryRun {
				fmt.Fprintln(c.stdout, "Dry run mode - no runs were removed.")
				return nil
			}

			if !force {
				fmt.Fprint(c.stdout, "Remove these runs? [y/N] ")
				response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && response == "" {
					return fmt.Errorf("read confirmation: %w", err)
				}
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(c.stdout, "Cleanup cancelled.")
					return nil
				}
			}

			removed, err := db.PurgeOldRuns(olderThan)
			if err != nil {
				return fmt.Errorf("purge old runs: %w", err)
			}
			fmt.Fprintf(c.stdout, "Removed %d run(s).\n", removed)
			return nil
		},
	}

	f := cmd.Flags()
	f.DurationVar(&olderThan, "older-than", 0, "remove runs older than this (default history.retention)")
	f.BoolVar(&dryRun, "dry-run", false, "show what would be removed without removing")
	f.BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}
