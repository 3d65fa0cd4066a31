package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/matrixgate/internal/config"
)

func (c *cli) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [key]",
		Short: "Show effective configuration",
		Long: `Display the effective configuration after merging defaults, the user
config, the project config and MATRIXGATE_* environment variables.

Without arguments, displays every key. With one argument, displays the value
for that key.

User configuration is read from ~/.config/matrixgate/config.yaml.
Project-specific overrides can be placed in .matrixgate.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return configError(err)
			}

			values := configValues(cfg)
			if len(args) == 1 {
				for _, kv := range values {
					if kv[0] == args[0] {
						fmt.Fprintln(c.stdout, kv[1])
						return nil
					}
				}
				return configError(fmt.Errorf("unknown config key: %s", args[0]))
			}

			for _, kv := range values {
				fmt.Fprintf(c.stdout, "%s: %s\n", kv[0], kv[1])
			}
			fmt.Fprintln(c.stdout)
			fmt.Fprintf(c.stdout, "# user config: %s\n", config.GetUserConfigPath())
			if p := config.GetProjectConfigPath(); p != "" {
				fmt.Fprintf(c.stdout, "# project config: %s\n", p)
			}
			if c.configFile != "" {
				fmt.Fprintf(c.stdout, "# --config: %s\n", c.configFile)
			}
			return nil
		},
	}
}

// configValues lists every config key with its display value.
func configValues(cfg *config.Config) [][2]string {
	homes := make([]string, 0, len(cfg.Executor.JavaHomes))
	for _, k := range slices.Sorted(maps.Keys(cfg.Executor.JavaHomes)) {
		homes = append(homes, k+"="+cfg.Executor.JavaHomes[k])
	}
	codes := make([]string, len(cfg.Executor.FailureExitCodes))
	for i, code := range cfg.Executor.FailureExitCodes {
		codes[i] = fmt.Sprint(code)
	}

	return [][2]string{
		{"matrix.file", cfg.Matrix.File},
		{"matrix.parallelism", fmt.Sprint(cfg.Matrix.Parallelism)},
		{"matrix.timeout", cfg.Matrix.Timeout.String()},
		{"matrix.fail_fast", fmt.Sprint(cfg.Matrix.FailFast)},
		{"resolver.repositories", list(cfg.Resolver.Repositories)},
		{"executor.java", cfg.Executor.Java},
		{"executor.java_homes", list(homes)},
		{"executor.main_class", cfg.Executor.MainClass},
		{"executor.args", list(cfg.Executor.Args)},
		{"executor.failure_exit_codes", list(codes)},
		{"executor.output_tail_lines", fmt.Sprint(cfg.Executor.OutputTailLines)},
		{"executor.work_dir", cfg.Executor.WorkDir},
		{"report.log_file", cfg.Report.LogFile},
		{"history.enabled", fmt.Sprint(cfg.History.Enabled)},
		{"history.driver", cfg.History.Driver},
		{"history.path", cfg.History.Path},
		{"history.retention", cfg.History.Retention.String()},
		{"watch.debounce", cfg.Watch.Debounce.String()},
	}
}

func list(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}
