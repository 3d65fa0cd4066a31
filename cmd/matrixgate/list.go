package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/matrixgate/internal/environment"
)

func (c *cli) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List declared environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return configError(err)
			}
			m, err := environment.LoadMatrix(cfg.Matrix.File)
			if err != nil {
				return configError(err)
			}

			specs := m.Registry.All()
			width := 0
			for _, s := range specs {
				width = max(width, len(s.ID))
			}

			version := m.Version
			if version == "" {
				version = "unversioned"
			}
			fmt.Fprintf(c.stdout, "%s (%s), %d environment(s):\n", cfg.Matrix.File, version, len(specs))
			for _, s := range specs {
				fmt.Fprintf(c.stdout, "  %-*s  %s\n", width, s.ID, environment.Describe(s))
			}
			return nil
		},
	}
}
