package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/matrixgate/internal/version"
)

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "matrixgate version %s\n", version.Get())
		},
	}
}
