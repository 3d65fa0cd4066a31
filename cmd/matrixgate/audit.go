package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/matrixgate/internal/audit"
	"github.com/ShayCichocki/matrixgate/internal/environment"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

func (c *cli) newAuditCmd() *cobra.Command {
	var (
		forbid  []string
		require []string
	)

	cmd := &cobra.Command{
		Use:   "audit <artifact>",
		Short: "Audit a jar or directory for forbidden symbols and required resources",
		Long: `Check a single artifact without running anything.

Forbidden prefixes may be written as packages (kotlinx.atomicfu) or paths
(kotlinx/atomicfu). Multi-release entries under META-INF/versions/<n>/ are
checked as if they were top-level.

Examples:
  matrixgate audit build/libs/core.jar --forbid kotlinx.atomicfu
  matrixgate audit build/libs/core.jar --require META-INF/proguard/coroutines.pro`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			entries, err := audit.ListEntries(path)
			if err != nil {
				return configError(err)
			}

			name := filepath.Base(path)
			violations := audit.Check(name, entries, environment.AuditRules{
				ForbiddenPrefixes: forbid,
				RequiredResources: require,
			})
			if len(violations) == 0 {
				printStatus(c.stdout, "✓", fmt.Sprintf("%s: %d entries, no violations", name, len(entries)), color.FgGreen)
				return nil
			}
			for _, v := range violations {
				printStatus(c.stdout, "✗", v.String(), color.FgRed)
			}
			return &exitError{code: report.ExitFailed}
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&forbid, "forbid", nil, "forbidden symbol prefix (repeatable)")
	f.StringSliceVar(&require, "require", nil, "required resource path (repeatable)")
	return cmd
}

// printStatus prints a colored status symbol followed by a message.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}
