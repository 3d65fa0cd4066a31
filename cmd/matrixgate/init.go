package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/matrixgate/internal/config"
	"github.com/ShayCichocki/matrixgate/internal/exec"
)

const sampleMatrix = `# Release verification matrix.
# Artifacts without a version inherit the matrix version.
version: 1.0.0
environments:
  - id: coreTest
    artifacts:
      - com.example:library-core
    classpath: [build/classes/java/test]

  - id: packagingTest
    artifacts:
      - com.example:library-core
    audit:
      forbidden_prefixes: [com.example.internal.shaded]
      required_resources: [META-INF/MANIFEST.MF]

  - id: agentTest
    attachment: static
    agent: library-agent
    artifacts:
      - com.example:library-core
      - com.example:library-agent
    classpath: [build/classes/java/test]
    env:
      EXPECTED_VERSION: "${version}"
`

// gitignoreEntries keeps run history out of version control.
var gitignoreEntries = []string{".matrixgate/"}

func (c *cli) newInitCmd() *cobra.Command {
	var (
		force         bool
		skipJavaCheck bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a matrixgate project",
		Long: `Initialize a directory for use with matrixgate.

This command:
  - Verifies that a java launcher is available
  - Creates .matrixgate.yaml with the default configuration
  - Creates a sample matrix.yaml
  - Adds the run history directory to .gitignore

The directory argument is optional and defaults to the current directory.

Examples:
  matrixgate init              # Initialize current directory
  matrixgate init ./library    # Initialize specific directory
  matrixgate init --force      # Overwrite existing files`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetDir := "."
			if len(args) > 0 {
				targetDir = args[0]
			}
			absPath, err := filepath.Abs(targetDir)
			if err != nil {
				return fmt.Errorf("resolving absolute path: %w", err)
			}
			if err := os.MkdirAll(absPath, 0755); err != nil {
				return fmt.Errorf("creating directory %s: %w", absPath, err)
			}

			fmt.Fprintf(c.stdout, "Initializing matrixgate in %s...\n\n", absPath)

			configPath := filepath.Join(absPath, config.ProjectConfigName)
			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Fprintln(c.stdout, "Directory already initialized. Use --force to reinitialize.")
				return nil
			}

			cfg := config.Default()
			if !skipJavaCheck {
				c.checkJava(cmd.Context(), cfg.Executor.Java)
			}

			if err := config.WriteProjectConfig(configPath, cfg); err != nil {
				return fmt.Errorf("writing %s: %w", config.ProjectConfigName, err)
			}
			printStatus(c.stdout, "✓", "Created "+config.ProjectConfigName, color.FgGreen)

			matrixPath := filepath.Join(absPath, cfg.Matrix.File)
			if _, err := os.Stat(matrixPath); err == nil && !force {
				printStatus(c.stdout, "⚠", cfg.Matrix.File+" exists, left unchanged", color.FgYellow)
			} else {
				if err := os.WriteFile(matrixPath, []byte(sampleMatrix), 0644); err != nil {
					return fmt.Errorf("writing %s: %w", cfg.Matrix.File, err)
				}
				printStatus(c.stdout, "✓", "Created sample "+cfg.Matrix.File, color.FgGreen)
			}

			if err := updateGitignore(absPath); err != nil {
				return fmt.Errorf("updating .gitignore: %w", err)
			}
			printStatus(c.stdout, "✓", "Updated .gitignore", color.FgGreen)

			fmt.Fprintf(c.stdout, "\n%s matrixgate initialization complete!\n\n", color.GreenString("✓"))
			fmt.Fprintln(c.stdout, "Next steps:")
			fmt.Fprintf(c.stdout, "  1. Declare your environments in %s\n", cfg.Matrix.File)
			fmt.Fprintf(c.stdout, "  2. Point resolver.repositories in %s at your build output\n", config.ProjectConfigName)
			fmt.Fprintln(c.stdout, "  3. Run the matrix:")
			fmt.Fprintln(c.stdout, "     matrixgate run")
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "Reinitialize even if already set up")
	f.BoolVar(&skipJavaCheck, "skip-java-check", false, "Skip java launcher availability check")
	return cmd
}

// checkJava reports whether the java launcher runs. A missing launcher is a
// warning: java_homes may still provide one per bytecode level.
func (c *cli) checkJava(ctx context.Context, java string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.NewRunner().Run(ctx, "", java, "-version")
	if err != nil {
		printStatus(c.stdout, "⚠", java+" not runnable (set executor.java or executor.java_homes)", color.FgYellow)
		return
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	printStatus(c.stdout, "✓", "Java found: "+first, color.FgGreen)
}

// updateGitignore adds matrixgate entries to .gitignore if not present.
func updateGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	var missing []string
	for _, entry := range gitignoreEntries {
		if !strings.Contains(existingContent, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# matrixgate\n")
	for _, entry := range missing {
		newContent.WriteString(entry + "\n")
	}
	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}
