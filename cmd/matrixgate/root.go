package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/matrixgate/internal/config"
	"github.com/ShayCichocki/matrixgate/internal/environment"
	"github.com/ShayCichocki/matrixgate/internal/exec"
	"github.com/ShayCichocki/matrixgate/internal/jvm"
	"github.com/ShayCichocki/matrixgate/internal/matrix"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

// exitError carries a process exit code out of a command. A nil err means
// the command already reported everything it had to say.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// configError marks err as a harness or configuration problem (exit code 2).
func configError(err error) error {
	return &exitError{code: report.ExitConfiguration, err: err}
}

// cli holds the global flags and collaborators shared by every command.
type cli struct {
	configFile string
	matrixFile string
	verbose    bool

	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer

	// newExecutor builds the test executor for a run.
	newExecutor func(cfg *config.Config, logger *zap.Logger) matrix.Executor
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		stdout:      stdout,
		stderr:      stderr,
		newExecutor: javaExecutor,
	}
}

func javaExecutor(cfg *config.Config, logger *zap.Logger) matrix.Executor {
	return jvm.NewExecutor(exec.NewRunner(), jvm.Config{
		Java:             cfg.Executor.Java,
		JavaHomes:        cfg.Executor.JavaHomes,
		MainClass:        cfg.Executor.MainClass,
		Args:             cfg.Executor.Args,
		FailureExitCodes: cfg.Executor.FailureExitCodes,
		OutputTailLines:  cfg.Executor.OutputTailLines,
		WorkDir:          cfg.Executor.WorkDir,
	}, logger)
}

// rootCmd builds the command tree. args are the raw command-line arguments,
// peeked at to register one subcommand per declared environment.
func (c *cli) rootCmd(args []string) *cobra.Command {
	root := &cobra.Command{
		Use:   "matrixgate",
		Short: "Release verification matrix for JVM artifacts",
		Long: `matrixgate verifies a release against a declared matrix of environments.

Each environment resolves its artifacts, audits them for forbidden symbols and
required resources, wires an instrumentation agent if asked to, and runs the
test launcher. The aggregate report gates the release:

  exit 0  every environment passed
  exit 1  one or more environments failed or errored
  exit 2  harness or configuration error (e.g. AgentAmbiguous)

Every declared environment is also available as its own subcommand.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "config file (default: user config merged with .matrixgate.yaml)")
	pf.StringVar(&c.matrixFile, "matrix", "", "matrix file (overrides matrix.file)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.newRunCmd(),
		c.newListCmd(),
		c.newStatusCmd(),
		c.newCleanupCmd(),
		c.newAuditCmd(),
		c.newConfigCmd(),
		c.newInitCmd(),
		c.newVersionCmd(),
	)
	c.addEnvironmentCmds(root, args)
	return root
}

func (c *cli) initLogger() error {
	if c.logger != nil {
		return nil
	}
	cfg := zap.NewProductionConfig()
	if c.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger
	return nil
}

// loadConfig loads the layered config, or only --config when given, and
// applies the --matrix override.
func (c *cli) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configFile != "" {
		cfg, err = config.LoadFromPath(c.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if c.matrixFile != "" {
		cfg.Matrix.File = c.matrixFile
	}
	return cfg, nil
}

// addEnvironmentCmds registers a subcommand per environment of the matrix
// the arguments point at. A missing or broken matrix adds nothing; the
// error resurfaces when a command actually loads it.
func (c *cli) addEnvironmentCmds(root *cobra.Command, args []string) {
	peek := pflag.NewFlagSet("peek", pflag.ContinueOnError)
	peek.ParseErrorsWhitelist.UnknownFlags = true
	peek.SetOutput(io.Discard)
	peek.Usage = func() {}
	configFile := peek.String("config", "", "")
	matrixFile := peek.String("matrix", "", "")
	_ = peek.Parse(args)

	probe := &cli{configFile: *configFile, matrixFile: *matrixFile}
	cfg, err := probe.loadConfig()
	if err != nil {
		return
	}
	m, err := environment.LoadMatrix(cfg.Matrix.File)
	if err != nil {
		return
	}

	var taken []string
	for _, cmd := range root.Commands() {
		taken = append(taken, cmd.Name())
	}

	group := &cobra.Group{ID: "environments", Title: "Environments:"}
	grouped := false
	for _, spec := range m.Registry.All() {
		if slices.Contains(taken, spec.ID) {
			continue
		}
		if !grouped {
			root.AddGroup(group)
			grouped = true
		}
		root.AddCommand(c.newEnvironmentCmd(spec))
	}
}
