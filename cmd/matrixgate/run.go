package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/config"
	"github.com/ShayCichocki/matrixgate/internal/environment"
	"github.com/ShayCichocki/matrixgate/internal/exec"
	"github.com/ShayCichocki/matrixgate/internal/git"
	"github.com/ShayCichocki/matrixgate/internal/matrix"
	"github.com/ShayCichocki/matrixgate/internal/report"
	"github.com/ShayCichocki/matrixgate/internal/state"
	"github.com/ShayCichocki/matrixgate/internal/tui"
	"github.com/ShayCichocki/matrixgate/internal/watch"
)

// eventBuffer is the progress event buffer used for the TUI.
const eventBuffer = 256

const revisionTimeout = 5 * time.Second

// runOptions are the effective settings of one `run` invocation.
type runOptions struct {
	environments []string
	timeout      time.Duration
	parallel     int
	failFast     bool
	reportLog    string
	tui          bool
	watch        bool
}

func runOptionsFromConfig(cfg *config.Config) runOptions {
	return runOptions{
		timeout:   cfg.Matrix.Timeout,
		parallel:  cfg.Matrix.Parallelism,
		failFast:  cfg.Matrix.FailFast,
		reportLog: cfg.Report.LogFile,
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	var (
		environments []string
		timeout      time.Duration
		parallel     int
		failFast     bool
		reportLog    string
		useTUI       bool
		watchMode    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the verification matrix",
		Long: `Run every declared environment, or the subset named with --environment,
and print the aggregate report.

Environments are isolated from each other: a configuration error, a missing
artifact or a crashed test process only affects the environment it happened
in. The exit code is non-zero iff the overall status is failed.

Examples:
  matrixgate run
  matrixgate run --environment=debugAgentTest --environment=mavenTest
  matrixgate run --parallel=4 --timeout=5m --fail-fast
  matrixgate run --report-log=matrix.jsonl
  matrixgate run --tui --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return configError(err)
			}

			opts := runOptionsFromConfig(cfg)
			opts.environments = environments
			opts.tui = useTUI
			opts.watch = watchMode
			flags := cmd.Flags()
			if flags.Changed("timeout") {
				opts.timeout = timeout
			}
			if flags.Changed("parallel") {
				opts.parallel = parallel
			}
			if flags.Changed("fail-fast") {
				opts.failFast = failFast
			}
			if flags.Changed("report-log") {
				opts.reportLog = reportLog
			}
			return c.runMatrix(cmd.Context(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&environments, "environment", nil, "run only this environment (repeatable)")
	f.DurationVar(&timeout, "timeout", 0, "per-environment timeout (default matrix.timeout)")
	f.IntVar(&parallel, "parallel", 0, "environments to run at once (default matrix.parallelism)")
	f.BoolVar(&failFast, "fail-fast", false, "stop starting environments after the first failure")
	f.StringVar(&reportLog, "report-log", "", "write one JSON record per outcome to this file")
	f.BoolVar(&useTUI, "tui", false, "show live progress")
	f.BoolVar(&watchMode, "watch", false, "re-run when repositories or classpath directories change")
	return cmd
}

// newEnvironmentCmd runs a single declared environment.
func (c *cli) newEnvironmentCmd(spec environment.Spec) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     spec.ID,
		Short:   "Run only the " + spec.ID + " environment",
		Long:    spec.ID + ": " + environment.Describe(spec),
		GroupID: "environments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return configError(err)
			}
			opts := runOptionsFromConfig(cfg)
			opts.environments = []string{spec.ID}
			if cmd.Flags().Changed("timeout") {
				opts.timeout = timeout
			}
			return c.runMatrix(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "timeout (default matrix.timeout)")
	return cmd
}

// runMatrix loads the matrix, runs the selection and maps the report to an
// exit code. In watch mode it keeps re-running until ctx is cancelled.
func (c *cli) runMatrix(ctx context.Context, cfg *config.Config, opts runOptions) error {
	m, err := environment.LoadMatrix(cfg.Matrix.File)
	if err != nil {
		return configError(err)
	}
	reg := m.Registry
	if len(opts.environments) > 0 {
		if reg, err = reg.Subset(opts.environments); err != nil {
			return configError(err)
		}
	}

	rep, err := c.runRegistry(ctx, cfg, reg, opts)
	if err != nil {
		return err
	}
	if opts.watch {
		if rep, err = c.watchLoop(ctx, cfg, reg, opts, rep); err != nil {
			return err
		}
	}
	if code := rep.ExitCode(); code != report.ExitPassed {
		return &exitError{code: code}
	}
	return nil
}

// runRegistry performs one run of reg and publishes the report to the
// terminal, the report log and the run history.
func (c *cli) runRegistry(ctx context.Context, cfg *config.Config, reg *environment.Registry, opts runOptions) (report.Report, error) {
	resolver := artifact.NewCachingResolver(artifact.NewRepositoryResolver(cfg.Resolver.Repositories...))

	runnerOpts := []matrix.Option{
		matrix.WithParallelism(opts.parallel),
		matrix.WithTimeout(opts.timeout),
		matrix.WithFailFast(opts.failFast),
		matrix.WithLogger(c.logger),
	}
	var emitter *matrix.EventEmitter
	if opts.tui {
		emitter = matrix.NewEventEmitter(eventBuffer, c.logger)
		runnerOpts = append(runnerOpts, matrix.WithEvents(emitter))
	}

	runner, err := matrix.NewRunner(matrix.RequiredConfig{
		Resolver: resolver,
		Executor: c.newExecutor(cfg, c.logger),
	}, runnerOpts...)
	if err != nil {
		return report.Report{}, configError(err)
	}

	var rep report.Report
	if opts.tui {
		if rep, err = c.runWithTUI(ctx, runner, reg, emitter); err != nil {
			return rep, err
		}
	} else {
		rep = runner.Run(ctx, reg)
	}

	if err := report.Render(c.stdout, rep); err != nil {
		return rep, fmt.Errorf("render report: %w", err)
	}
	if opts.reportLog != "" {
		if err := report.WriteLogFile(opts.reportLog, rep); err != nil {
			return rep, configError(err)
		}
		c.logger.Debug("report log written", zap.String("path", opts.reportLog))
	}
	c.recordHistory(ctx, cfg, rep)
	return rep, nil
}

// runWithTUI runs the matrix behind the progress display. Quitting the
// display early cancels the run.
func (c *cli) runWithTUI(ctx context.Context, runner *matrix.Runner, reg *environment.Registry, emitter *matrix.EventEmitter) (report.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program, app := tui.NewProgressProgram(emitter.Events())
	done := make(chan report.Report, 1)
	go func() {
		rep := runner.Run(ctx, reg)
		emitter.Close()
		done <- rep
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return report.Report{}, fmt.Errorf("progress display: %w", err)
	}
	if app.Cancelled() {
		cancel()
	}
	return <-done, nil
}

// recordHistory stores rep in the run history. History problems never
// change the outcome of a run.
func (c *cli) recordHistory(ctx context.Context, cfg *config.Config, rep report.Report) {
	if !cfg.History.Enabled {
		return
	}
	db, err := openHistory(cfg)
	if err != nil {
		c.logger.Warn("run history unavailable", zap.Error(err))
		return
	}
	defer db.Close()

	if err := db.SaveReport(rep); err != nil {
		c.logger.Warn("failed to record run", zap.String("run_id", rep.RunID), zap.Error(err))
		return
	}
	c.recordRevision(ctx, db, rep.RunID)
	if cfg.History.Retention > 0 {
		purged, err := db.PurgeOldRuns(cfg.History.Retention)
		if err != nil {
			c.logger.Warn("failed to purge old runs", zap.Error(err))
			return
		}
		if purged > 0 {
			c.logger.Debug("purged old runs", zap.Int64("runs", purged))
		}
	}
}

// recordRevision attaches the git revision of the working directory to a
// stored run. Runs outside a repository keep an empty revision.
func (c *cli) recordRevision(ctx context.Context, db *state.DB, runID string) {
	ctx, cancel := context.WithTimeout(ctx, revisionTimeout)
	defer cancel()

	rev, err := git.NewRunner(".", exec.NewRunner()).Revision(ctx)
	if err != nil {
		c.logger.Debug("no git revision", zap.Error(err))
		return
	}
	if err := db.SetRevision(runID, rev.Commit, rev.Branch, rev.Dirty); err != nil {
		c.logger.Warn("failed to record revision", zap.String("run_id", runID), zap.Error(err))
	}
}

func openHistory(cfg *config.Config) (*state.DB, error) {
	db, err := state.OpenDriver(cfg.History.Driver, cfg.History.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return db, nil
}

// watchPaths returns the resolver repositories and the extra classpath
// entries of the selected environments.
func watchPaths(cfg *config.Config, reg *environment.Registry) []string {
	paths := artifact.NewRepositoryResolver(cfg.Resolver.Repositories...).Roots()
	for _, spec := range reg.All() {
		paths = append(paths, spec.Classpath...)
	}
	return paths
}

func (c *cli) watchLoop(ctx context.Context, cfg *config.Config, reg *environment.Registry, opts runOptions, last report.Report) (report.Report, error) {
	w, err := watch.New(watchPaths(cfg, reg), cfg.Watch.Debounce, c.logger)
	if err != nil {
		return last, configError(fmt.Errorf("watch: %w", err))
	}
	defer w.Close()

	fmt.Fprintf(c.stdout, "\nWatching %d path(s) for changes. Press Ctrl+C to stop.\n", len(w.Roots()))
	err = w.Run(ctx, func(ctx context.Context, changed []string) {
		fmt.Fprintf(c.stdout, "\n%d change(s) detected, re-running matrix\n", len(changed))
		rep, err := c.runRegistry(ctx, cfg, reg, opts)
		if err != nil {
			c.logger.Warn("re-run failed", zap.Error(err))
			return
		}
		last = rep
	})
	return last, err
}
