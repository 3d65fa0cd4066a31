// Package jvm launches a verification run as a java process built from a
// launch context.
package jvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/matrixgate/internal/attach"
	"github.com/ShayCichocki/matrixgate/internal/exec"
	"github.com/ShayCichocki/matrixgate/internal/matrix"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

// Config controls how the java process is assembled.
type Config struct {
	// Java is the launcher used when no JDK home matches the bytecode level.
	Java string
	// JavaHomes maps a major Java version ("8", "11", ...) to a JDK home.
	// The legacy spelling ("1.8") is accepted too.
	JavaHomes map[string]string
	// MainClass is the test launcher entry point.
	MainClass string
	// Args follow the main class.
	Args []string
	// FailureExitCodes are exit codes meaning "tests ran and failed". Any
	// other non-zero code is an infrastructure error.
	FailureExitCodes []int
	// OutputTailLines is how many trailing output lines become diagnostics.
	OutputTailLines int
	// WorkDir is the process working directory.
	WorkDir string
}

// Executor runs environments as java processes.
type Executor struct {
	runner exec.CommandRunner
	cfg    Config
	logger *zap.Logger
}

// NewExecutor creates an Executor. A nil logger disables logging.
func NewExecutor(runner exec.CommandRunner, cfg Config, logger *zap.Logger) *Executor {
	if cfg.Java == "" {
		cfg.Java = "java"
	}
	if len(cfg.FailureExitCodes) == 0 {
		cfg.FailureExitCodes = []int{1}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{runner: runner, cfg: cfg, logger: logger}
}

// Command builds the process description for lc.
func (e *Executor) Command(lc attach.LaunchContext) exec.Command {
	args := slices.Clone(lc.JVMFlags)
	if len(lc.ModulePath) > 0 {
		args = append(args,
			"--module-path", strings.Join(lc.ModulePath, string(os.PathListSeparator)),
			"--add-modules", "ALL-MODULE-PATH")
	}
	if len(lc.Classpath) > 0 {
		args = append(args, "-cp", strings.Join(lc.Classpath, string(os.PathListSeparator)))
	}
	if e.cfg.MainClass != "" {
		args = append(args, e.cfg.MainClass)
	}
	args = append(args, e.cfg.Args...)

	env := make([]string, 0, len(lc.Env))
	for k, v := range lc.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	return exec.Command{
		Dir:  e.cfg.WorkDir,
		Name: e.javaFor(lc),
		Args: args,
		Env:  env,
	}
}

func (e *Executor) javaFor(lc attach.LaunchContext) string {
	level := lc.Bytecode.String()
	for _, key := range []string{strings.TrimPrefix(level, "1."), level} {
		if home := e.cfg.JavaHomes[key]; home != "" {
			return filepath.Join(home, "bin", "java")
		}
	}
	return e.cfg.Java
}

// Execute runs the environment and classifies the exit status.
func (e *Executor) Execute(ctx context.Context, environmentID string, lc attach.LaunchContext) (matrix.Result, error) {
	cmd := e.Command(lc)
	e.logger.Debug("launching java",
		zap.String("environment", environmentID),
		zap.String("java", cmd.Name),
		zap.Strings("args", cmd.Args))

	res, err := e.runner.Execute(ctx, cmd)
	if err != nil {
		return matrix.Result{}, err
	}

	tail := Tail(res.Output, e.cfg.OutputTailLines)
	switch {
	case res.ExitCode == 0:
		return matrix.Result{Status: report.Passed}, nil
	case slices.Contains(e.cfg.FailureExitCodes, res.ExitCode):
		details := append([]string{fmt.Sprintf("tests failed (exit code %d)", res.ExitCode)}, tail...)
		return matrix.Result{Status: report.Failed, Details: details}, nil
	default:
		details := append([]string{fmt.Sprintf("java exited with code %d", res.ExitCode)}, tail...)
		return matrix.Result{Status: report.Errored, Details: details}, nil
	}
}

// Tail returns the last n non-blank lines of output.
func Tail(output []byte, n int) []string {
	if n <= 0 {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(string(output), "\n") {
		l = strings.TrimRight(l, "\r\t ")
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

var _ matrix.Executor = (*Executor)(nil)
