// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// Command describes one process launch.
type Command struct {
	Dir  string
	Name string
	Args []string
	// Env entries ("KEY=value") are added on top of the current process environment.
	Env []string
}

// Result is what a finished process left behind.
type Result struct {
	// Output is the combined stdout/stderr.
	Output []byte
	// ExitCode is the process exit status, or -1 if it did not exit normally.
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Execute runs cmd to completion. A non-zero exit status is reported in
	// Result.ExitCode, not as an error. The error is non-nil only when the
	// process could not be started or was terminated because ctx ended.
	Execute(ctx context.Context, cmd Command) (Result, error)
}
