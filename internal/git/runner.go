package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/matrixgate/internal/exec"
)

// ExecRunner implements Runner by invoking the git binary.
type ExecRunner struct {
	repoPath string
	cmd      exec.CommandRunner
}

// NewRunner creates a git runner for the repository at repoPath.
func NewRunner(repoPath string, cmd exec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: cmd}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.cmd.Run(ctx, r.repoPath, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Head returns the full hash of HEAD.
func (r *ExecRunner) Head(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges(ctx context.Context) (bool, error) {
	status, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// Revision collects the commit, branch and dirty state of the working tree.
// It fails when repoPath is not inside a git repository.
func (r *ExecRunner) Revision(ctx context.Context) (Revision, error) {
	commit, err := r.Head(ctx)
	if err != nil {
		return Revision{}, err
	}
	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return Revision{}, err
	}
	dirty, err := r.HasChanges(ctx)
	if err != nil {
		return Revision{}, err
	}
	return Revision{Commit: commit, Branch: branch, Dirty: dirty}, nil
}

var _ Runner = (*ExecRunner)(nil)
