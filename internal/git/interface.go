// Package git reads the revision of the working tree a matrix run verified.
package git

import "context"

// Revision identifies the checkout a run was made from.
type Revision struct {
	Commit string
	Branch string
	// Dirty reports uncommitted changes in the working tree.
	Dirty bool
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Commit) > 7 {
		return r.Commit[:7]
	}
	return r.Commit
}

// String formats the revision as "abc1234 on main", with a "(dirty)" suffix
// when the tree has uncommitted changes.
func (r Revision) String() string {
	if r.Commit == "" {
		return ""
	}
	s := r.Short()
	if r.Branch != "" {
		s += " on " + r.Branch
	}
	if r.Dirty {
		s += " (dirty)"
	}
	return s
}

// Runner defines the git queries matrixgate needs.
type Runner interface {
	// Head returns the full hash of HEAD.
	Head(ctx context.Context) (string, error)

	// CurrentBranch returns the name of the current branch, or "HEAD" when detached.
	CurrentBranch(ctx context.Context) (string, error)

	// HasChanges returns true if there are uncommitted changes.
	HasChanges(ctx context.Context) (bool, error)

	// Revision collects Head, CurrentBranch and HasChanges.
	Revision(ctx context.Context) (Revision, error)
}
