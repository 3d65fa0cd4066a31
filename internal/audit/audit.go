// Package audit statically inspects artifact containers for symbols that must
// not leak into a published artifact and for resources that must survive
// packaging.
package audit

import (
	"archive/zip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/environment"
)

// ViolationKind distinguishes the two audit checks.
type ViolationKind int

const (
	// ForbiddenSymbol means an entry starts with a forbidden prefix.
	ForbiddenSymbol ViolationKind = iota
	// MissingResource means a required resource path is absent.
	MissingResource
)

// Violation is one offending entry.
type Violation struct {
	Kind ViolationKind
	// Artifact is the file name of the container the entry belongs to.
	Artifact string
	// Entry is the offending container path, or the missing resource path.
	Entry string
}

// String renders the violation as a diagnostic line.
func (v Violation) String() string {
	switch v.Kind {
	case ForbiddenSymbol:
		return "forbidden symbol: " + v.Entry
	case MissingResource:
		return "missing resource: " + v.Entry
	default:
		return "violation: " + v.Entry
	}
}

// Auditor checks resolved artifacts against audit rules. It keeps no state
// between calls: every environment's rules are evaluated afresh.
type Auditor struct{}

// New creates an Auditor.
func New() *Auditor {
	return &Auditor{}
}

// Audit lists the entries of res and checks them against rules. It returns
// every violation rather than stopping at the first. An error means the
// container could not be read, not that the audit failed.
func (a *Auditor) Audit(res artifact.Resolved, rules environment.AuditRules) ([]Violation, error) {
	entries, err := ListEntries(res.Path)
	if err != nil {
		return nil, err
	}
	return Check(filepath.Base(res.Path), entries, rules), nil
}

// AuditEnvironment audits every resolved artifact the rules apply to.
// Forbidden prefixes are checked per artifact; a required resource is
// satisfied when any targeted artifact contains it. Violations are returned
// in artifact order, forbidden symbols first.
func (a *Auditor) AuditEnvironment(ctx context.Context, resolved []artifact.Resolved, rules environment.AuditRules) ([]Violation, error) {
	forbidOnly := environment.AuditRules{ForbiddenPrefixes: rules.ForbiddenPrefixes}

	var (
		violations []Violation
		targeted   []string
		present    = make(map[string]bool)
	)
	for _, res := range resolved {
		if !rules.Applies(res.Coordinate.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := ListEntries(res.Path)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(res.Path)
		targeted = append(targeted, name)
		for _, e := range entries {
			present[e] = true
		}
		violations = append(violations, Check(name, entries, forbidOnly)...)
	}

	for _, r := range rules.RequiredResources {
		r = strings.TrimPrefix(filepath.ToSlash(r), "/")
		if !present[r] {
			violations = append(violations, Violation{Kind: MissingResource, Artifact: strings.Join(targeted, ","), Entry: r})
		}
	}
	return violations, nil
}

// Check evaluates rules against an already listed set of entries.
func Check(name string, entries []string, rules environment.AuditRules) []Violation {
	prefixes := normalizePrefixes(rules.ForbiddenPrefixes)

	var violations []Violation
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e] = true
		symbol := unversioned(e)
		for _, p := range prefixes {
			if strings.HasPrefix(symbol, p) {
				violations = append(violations, Violation{Kind: ForbiddenSymbol, Artifact: name, Entry: e})
				break
			}
		}
	}

	for _, r := range rules.RequiredResources {
		r = strings.TrimPrefix(filepath.ToSlash(r), "/")
		if !present[r] {
			violations = append(violations, Violation{Kind: MissingResource, Artifact: name, Entry: r})
		}
	}
	return violations
}

// unversioned strips the META-INF/versions/<n>/ prefix of multi-release jars.
func unversioned(entry string) string {
	const mr = "META-INF/versions/"
	if !strings.HasPrefix(entry, mr) {
		return entry
	}
	rest := entry[len(mr):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return entry
}

// normalizePrefixes turns dotted package prefixes into container paths.
// "kotlinx.atomicfu" matches "kotlinx/atomicfu/AtomicFU.class". The dotted
// form is kept as well, so file names such as "module-info.class" still match.
func normalizePrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimPrefix(filepath.ToSlash(p), "/")
		if p == "" {
			continue
		}
		out = append(out, p)
		if !strings.Contains(p, "/") && strings.Contains(p, ".") {
			out = append(out, strings.ReplaceAll(p, ".", "/"))
		}
	}
	return out
}

// ListEntries returns the sorted file entry names of a jar/zip container or
// an exploded directory, using forward slashes.
func ListEntries(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return listDir(path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	defer zr.Close()

	entries := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries = append(entries, f.Name)
	}
	sort.Strings(entries)
	return entries, nil
}

func listDir(root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	sort.Strings(entries)
	return entries, nil
}
