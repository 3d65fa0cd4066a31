package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// RepositoryResolver resolves coordinates against local directories laid out
// either as a Maven repository (group/as/path/name/version/name-version.jar)
// or as flat directories of jars (name-version.jar).
//
// Repositories are searched in order. An exact coordinate resolves to the
// first hit; an under-specified coordinate (missing group or version) must
// match exactly one file across all repositories.
type RepositoryResolver struct {
	roots []string
}

// NewRepositoryResolver creates a resolver over the given repository roots.
// A leading "~/" is expanded to the user's home directory.
func NewRepositoryResolver(roots ...string) *RepositoryResolver {
	expanded := make([]string, 0, len(roots))
	for _, r := range roots {
		expanded = append(expanded, expandHome(r))
	}
	return &RepositoryResolver{roots: expanded}
}

// Roots returns the repository roots in search order.
func (r *RepositoryResolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// Resolve implements Resolver.
func (r *RepositoryResolver) Resolve(ctx context.Context, c Coordinate) (Resolved, error) {
	if err := ctx.Err(); err != nil {
		return Resolved{}, err
	}

	if !c.UnderSpecified() {
		for _, root := range r.roots {
			for _, candidate := range []string{
				filepath.Join(root, mavenDir(c), c.Version, c.FileName()),
				filepath.Join(root, c.FileName()),
			} {
				if fileExists(candidate) {
					return Describe(c, candidate)
				}
			}
		}
		return Resolved{}, NotFoundError(c)
	}

	matches, err := r.candidates(c)
	if err != nil {
		return Resolved{}, err
	}
	switch len(matches) {
	case 0:
		return Resolved{}, NotFoundError(c)
	case 1:
		resolved, err := Describe(c, matches[0])
		if err != nil {
			return Resolved{}, err
		}
		resolved.Coordinate.Version = versionFromFile(c.Name, matches[0])
		return resolved, nil
	default:
		return Resolved{}, AmbiguousError(c, matches)
	}
}

// candidates lists every file that could satisfy an under-specified coordinate.
func (r *RepositoryResolver) candidates(c Coordinate) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	add := func(pattern string) error {
		paths, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, p := range paths {
			if versionFromFile(c.Name, p) == "" {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				abs = p
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
		return nil
	}

	versionGlob := "*"
	if c.Version != "" && c.Version != "*" {
		versionGlob = c.Version
	}
	for _, root := range r.roots {
		if c.Group != "" {
			if err := add(filepath.Join(root, mavenDir(c), versionGlob, c.Name+"-"+versionGlob+".jar")); err != nil {
				return nil, err
			}
		}
		if err := add(filepath.Join(root, c.Name+"-"+versionGlob+".jar")); err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// Describe builds a Resolved for a file or exploded directory at path.
func Describe(c Coordinate, path string) (Resolved, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Resolved{}, fmt.Errorf("stat %s: %w", path, err)
	}

	res := Resolved{Coordinate: c, Path: path}
	if info.IsDir() {
		res.SizeBytes, res.Digest, err = digestDir(path)
	} else {
		res.SizeBytes = info.Size()
		res.Digest, err = digestFile(path)
	}
	if err != nil {
		return Resolved{}, err
	}
	return res, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestDir hashes the sorted entry listing of an exploded artifact.
func digestDir(root string) (int64, string, error) {
	var size int64
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		size += info.Size()
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(entries)
	h := sha256.New()
	for _, e := range entries {
		io.WriteString(h, e)
		h.Write([]byte{0})
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// versionFromFile extracts the version from ".../<name>-<version>.jar".
// It returns "" when the file belongs to a different artifact whose name
// merely shares the prefix (e.g. "core" vs "core-jvm").
func versionFromFile(name, path string) string {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, name+"-") || !strings.HasSuffix(base, ".jar") {
		return ""
	}
	v := strings.TrimSuffix(strings.TrimPrefix(base, name+"-"), ".jar")
	if v == "" || !unicode.IsDigit(rune(v[0])) {
		return ""
	}
	return v
}

func mavenDir(c Coordinate) string {
	return filepath.Join(filepath.Join(strings.Split(c.Group, ".")...), c.Name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

var _ Resolver = (*RepositoryResolver)(nil)
