// Package artifact defines artifact coordinates and the resolution contract
// the matrix runner consumes.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolution errors. Resolvers wrap these so callers can match with errors.Is.
var (
	// ErrNotFound means no artifact matches the coordinate.
	ErrNotFound = errors.New("artifact not found")
	// ErrAmbiguous means more than one artifact matches an under-specified coordinate.
	ErrAmbiguous = errors.New("artifact ambiguous")
)

// Coordinate identifies a published artifact.
type Coordinate struct {
	Group   string
	Name    string
	Version string
}

// ParseCoordinate parses "group:name[:version]".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch len(parts) {
	case 2:
		c := Coordinate{Group: parts[0], Name: parts[1]}
		return c, c.validate()
	case 3:
		c := Coordinate{Group: parts[0], Name: parts[1], Version: parts[2]}
		return c, c.validate()
	default:
		return Coordinate{}, fmt.Errorf("invalid coordinate %q: want group:name[:version]", s)
	}
}

func (c Coordinate) validate() error {
	if c.Name == "" {
		return fmt.Errorf("invalid coordinate %q: empty name", c.String())
	}
	return nil
}

// String returns the coordinate in group:name:version form.
func (c Coordinate) String() string {
	if c.Version == "" {
		return c.Group + ":" + c.Name
	}
	return c.Group + ":" + c.Name + ":" + c.Version
}

// FileName returns the conventional jar file name for the coordinate.
func (c Coordinate) FileName() string {
	return c.Name + "-" + c.Version + ".jar"
}

// UnderSpecified reports whether the coordinate leaves room for more than one match.
func (c Coordinate) UnderSpecified() bool {
	return c.Group == "" || c.Version == "" || c.Version == "*"
}

// Resolved is an artifact located on the local filesystem.
// It is scoped to a single environment run and never persisted.
type Resolved struct {
	Coordinate Coordinate
	Path       string
	SizeBytes  int64
	// Digest is the hex SHA-256 of the file contents, or of the sorted entry
	// listing for exploded directories.
	Digest string
}

// Resolver locates artifacts by coordinate. Implementations must be safe for
// concurrent use; the runner may resolve the same coordinate from several
// environments at once.
type Resolver interface {
	Resolve(ctx context.Context, c Coordinate) (Resolved, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, c Coordinate) (Resolved, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, c Coordinate) (Resolved, error) {
	return f(ctx, c)
}

// NotFoundError returns an error wrapping ErrNotFound for c.
func NotFoundError(c Coordinate) error {
	return fmt.Errorf("%s: %w", c, ErrNotFound)
}

// AmbiguousError returns an error wrapping ErrAmbiguous listing the candidates.
func AmbiguousError(c Coordinate, candidates []string) error {
	return fmt.Errorf("%s: %w: %d candidates (%s)", c, ErrAmbiguous, len(candidates), strings.Join(candidates, ", "))
}
