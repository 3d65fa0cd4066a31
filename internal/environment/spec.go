// Package environment declares the verification environments of a release
// matrix and the registry that fixes their execution order.
package environment

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
)

// AttachmentMode is how an instrumentation agent is wired into a run.
type AttachmentMode int

const (
	// AttachNone runs without an agent.
	AttachNone AttachmentMode = iota
	// AttachStatic passes the agent with -javaagent at launch.
	AttachStatic
	// AttachDynamic relies on the test process attaching the agent to itself.
	AttachDynamic
)

// String returns the matrix-file spelling of the mode.
func (m AttachmentMode) String() string {
	switch m {
	case AttachNone:
		return "none"
	case AttachStatic:
		return "static"
	case AttachDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("AttachmentMode(%d)", int(m))
	}
}

// ParseAttachmentMode parses "none", "static" or "dynamic". Empty means none.
func ParseAttachmentMode(s string) (AttachmentMode, error) {
	switch s {
	case "", "none":
		return AttachNone, nil
	case "static":
		return AttachStatic, nil
	case "dynamic":
		return AttachDynamic, nil
	default:
		return AttachNone, fmt.Errorf("unknown attachment mode %q", s)
	}
}

// BytecodeLevel is the JVM bytecode target an environment is verified at.
type BytecodeLevel int

const (
	Bytecode6 BytecodeLevel = iota
	Bytecode8
	Bytecode9
	Bytecode11
	Bytecode17
	Bytecode21
)

// DefaultBytecodeLevel is used when an environment does not declare one.
const DefaultBytecodeLevel = Bytecode8

var bytecodeNames = map[BytecodeLevel]string{
	Bytecode6:  "1.6",
	Bytecode8:  "1.8",
	Bytecode9:  "9",
	Bytecode11: "11",
	Bytecode17: "17",
	Bytecode21: "21",
}

// String returns the conventional spelling, e.g. "1.8" or "11".
func (l BytecodeLevel) String() string {
	if s, ok := bytecodeNames[l]; ok {
		return s
	}
	return fmt.Sprintf("BytecodeLevel(%d)", int(l))
}

// AtLeast reports whether l is the same as or newer than other.
func (l BytecodeLevel) AtLeast(other BytecodeLevel) bool {
	return l >= other
}

// ParseBytecodeLevel accepts "1.6", "6", "1.8", "8", "9", "11", "17" and "21".
// Empty means DefaultBytecodeLevel.
func ParseBytecodeLevel(s string) (BytecodeLevel, error) {
	switch s {
	case "":
		return DefaultBytecodeLevel, nil
	case "6":
		return Bytecode6, nil
	case "8":
		return Bytecode8, nil
	}
	for l, name := range bytecodeNames {
		if name == s {
			return l, nil
		}
	}
	return DefaultBytecodeLevel, fmt.Errorf("unknown bytecode level %q", s)
}

// ClasspathMode selects classpath or JPMS module-path wiring.
type ClasspathMode int

const (
	Classpath ClasspathMode = iota
	ModulePath
)

// String returns the matrix-file spelling of the mode.
func (m ClasspathMode) String() string {
	if m == ModulePath {
		return "module_path"
	}
	return "classpath"
}

// AgentSelector names the artifact that provides the agent jar.
type AgentSelector struct {
	Name    string
	Version string
}

// AuditRules are the static checks run against resolved artifacts before execution.
type AuditRules struct {
	ForbiddenPrefixes []string
	RequiredResources []string
	// Artifacts restricts the audit to resolved artifacts with these names.
	// Empty means every resolved artifact.
	Artifacts []string
}

// Empty reports whether the rules check nothing.
func (r AuditRules) Empty() bool {
	return len(r.ForbiddenPrefixes) == 0 && len(r.RequiredResources) == 0
}

// Applies reports whether the rules target an artifact with the given name.
func (r AuditRules) Applies(name string) bool {
	return len(r.Artifacts) == 0 || slices.Contains(r.Artifacts, name)
}

// Spec describes one verification environment. A Spec is a value: the
// registry stores and hands out deep copies, so a declared environment
// cannot be changed after registration.
type Spec struct {
	ID            string
	Artifacts     []artifact.Coordinate
	Attachment    AttachmentMode
	Agent         *AgentSelector
	JVMFlags      []string
	Bytecode      BytecodeLevel
	ClasspathMode ClasspathMode
	// Classpath holds extra entries, typically compiled test classes,
	// appended after the resolved artifacts.
	Classpath []string
	Env       map[string]string
	Audit     *AuditRules
}

// Validate checks the invariants that do not depend on other environments.
func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSpec)
	}
	if len(s.Artifacts) == 0 {
		return fmt.Errorf("%w: %s: no artifacts", ErrInvalidSpec, s.ID)
	}
	if s.Attachment != AttachNone && (s.Agent == nil || s.Agent.Name == "") {
		return fmt.Errorf("%w: %s: attachment %s requires an agent artifact name", ErrInvalidSpec, s.ID, s.Attachment)
	}
	return nil
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	out := s
	out.Artifacts = slices.Clone(s.Artifacts)
	out.JVMFlags = slices.Clone(s.JVMFlags)
	out.Classpath = slices.Clone(s.Classpath)
	out.Env = maps.Clone(s.Env)
	if s.Agent != nil {
		a := *s.Agent
		out.Agent = &a
	}
	if s.Audit != nil {
		a := AuditRules{
			ForbiddenPrefixes: slices.Clone(s.Audit.ForbiddenPrefixes),
			RequiredResources: slices.Clone(s.Audit.RequiredResources),
			Artifacts:         slices.Clone(s.Audit.Artifacts),
		}
		out.Audit = &a
	}
	return out
}
