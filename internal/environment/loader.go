package environment

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
)

// Variables injected into every environment's process environment.
const (
	EnvVersion     = "MATRIX_VERSION"
	EnvEnvironment = "MATRIX_ENVIRONMENT"
)

// Matrix is a loaded matrix file: the release version under test and the
// sealed registry of its environments.
type Matrix struct {
	Version  string
	Registry *Registry
}

// matrixFile represents the matrix.yaml file structure.
type matrixFile struct {
	Version      string     `yaml:"version"`
	Environments []envEntry `yaml:"environments"`
}

type envEntry struct {
	ID         string            `yaml:"id"`
	Artifacts  []coordEntry      `yaml:"artifacts"`
	Attachment string            `yaml:"attachment"`
	Agent      *agentEntry       `yaml:"agent"`
	JVMFlags   []string          `yaml:"jvm_flags"`
	Bytecode   string            `yaml:"bytecode"`
	ModulePath bool              `yaml:"module_path"`
	Classpath  []string          `yaml:"classpath"`
	Env        map[string]string `yaml:"env"`
	Audit      *auditEntry       `yaml:"audit"`
}

type auditEntry struct {
	ForbiddenPrefixes []string `yaml:"forbidden_prefixes"`
	RequiredResources []string `yaml:"required_resources"`
	Artifacts         []string `yaml:"artifacts"`
}

// coordEntry accepts either "group:name[:version]" or a mapping.
type coordEntry struct {
	Group    string `yaml:"group"`
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Override bool   `yaml:"override"`
}

func (c *coordEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := artifact.ParseCoordinate(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*c = coordEntry{Group: parsed.Group, Name: parsed.Name, Version: parsed.Version}
		return nil
	case yaml.MappingNode:
		type raw coordEntry
		var r raw
		if err := node.Decode(&r); err != nil {
			return err
		}
		*c = coordEntry(r)
		return nil
	default:
		return fmt.Errorf("line %d: artifact must be a string or a mapping", node.Line)
	}
}

// agentEntry accepts either a bare artifact name or {name, version}.
type agentEntry struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

func (a *agentEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		a.Name = node.Value
		return nil
	}
	type raw agentEntry
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*a = agentEntry(r)
	return nil
}

// LoadMatrix reads and parses a matrix file.
func LoadMatrix(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix %s: %w", path, err)
	}
	m, err := ParseMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("matrix %s: %w", path, err)
	}
	return m, nil
}

// ParseMatrix parses matrix YAML, validates every environment and returns a
// sealed registry. Duplicate ids fail here, before anything runs.
func ParseMatrix(data []byte) (*Matrix, error) {
	var f matrixFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse matrix YAML: %w", err)
	}

	reg := NewRegistry()
	for _, e := range f.Environments {
		spec, err := e.toSpec(f.Version)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}
	reg.Seal()

	return &Matrix{Version: f.Version, Registry: reg}, nil
}

func (e envEntry) toSpec(version string) (Spec, error) {
	spec := Spec{
		ID:        e.ID,
		JVMFlags:  e.JVMFlags,
		Classpath: e.Classpath,
	}

	var err error
	if spec.Attachment, err = ParseAttachmentMode(e.Attachment); err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, e.ID, err)
	}
	if spec.Bytecode, err = ParseBytecodeLevel(e.Bytecode); err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, e.ID, err)
	}
	if e.ModulePath {
		spec.ClasspathMode = ModulePath
	}

	for _, c := range e.Artifacts {
		coord := artifact.Coordinate{Group: c.Group, Name: c.Name, Version: c.Version}
		switch {
		case coord.Version == "":
			coord.Version = version
		case version != "" && coord.Version != version && !c.Override:
			return Spec{}, fmt.Errorf("%w: %s: %s pins version %s but the matrix version is %s (set override: true)",
				ErrInvalidSpec, e.ID, coord.Name, coord.Version, version)
		}
		spec.Artifacts = append(spec.Artifacts, coord)
	}

	if e.Agent != nil {
		agent := AgentSelector{Name: e.Agent.Name, Version: e.Agent.Version}
		if agent.Version == "" {
			agent.Version = version
		}
		if agent.Version == "" {
			return Spec{}, fmt.Errorf("%w: %s: agent %s has no version and the matrix declares none", ErrInvalidSpec, e.ID, agent.Name)
		}
		spec.Agent = &agent
	}

	if e.Audit != nil {
		spec.Audit = &AuditRules{
			ForbiddenPrefixes: e.Audit.ForbiddenPrefixes,
			RequiredResources: e.Audit.RequiredResources,
			Artifacts:         e.Audit.Artifacts,
		}
	}

	spec.Env = make(map[string]string, len(e.Env)+2)
	expand := func(key string) string {
		switch key {
		case "version":
			return version
		case "id":
			return e.ID
		default:
			return os.Getenv(key)
		}
	}
	for k, v := range e.Env {
		spec.Env[k] = os.Expand(v, expand)
	}
	spec.Env[EnvVersion] = version
	spec.Env[EnvEnvironment] = e.ID

	return spec, nil
}

// Describe returns a one-line summary of a spec for listings.
func Describe(s Spec) string {
	names := make([]string, len(s.Artifacts))
	for i, a := range s.Artifacts {
		names[i] = a.String()
	}
	line := fmt.Sprintf("attachment=%s bytecode=%s wiring=%s artifacts=[%s]",
		s.Attachment, s.Bytecode, s.ClasspathMode, strings.Join(names, " "))
	if s.Audit != nil && !s.Audit.Empty() {
		line += " audit"
	}
	return line
}
