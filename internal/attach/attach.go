// Package attach turns an environment and its resolved artifacts into an
// attachment plan and the launch context handed to the test executor.
package attach

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/environment"
)

// Configuration errors. They abort the affected environment only and are
// never reported as test failures.
var (
	ErrAgentNotFound           = errors.New("AgentNotFound")
	ErrAgentAmbiguous          = errors.New("AgentAmbiguous")
	ErrIncompatibleEnvironment = errors.New("IncompatibleEnvironment")
)

// AllowAttachSelfFlag lets a JDK 9+ process attach an agent to itself.
const AllowAttachSelfFlag = "-Djdk.attach.allowAttachSelf=true"

// AgentError reports an absent or ambiguous agent artifact.
type AgentError struct {
	Kind       error
	Pattern    string
	Candidates []string
	Searched   int
}

func (e *AgentError) Error() string {
	if errors.Is(e.Kind, ErrAgentAmbiguous) {
		return fmt.Sprintf("%s: %d candidates", e.Kind, len(e.Candidates))
	}
	return fmt.Sprintf("%s: no %s among %d resolved artifacts", e.Kind, e.Pattern, e.Searched)
}

func (e *AgentError) Unwrap() error { return e.Kind }

// MatchKind is the result of looking for the agent among resolved artifacts.
type MatchKind int

const (
	MatchAbsent MatchKind = iota
	MatchFound
	MatchAmbiguous
)

// AgentMatch holds the outcome of MatchAgent.
type AgentMatch struct {
	Kind       MatchKind
	Pattern    string
	Candidates []artifact.Resolved
}

// Agent returns the single matching artifact. It is only valid for MatchFound.
func (m AgentMatch) Agent() artifact.Resolved {
	return m.Candidates[0]
}

// AgentFileName is the file name an agent artifact must have.
func AgentFileName(sel environment.AgentSelector) string {
	return sel.Name + "-" + sel.Version + ".jar"
}

// MatchAgent filters resolved artifacts for files named exactly
// "<name>-<version>.jar" and classifies the result.
func MatchAgent(resolved []artifact.Resolved, sel environment.AgentSelector) AgentMatch {
	pattern := AgentFileName(sel)
	m := AgentMatch{Pattern: pattern}
	for _, r := range resolved {
		if filepath.Base(r.Path) == pattern {
			m.Candidates = append(m.Candidates, r)
		}
	}
	switch len(m.Candidates) {
	case 0:
		m.Kind = MatchAbsent
	case 1:
		m.Kind = MatchFound
	default:
		m.Kind = MatchAmbiguous
	}
	return m
}

// Plan is the attachment decision for one environment.
type Plan struct {
	Mode environment.AttachmentMode
	// Agent is set whenever Mode is not AttachNone.
	Agent *artifact.Resolved
	// ExtraLaunchFlags are added after the declared JVM flags.
	ExtraLaunchFlags []string
	// AgentOnClasspath marks that the agent must be visible to the test
	// process at runtime (dynamic self-attach).
	AgentOnClasspath bool
}

// LaunchContext is everything the test executor needs to start a run.
type LaunchContext struct {
	EnvironmentID string
	Classpath     []string
	ModulePath    []string
	JVMFlags      []string
	Env           map[string]string
	Bytecode      environment.BytecodeLevel
}

// Controller computes plans and launch contexts. It is stateless and safe
// for concurrent use.
type Controller struct{}

// NewController creates a Controller.
func NewController() *Controller {
	return &Controller{}
}

// minimumBytecode is the oldest level each attachment mode supports.
var minimumBytecode = map[environment.AttachmentMode]environment.BytecodeLevel{
	environment.AttachNone:    environment.Bytecode6,
	environment.AttachStatic:  environment.Bytecode8,
	environment.AttachDynamic: environment.Bytecode8,
}

// Check rejects environments whose bytecode level cannot support their
// attachment mode or module-path wiring. It needs no resolved artifacts, so
// the runner calls it before resolving anything.
func (c *Controller) Check(spec environment.Spec) error {
	floor, ok := minimumBytecode[spec.Attachment]
	if !ok {
		return fmt.Errorf("%w: unknown attachment mode %s", ErrIncompatibleEnvironment, spec.Attachment)
	}
	if !spec.Bytecode.AtLeast(floor) {
		return fmt.Errorf("%w: %s attachment requires bytecode level %s or newer, environment targets %s",
			ErrIncompatibleEnvironment, spec.Attachment, floor, spec.Bytecode)
	}
	if spec.ClasspathMode == environment.ModulePath && !spec.Bytecode.AtLeast(environment.Bytecode9) {
		return fmt.Errorf("%w: module path requires bytecode level 9 or newer, environment targets %s",
			ErrIncompatibleEnvironment, spec.Bytecode)
	}
	return nil
}

// Plan computes the attachment plan for spec given its resolved artifacts.
func (c *Controller) Plan(spec environment.Spec, resolved []artifact.Resolved) (Plan, error) {
	if err := c.Check(spec); err != nil {
		return Plan{}, err
	}

	plan := Plan{Mode: spec.Attachment}
	switch spec.Attachment {
	case environment.AttachNone:
		return plan, nil
	case environment.AttachStatic:
		agent, err := locateAgent(spec, resolved)
		if err != nil {
			return Plan{}, err
		}
		plan.Agent = &agent
		return plan, nil
	case environment.AttachDynamic:
		agent, err := locateAgent(spec, resolved)
		if err != nil {
			return Plan{}, err
		}
		plan.Agent = &agent
		plan.AgentOnClasspath = true
		if spec.Bytecode.AtLeast(environment.Bytecode9) {
			plan.ExtraLaunchFlags = append(plan.ExtraLaunchFlags, AllowAttachSelfFlag)
		}
		return plan, nil
	default:
		return Plan{}, fmt.Errorf("%w: unknown attachment mode %s", ErrIncompatibleEnvironment, spec.Attachment)
	}
}

func locateAgent(spec environment.Spec, resolved []artifact.Resolved) (artifact.Resolved, error) {
	if spec.Agent == nil {
		return artifact.Resolved{}, &AgentError{Kind: ErrAgentNotFound, Pattern: "<unnamed agent>", Searched: len(resolved)}
	}
	m := MatchAgent(resolved, *spec.Agent)
	switch m.Kind {
	case MatchFound:
		return m.Agent(), nil
	case MatchAmbiguous:
		paths := make([]string, len(m.Candidates))
		for i, r := range m.Candidates {
			paths[i] = r.Path
		}
		return artifact.Resolved{}, &AgentError{Kind: ErrAgentAmbiguous, Pattern: m.Pattern, Candidates: paths, Searched: len(resolved)}
	default:
		return artifact.Resolved{}, &AgentError{Kind: ErrAgentNotFound, Pattern: m.Pattern, Searched: len(resolved)}
	}
}

// Launch builds the launch context for a planned environment.
func (c *Controller) Launch(spec environment.Spec, resolved []artifact.Resolved, plan Plan) LaunchContext {
	lc := LaunchContext{
		EnvironmentID: spec.ID,
		Env:           maps.Clone(spec.Env),
		Bytecode:      spec.Bytecode,
	}
	if lc.Env == nil {
		lc.Env = make(map[string]string)
	}

	paths := make([]string, 0, len(resolved))
	for _, r := range resolved {
		paths = append(paths, r.Path)
	}

	switch spec.ClasspathMode {
	case environment.ModulePath:
		lc.ModulePath = paths
		lc.Classpath = slices.Clone(spec.Classpath)
		if plan.AgentOnClasspath && plan.Agent != nil {
			lc.Classpath = append(lc.Classpath, plan.Agent.Path)
		}
	default:
		lc.Classpath = append(paths, spec.Classpath...)
	}

	if plan.Mode == environment.AttachStatic && plan.Agent != nil {
		lc.JVMFlags = append(lc.JVMFlags, "-javaagent:"+plan.Agent.Path)
	}
	lc.JVMFlags = append(lc.JVMFlags, spec.JVMFlags...)
	lc.JVMFlags = append(lc.JVMFlags, plan.ExtraLaunchFlags...)
	return lc
}

// Prepare plans spec and builds its launch context in one step.
func (c *Controller) Prepare(spec environment.Spec, resolved []artifact.Resolved) (Plan, LaunchContext, error) {
	plan, err := c.Plan(spec, resolved)
	if err != nil {
		return Plan{}, LaunchContext{}, err
	}
	return plan, c.Launch(spec, resolved, plan), nil
}
