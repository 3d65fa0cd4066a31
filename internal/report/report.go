// Package report holds per-environment outcomes and aggregates them into the
// single release gate.
package report

import (
	"slices"
	"sync"
	"time"
)

// Status is the terminal result of one environment or of the whole matrix.
type Status int

const (
	Passed Status = iota
	Failed
	Errored
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Cause says which part of the pipeline produced a non-passing outcome.
type Cause int

const (
	CauseNone Cause = iota
	// CauseConfiguration covers duplicate ids, missing or ambiguous agents and
	// incompatible bytecode levels.
	CauseConfiguration
	// CauseResolution covers artifacts that could not be resolved.
	CauseResolution
	// CauseAudit covers symbol and resource audit violations.
	CauseAudit
	// CauseExecution covers genuine test failures.
	CauseExecution
	// CauseInfrastructure covers timeouts, crashes and cancellation.
	CauseInfrastructure
)

// String returns the cause name used in logs and history.
func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseConfiguration:
		return "configuration"
	case CauseResolution:
		return "resolution"
	case CauseAudit:
		return "audit"
	case CauseExecution:
		return "execution"
	case CauseInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// ParseCause is the inverse of Cause.String.
func ParseCause(s string) Cause {
	for c := CauseNone; c <= CauseInfrastructure; c++ {
		if c.String() == s {
			return c
		}
	}
	return CauseNone
}

// ParseStatus is the inverse of Status.String. Unknown values map to Errored.
func ParseStatus(s string) Status {
	switch s {
	case "passed":
		return Passed
	case "failed":
		return Failed
	default:
		return Errored
	}
}

// Outcome is the terminal result of running one environment.
type Outcome struct {
	EnvironmentID string
	Status        Status
	Cause         Cause
	Diagnostics   []string
	Duration      time.Duration
}

// NewOutcome builds an outcome, copying diagnostics so the caller's slice
// cannot change it afterwards.
func NewOutcome(id string, status Status, cause Cause, d time.Duration, diagnostics ...string) Outcome {
	return Outcome{
		EnvironmentID: id,
		Status:        status,
		Cause:         cause,
		Diagnostics:   slices.Clone(diagnostics),
		Duration:      d,
	}
}

// DurationMillis returns the run time in milliseconds.
func (o Outcome) DurationMillis() int64 {
	return o.Duration.Milliseconds()
}

// Report is the ordered collection of outcomes plus the overall gate.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	Overall    Status
}

// Aggregate builds a report over outcomes in the order given. The overall
// status is Passed iff every outcome passed.
func Aggregate(outcomes []Outcome) Report {
	r := Report{Outcomes: slices.Clone(outcomes), Overall: Passed}
	for _, o := range outcomes {
		if o.Status != Passed {
			r.Overall = Failed
			break
		}
	}
	return r
}

// Passed reports whether the release gate is open.
func (r Report) Passed() bool {
	return r.Overall == Passed
}

// Diagnostics returns every diagnostic line prefixed with its environment id,
// in declaration order.
func (r Report) Diagnostics() []string {
	var out []string
	for _, o := range r.Outcomes {
		for _, d := range o.Diagnostics {
			out = append(out, o.EnvironmentID+": "+d)
		}
	}
	return out
}

// HasConfigurationError reports whether any environment failed on a harness
// configuration problem rather than on the artifact under test.
func (r Report) HasConfigurationError() bool {
	for _, o := range r.Outcomes {
		if o.Cause == CauseConfiguration {
			return true
		}
	}
	return false
}

// Counts returns the number of outcomes per status.
func (r Report) Counts() map[Status]int {
	counts := map[Status]int{Passed: 0, Failed: 0, Errored: 0}
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Exit codes of the aggregate command.
const (
	ExitPassed        = 0
	ExitFailed        = 1
	ExitConfiguration = 2
)

// ExitCode maps the report to the process exit code.
func (r Report) ExitCode() int {
	switch {
	case r.HasConfigurationError():
		return ExitConfiguration
	case !r.Passed():
		return ExitFailed
	default:
		return ExitPassed
	}
}

// Aggregator collects outcomes as they stream in from concurrent workers and
// orders them by declaration.
type Aggregator struct {
	mu       sync.Mutex
	order    []string
	outcomes map[string]Outcome
}

// NewAggregator creates an aggregator for environments declared in order.
func NewAggregator(order []string) *Aggregator {
	return &Aggregator{
		order:    slices.Clone(order),
		outcomes: make(map[string]Outcome, len(order)),
	}
}

// Add records an outcome. The first outcome recorded for an id wins.
func (a *Aggregator) Add(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.outcomes[o.EnvironmentID]; ok {
		return
	}
	a.outcomes[o.EnvironmentID] = o
}

// Has reports whether an outcome is already recorded for id.
func (a *Aggregator) Has(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.outcomes[id]
	return ok
}

// Report builds the report in declaration order. Environments without an
// outcome are reported as Errored so the report is total.
func (a *Aggregator) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcomes := make([]Outcome, 0, len(a.order))
	for _, id := range a.order {
		o, ok := a.outcomes[id]
		if !ok {
			o = NewOutcome(id, Errored, CauseInfrastructure, 0, "no outcome recorded")
		}
		outcomes = append(outcomes, o)
	}
	return Aggregate(outcomes)
}
