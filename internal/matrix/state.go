package matrix

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/matrixgate/internal/report"
)

// State is the lifecycle position of one environment within a run.
type State int

const (
	Pending State = iota
	Resolving
	Auditing
	Executing
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolving:
		return "resolving"
	case Auditing:
		return "auditing"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition can leave s.
func IsTerminal(s State) bool {
	return s == Completed
}

// allowedTransition encodes Pending → Resolving → Auditing → Executing →
// Completed. Every non-terminal state may also complete directly.
func allowedTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Resolving || to == Completed
	case Resolving:
		return to == Auditing || to == Completed
	case Auditing:
		return to == Executing || to == Completed
	case Executing:
		return to == Completed
	default:
		return false
	}
}

// tracker holds the state of every environment in one run.
type tracker struct {
	mu     sync.Mutex
	states map[string]State
	events *EventEmitter
	logger *zap.Logger
}

func newTracker(ids []string, events *EventEmitter, logger *zap.Logger) *tracker {
	states := make(map[string]State, len(ids))
	for _, id := range ids {
		states[id] = Pending
	}
	return &tracker{states: states, events: events, logger: logger}
}

// transition moves id from one state to another. The caller names the
// expected prior state so a lost update is an error rather than a silent
// overwrite.
func (t *tracker) transition(id string, from, to State) error {
	t.mu.Lock()
	cur, ok := t.states[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown environment %q", id)
	}
	if cur != from {
		t.mu.Unlock()
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", id, from, cur)
	}
	if !allowedTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("disallowed transition for %q: %s -> %s", id, from, to)
	}
	t.states[id] = to
	t.mu.Unlock()

	t.logger.Debug("environment transition",
		zap.String("environment", id),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	t.emit(Event{Type: EventTransition, EnvironmentID: id, From: from, To: to, Timestamp: time.Now()})
	return nil
}

// complete moves id from whatever state it is in to Completed and publishes
// the outcome.
func (t *tracker) complete(o report.Outcome) error {
	t.mu.Lock()
	from, ok := t.states[o.EnvironmentID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown environment %q", o.EnvironmentID)
	}
	if err := t.transition(o.EnvironmentID, from, Completed); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("environment", o.EnvironmentID),
		zap.String("status", o.Status.String()),
		zap.String("cause", o.Cause.String()),
		zap.Duration("duration", o.Duration),
	}
	if o.Status == report.Passed {
		t.logger.Info("environment completed", fields...)
	} else {
		t.logger.Warn("environment completed", append(fields, zap.Strings("diagnostics", o.Diagnostics))...)
	}
	t.emit(Event{Type: EventOutcome, EnvironmentID: o.EnvironmentID, From: from, To: Completed, Outcome: &o, Timestamp: time.Now()})
	return nil
}

func (t *tracker) snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.states)
}

func (t *tracker) emit(e Event) {
	if t.events != nil {
		t.events.Emit(e)
	}
}
