package matrix

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/matrixgate/internal/report"
)

// EventType is the kind of runner event.
type EventType string

const (
	// EventRunStarted is sent once, before any environment starts.
	EventRunStarted EventType = "run_started"
	// EventTransition reports a state change of one environment.
	EventTransition EventType = "transition"
	// EventOutcome reports the terminal outcome of one environment.
	EventOutcome EventType = "outcome"
	// EventRunDone is sent once with the final report.
	EventRunDone EventType = "run_done"
)

// Event is emitted by the runner for live progress displays.
type Event struct {
	Type EventType
	// RunID identifies the run for run-level events.
	RunID         string
	EnvironmentID string
	// EnvironmentIDs lists the selection in declaration order (EventRunStarted).
	EnvironmentIDs []string
	From           State
	To             State
	Outcome        *report.Outcome
	Report         *report.Report
	Timestamp      time.Time
}

// EventEmitter fans runner events out to a single subscriber over a buffered
// channel. A slow subscriber loses events rather than stalling the run.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       *zap.Logger
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *zap.Logger) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit sends an event, waiting briefly for the subscriber before dropping it.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(100 * time.Millisecond)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event",
				zap.Uint64("dropped", count),
				zap.String("type", string(event.Type)))
		}
	}
}

// DroppedCount returns the number of events dropped so far.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the receive side of the event stream.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the stream. Call it once the last run using the emitter has returned.
func (e *EventEmitter) Close() {
	close(e.events)
}
