package matrix

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/attach"
	"github.com/ShayCichocki/matrixgate/internal/audit"
)

// DefaultTimeout bounds a single environment when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

// RequiredConfig holds the collaborators a Runner cannot work without.
type RequiredConfig struct {
	Resolver artifact.Resolver
	Executor Executor
}

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	parallelism int
	timeout     time.Duration
	failFast    bool
	logger      *zap.Logger
	events      *EventEmitter
	auditor     *audit.Auditor
	controller  *attach.Controller
	newRunID    func() string
}

// WithParallelism sets how many environments run at once. Values below one
// mean sequential execution.
func WithParallelism(n int) Option {
	return func(o *runnerOptions) { o.parallelism = n }
}

// WithTimeout sets the per-environment timeout covering resolution, audit and
// execution.
func WithTimeout(d time.Duration) Option {
	return func(o *runnerOptions) { o.timeout = d }
}

// WithFailFast stops starting new environments after the first non-passing outcome.
func WithFailFast(b bool) Option {
	return func(o *runnerOptions) { o.failFast = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *runnerOptions) { o.logger = l }
}

// WithEvents publishes progress events to e.
func WithEvents(e *EventEmitter) Option {
	return func(o *runnerOptions) { o.events = e }
}

// WithAuditor replaces the default auditor.
func WithAuditor(a *audit.Auditor) Option {
	return func(o *runnerOptions) { o.auditor = a }
}

// WithController replaces the default attachment controller.
func WithController(c *attach.Controller) Option {
	return func(o *runnerOptions) { o.controller = c }
}

// WithRunIDGenerator overrides how run ids are produced.
func WithRunIDGenerator(f func() string) Option {
	return func(o *runnerOptions) { o.newRunID = f }
}
