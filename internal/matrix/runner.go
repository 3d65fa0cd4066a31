// Package matrix runs a registry of verification environments and turns each
// into exactly one Outcome, whatever happens along the way.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/attach"
	"github.com/ShayCichocki/matrixgate/internal/audit"
	"github.com/ShayCichocki/matrixgate/internal/environment"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

// Diagnostics recorded for environments that were stopped or never started.
const (
	diagCancelled    = "terminated: matrix cancelled"
	diagNotRun       = "not run: matrix cancelled"
	diagFailFastSkip = "not run: fail-fast abort after "
)

// Runner drives environments through Pending → Resolving → Auditing →
// Executing → Completed. A Runner is safe to reuse across runs.
type Runner struct {
	resolver artifact.Resolver
	executor Executor
	opts     runnerOptions
}

// NewRunner creates a Runner.
func NewRunner(cfg RequiredConfig, opts ...Option) (*Runner, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("matrix runner: resolver is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("matrix runner: executor is required")
	}

	o := runnerOptions{
		parallelism: 1,
		timeout:     DefaultTimeout,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.auditor == nil {
		o.auditor = audit.New()
	}
	if o.controller == nil {
		o.controller = attach.NewController()
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}

	return &Runner{resolver: cfg.Resolver, executor: cfg.Executor, opts: o}, nil
}

// Run executes every environment of reg and returns a report with one
// outcome per environment in registration order. Environments start in
// registration order; up to the configured parallelism run at once.
//
// Cancelling ctx stops new environments from starting and cancels the
// in-flight ones. Run still returns a complete report.
func (r *Runner) Run(ctx context.Context, reg *environment.Registry) report.Report {
	specs := reg.All()
	ids := reg.IDs()
	runID := r.opts.newRunID()
	logger := r.opts.logger.With(zap.String("run_id", runID))

	agg := report.NewAggregator(ids)
	tr := newTracker(ids, r.opts.events, logger)
	started := time.Now()

	logger.Info("matrix run started",
		zap.Int("environments", len(specs)),
		zap.Int("parallelism", r.opts.parallelism),
		zap.Duration("timeout", r.opts.timeout),
		zap.Bool("fail_fast", r.opts.failFast))
	tr.emit(Event{Type: EventRunStarted, RunID: runID, EnvironmentIDs: ids, Timestamp: started})

	var (
		stop halt
		g    errgroup.Group
	)
	g.SetLimit(r.opts.parallelism)
	for _, spec := range specs {
		g.Go(func() error {
			o := r.runEnvironment(ctx, tr, &stop, spec)
			agg.Add(o)
			if r.opts.failFast && o.Status != report.Passed {
				stop.trip(spec.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := agg.Report()
	rep.RunID = runID
	rep.StartedAt = started
	rep.FinishedAt = time.Now()

	counts := rep.Counts()
	logger.Info("matrix run finished",
		zap.String("overall", rep.Overall.String()),
		zap.Int("passed", counts[report.Passed]),
		zap.Int("failed", counts[report.Failed]),
		zap.Int("errored", counts[report.Errored]),
		zap.Duration("elapsed", rep.FinishedAt.Sub(started)))
	tr.emit(Event{Type: EventRunDone, RunID: runID, Report: &rep, Timestamp: rep.FinishedAt})
	return rep
}

// runEnvironment processes one environment. It always returns an outcome and
// never lets an error escape.
func (r *Runner) runEnvironment(ctx context.Context, tr *tracker, stop *halt, spec environment.Spec) report.Outcome {
	start := time.Now()
	finish := func(status report.Status, cause report.Cause, diags ...string) report.Outcome {
		o := report.NewOutcome(spec.ID, status, cause, time.Since(start), diags...)
		if err := tr.complete(o); err != nil {
			r.opts.logger.Error("record outcome", zap.String("environment", spec.ID), zap.Error(err))
		}
		return o
	}

	if ctx.Err() != nil {
		return finish(report.Errored, report.CauseInfrastructure, diagNotRun)
	}
	if after := stop.reason(); after != "" {
		return finish(report.Errored, report.CauseInfrastructure, diagFailFastSkip+after)
	}
	if err := r.opts.controller.Check(spec); err != nil {
		return finish(report.Errored, report.CauseConfiguration, err.Error())
	}

	envCtx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	// interrupted reports the outcome for an environment whose context ended.
	interrupted := func() (report.Outcome, bool) {
		switch {
		case ctx.Err() != nil:
			return finish(report.Errored, report.CauseInfrastructure, diagCancelled), true
		case envCtx.Err() != nil:
			return finish(report.Errored, report.CauseInfrastructure, fmt.Sprintf("timeout after %s", r.opts.timeout)), true
		}
		return report.Outcome{}, false
	}

	r.step(tr, spec.ID, Pending, Resolving)
	resolved, err := r.resolveAll(envCtx, spec)
	if err != nil {
		if o, ok := interrupted(); ok {
			return o
		}
		return finish(report.Errored, report.CauseResolution, "resolution failed: "+err.Error())
	}

	r.step(tr, spec.ID, Resolving, Auditing)
	if spec.Audit != nil && !spec.Audit.Empty() {
		violations, err := r.opts.auditor.AuditEnvironment(envCtx, resolved, *spec.Audit)
		if err != nil {
			if o, ok := interrupted(); ok {
				return o
			}
			return finish(report.Errored, report.CauseInfrastructure, "audit could not read artifact: "+err.Error())
		}
		if len(violations) > 0 {
			diags := make([]string, len(violations))
			for i, v := range violations {
				diags[i] = v.String()
			}
			return finish(report.Failed, report.CauseAudit, diags...)
		}
	}

	_, lc, err := r.opts.controller.Prepare(spec, resolved)
	if err != nil {
		return finish(report.Errored, report.CauseConfiguration, configDiagnostics(err)...)
	}

	r.step(tr, spec.ID, Auditing, Executing)
	res, err := callWithContext(envCtx, func() (Result, error) {
		return r.executor.Execute(envCtx, spec.ID, lc)
	})
	if err != nil || res.Status != report.Passed {
		if o, ok := interrupted(); ok {
			return o
		}
	}
	if err != nil {
		return finish(report.Errored, report.CauseInfrastructure, "executor error: "+err.Error())
	}

	switch res.Status {
	case report.Passed:
		return finish(report.Passed, report.CauseNone)
	case report.Failed:
		return finish(report.Failed, report.CauseExecution, res.Details...)
	default:
		return finish(report.Errored, report.CauseInfrastructure, res.Details...)
	}
}

// resolveAll resolves the spec's coordinates in order, stopping at the first failure.
func (r *Runner) resolveAll(ctx context.Context, spec environment.Spec) ([]artifact.Resolved, error) {
	resolved := make([]artifact.Resolved, 0, len(spec.Artifacts))
	for _, c := range spec.Artifacts {
		res, err := callWithContext(ctx, func() (artifact.Resolved, error) {
			return r.resolver.Resolve(ctx, c)
		})
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, res)
	}
	return resolved, nil
}

func (r *Runner) step(tr *tracker, id string, from, to State) {
	if err := tr.transition(id, from, to); err != nil {
		r.opts.logger.Error("state transition", zap.String("environment", id), zap.Error(err))
	}
}

// configDiagnostics renders a configuration error, listing agent candidates
// when there are any.
func configDiagnostics(err error) []string {
	diags := []string{err.Error()}
	var agentErr *attach.AgentError
	if errors.As(err, &agentErr) {
		for _, c := range agentErr.Candidates {
			diags = append(diags, "candidate: "+c)
		}
	}
	return diags
}

// callWithContext runs fn and waits for it or for ctx, whichever ends first.
// When ctx wins, fn keeps running in the background until it returns.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// halt records the first environment that tripped fail-fast.
type halt struct {
	mu    sync.Mutex
	after string
}

func (h *halt) trip(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.after == "" {
		h.after = id
	}
}

func (h *halt) reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.after
}
