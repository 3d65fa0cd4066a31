package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ShayCichocki/matrixgate/internal/artifact"
	"github.com/ShayCichocki/matrixgate/internal/attach"
	"github.com/ShayCichocki/matrixgate/internal/environment"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

func TestNewRunner_RequiresCollaborators(t *testing.T) {
	_, err := NewRunner(RequiredConfig{Executor: newRecordingExecutor()})
	assert.Error(t, err)
	_, err = NewRunner(RequiredConfig{Resolver: newTestRepo(t)})
	assert.Error(t, err)
}

func TestRun_ReleaseMatrixPasses(t *testing.T) {
	repo := releaseRepo(t)
	ex := newRecordingExecutor()
	reg := buildRegistry(t, releaseMatrix()...)

	rep := newTestRunner(t, repo, ex, WithRunIDGenerator(func() string { return "run-1" })).Run(context.Background(), reg)

	want := []string{"jvmCoreTest", "mavenTest", "debugAgentTest", "debugDynamicAgentTest", "coreAgentTest"}
	assert.Equal(t, report.Passed, rep.Overall)
	assert.Equal(t, want, outcomeIDs(rep))
	assert.Equal(t, want, ex.callOrder(), "sequential runs start in declaration order")
	assert.Equal(t, report.ExitPassed, rep.ExitCode())
	assert.Equal(t, "run-1", rep.RunID)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
	assert.Empty(t, rep.Diagnostics())

	static := ex.launch("debugAgentTest")
	assert.Equal(t, "-javaagent:"+repo.path(debugCoord), static.JVMFlags[0])

	dynamic := ex.launch("debugDynamicAgentTest")
	assert.Contains(t, dynamic.Classpath, repo.path(debugCoord))
	assert.Equal(t, []string{attach.AllowAttachSelfFlag}, dynamic.JVMFlags)

	plain := ex.launch("jvmCoreTest")
	assert.Empty(t, plain.JVMFlags)
	assert.Equal(t, []string{repo.path(coreCoord)}, plain.Classpath)

	assert.Equal(t, "-javaagent:"+repo.path(coreCoord), ex.launch("coreAgentTest").JVMFlags[0])
}

func TestRun_AmbiguousAgentIsConfigurationError(t *testing.T) {
	repo := releaseRepo(t)
	repo.add(t, shadedDebugCoord, "kotlinx/coroutines/debug/AgentPremain.class")

	specs := releaseMatrix()
	specs[2].Artifacts = append(specs[2].Artifacts, shadedDebugCoord)

	ex := newRecordingExecutor()
	rep := newTestRunner(t, repo, ex).Run(context.Background(), buildRegistry(t, specs...))

	require.Len(t, rep.Outcomes, 5)
	debug := outcomeByID(t, rep, "debugAgentTest")
	assert.Equal(t, report.Errored, debug.Status)
	assert.Equal(t, report.CauseConfiguration, debug.Cause)
	require.Len(t, debug.Diagnostics, 3)
	assert.Equal(t, "AgentAmbiguous: 2 candidates", debug.Diagnostics[0])
	assert.Equal(t, "candidate: "+repo.path(debugCoord), debug.Diagnostics[1])
	assert.Equal(t, "candidate: "+repo.path(shadedDebugCoord), debug.Diagnostics[2])
	assert.False(t, ex.called("debugAgentTest"), "no execution after a configuration error")

	for _, id := range []string{"jvmCoreTest", "mavenTest", "debugDynamicAgentTest", "coreAgentTest"} {
		assert.Equal(t, report.Passed, outcomeByID(t, rep, id).Status, id)
		assert.True(t, ex.called(id), id)
	}
	assert.Equal(t, report.Failed, rep.Overall)
	assert.Equal(t, report.ExitConfiguration, rep.ExitCode())
}

func TestRun_AuditViolationSkipsExecution(t *testing.T) {
	repo := newTestRepo(t)
	repo.add(t, coreCoord,
		"kotlinx/coroutines/Job.class",
		"kotlinx/atomicfu/AtomicFU.class",
		"META-INF/proguard/coroutines.pro",
	)
	repo.add(t, debugCoord, "kotlinx/coroutines/debug/AgentPremain.class")

	ex := newRecordingExecutor()
	rep := newTestRunner(t, repo, ex).Run(context.Background(), buildRegistry(t, releaseMatrix()...))

	maven := outcomeByID(t, rep, "mavenTest")
	assert.Equal(t, report.Failed, maven.Status)
	assert.Equal(t, report.CauseAudit, maven.Cause)
	assert.Equal(t, []string{"forbidden symbol: kotlinx/atomicfu/AtomicFU.class"}, maven.Diagnostics)
	assert.False(t, ex.called("mavenTest"))

	// The same artifact passes where no audit rules are declared.
	assert.Equal(t, report.Passed, outcomeByID(t, rep, "jvmCoreTest").Status)
	assert.Equal(t, report.ExitFailed, rep.ExitCode())
}

func TestRun_MissingRequiredResource(t *testing.T) {
	repo := newTestRepo(t)
	repo.add(t, coreCoord, "kotlinx/coroutines/Job.class")

	specs := releaseMatrix()[:2]
	rep := newTestRunner(t, repo, newRecordingExecutor()).Run(context.Background(), buildRegistry(t, specs...))

	maven := outcomeByID(t, rep, "mavenTest")
	assert.Equal(t, report.Failed, maven.Status)
	assert.Equal(t, []string{"missing resource: META-INF/proguard/coroutines.pro"}, maven.Diagnostics)
}

func TestRun_ConfigurationAndResolutionErrorsStayLocal(t *testing.T) {
	repo := releaseRepo(t)
	legacyCoord := artifact.Coordinate{Group: "org.jetbrains.kotlinx", Name: "kotlinx-coroutines-legacy", Version: version}
	repo.add(t, legacyCoord, "kotlinx/coroutines/Job.class")

	specs := []environment.Spec{
		{
			ID:         "agentMissing",
			Artifacts:  []artifact.Coordinate{coreCoord},
			Attachment: environment.AttachStatic,
			Agent:      &environment.AgentSelector{Name: debugCoord.Name, Version: version},
			Bytecode:   environment.Bytecode8,
		},
		{
			ID:         "legacyAgent",
			Artifacts:  []artifact.Coordinate{legacyCoord},
			Attachment: environment.AttachStatic,
			Agent:      &environment.AgentSelector{Name: debugCoord.Name, Version: version},
			Bytecode:   environment.Bytecode6,
		},
		{
			ID:        "unresolvable",
			Artifacts: []artifact.Coordinate{coreCoord, missingCoord},
			Bytecode:  environment.Bytecode8,
		},
		{
			ID:        "healthy",
			Artifacts: []artifact.Coordinate{coreCoord},
			Bytecode:  environment.Bytecode8,
		},
	}

	ex := newRecordingExecutor()
	rep := newTestRunner(t, repo, ex).Run(context.Background(), buildRegistry(t, specs...))
	require.Len(t, rep.Outcomes, 4)

	missing := outcomeByID(t, rep, "agentMissing")
	assert.Equal(t, report.Errored, missing.Status)
	assert.Equal(t, report.CauseConfiguration, missing.Cause)
	assert.True(t, strings.HasPrefix(missing.Diagnostics[0], "AgentNotFound:"), missing.Diagnostics[0])

	legacy := outcomeByID(t, rep, "legacyAgent")
	assert.Equal(t, report.CauseConfiguration, legacy.Cause)
	assert.Contains(t, legacy.Diagnostics[0], "IncompatibleEnvironment")
	assert.Zero(t, repo.resolveCount(legacyCoord), "incompatible environment is rejected before resolution")

	unresolvable := outcomeByID(t, rep, "unresolvable")
	assert.Equal(t, report.Errored, unresolvable.Status)
	assert.Equal(t, report.CauseResolution, unresolvable.Cause)
	assert.Contains(t, unresolvable.Diagnostics[0], "artifact not found")

	assert.Equal(t, report.Passed, outcomeByID(t, rep, "healthy").Status)
	assert.Equal(t, []string{"healthy"}, ex.callOrder())
	assert.Equal(t, report.ExitConfiguration, rep.ExitCode())
}

func TestRun_ExecutorResults(t *testing.T) {
	tests := []struct {
		name       string
		result     Result
		err        error
		wantStatus report.Status
		wantCause  report.Cause
		wantDiag   string
	}{
		{
			name:       "assertion failure",
			result:     Result{Status: report.Failed, Details: []string{"ThreadContextElementTest > testLeak FAILED"}},
			wantStatus: report.Failed,
			wantCause:  report.CauseExecution,
			wantDiag:   "ThreadContextElementTest > testLeak FAILED",
		},
		{
			name:       "failed self-attach is a test failure",
			result:     Result{Status: report.Failed, Details: []string{"self-attach failed: AttachNotSupportedException"}},
			wantStatus: report.Failed,
			wantCause:  report.CauseExecution,
			wantDiag:   "self-attach failed: AttachNotSupportedException",
		},
		{
			name:       "crashed process",
			result:     Result{Status: report.Errored, Details: []string{"java exited with code 134"}},
			wantStatus: report.Errored,
			wantCause:  report.CauseInfrastructure,
			wantDiag:   "java exited with code 134",
		},
		{
			name:       "executor error",
			err:        errors.New("java: executable file not found in $PATH"),
			wantStatus: report.Errored,
			wantCause:  report.CauseInfrastructure,
			wantDiag:   "executor error: java: executable file not found in $PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newRecordingExecutor()
			if tt.err != nil {
				ex.errs["debugDynamicAgentTest"] = tt.err
			} else {
				ex.results["debugDynamicAgentTest"] = tt.result
			}

			rep := newTestRunner(t, releaseRepo(t), ex).Run(context.Background(), buildRegistry(t, releaseMatrix()...))

			o := outcomeByID(t, rep, "debugDynamicAgentTest")
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, tt.wantCause, o.Cause)
			assert.Equal(t, []string{tt.wantDiag}, o.Diagnostics)
			assert.Equal(t, report.Failed, rep.Overall)
			assert.Equal(t, report.ExitFailed, rep.ExitCode())
		})
	}
}

func TestRun_TimeoutAbandonsStuckExecutor(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	ex := ExecutorFunc(func(ctx context.Context, id string, _ attach.LaunchContext) (Result, error) {
		if id == "stuck" {
			<-release
		}
		return Result{Status: report.Passed}, nil
	})

	reg := buildRegistry(t,
		environment.Spec{ID: "stuck", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
		environment.Spec{ID: "after", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
	)

	start := time.Now()
	rep := newTestRunner(t, releaseRepo(t), ex, WithTimeout(50*time.Millisecond)).Run(context.Background(), reg)
	assert.Less(t, time.Since(start), 5*time.Second)

	stuck := outcomeByID(t, rep, "stuck")
	assert.Equal(t, report.Errored, stuck.Status)
	assert.Equal(t, report.CauseInfrastructure, stuck.Cause)
	assert.Equal(t, []string{"timeout after 50ms"}, stuck.Diagnostics)
	assert.Equal(t, report.Passed, outcomeByID(t, rep, "after").Status)
}

func TestRun_TimeoutCoversResolution(t *testing.T) {
	slow := artifact.ResolverFunc(func(ctx context.Context, c artifact.Coordinate) (artifact.Resolved, error) {
		<-ctx.Done()
		return artifact.Resolved{}, ctx.Err()
	})
	ex := newRecordingExecutor()
	reg := buildRegistry(t, environment.Spec{ID: "slow", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8})

	rep := newTestRunner(t, slow, ex, WithTimeout(20*time.Millisecond)).Run(context.Background(), reg)

	o := outcomeByID(t, rep, "slow")
	assert.Equal(t, report.Errored, o.Status)
	assert.Equal(t, []string{"timeout after 20ms"}, o.Diagnostics)
	assert.False(t, ex.called("slow"))
}

func TestRun_CancellationStopsNewEnvironments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var started []string
	ex := ExecutorFunc(func(execCtx context.Context, id string, _ attach.LaunchContext) (Result, error) {
		mu.Lock()
		started = append(started, id)
		mu.Unlock()
		cancel()
		<-execCtx.Done()
		return Result{}, execCtx.Err()
	})

	reg := buildRegistry(t,
		environment.Spec{ID: "a", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
		environment.Spec{ID: "b", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
		environment.Spec{ID: "c", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
	)
	rep := newTestRunner(t, releaseRepo(t), ex).Run(ctx, reg)

	require.Len(t, rep.Outcomes, 3)
	assert.Equal(t, []string{"a"}, started)
	assert.Equal(t, []string{"terminated: matrix cancelled"}, outcomeByID(t, rep, "a").Diagnostics)
	for _, id := range []string{"b", "c"} {
		o := outcomeByID(t, rep, id)
		assert.Equal(t, report.Errored, o.Status)
		assert.Equal(t, []string{"not run: matrix cancelled"}, o.Diagnostics)
	}
}

func TestRun_FailFast(t *testing.T) {
	specs := []environment.Spec{
		{ID: "a", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
		{ID: "b", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
		{ID: "c", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
	}

	t.Run("aborts remaining environments", func(t *testing.T) {
		ex := newRecordingExecutor()
		ex.results["a"] = Result{Status: report.Failed, Details: []string{"boom"}}

		rep := newTestRunner(t, releaseRepo(t), ex, WithFailFast(true)).Run(context.Background(), buildRegistry(t, specs...))

		require.Len(t, rep.Outcomes, 3)
		assert.Equal(t, []string{"a"}, ex.callOrder())
		assert.Equal(t, []string{"not run: fail-fast abort after a"}, outcomeByID(t, rep, "b").Diagnostics)
		assert.Equal(t, []string{"not run: fail-fast abort after a"}, outcomeByID(t, rep, "c").Diagnostics)
		assert.Equal(t, report.ExitFailed, rep.ExitCode())
	})

	t.Run("continues by default", func(t *testing.T) {
		ex := newRecordingExecutor()
		ex.results["a"] = Result{Status: report.Failed, Details: []string{"boom"}}

		rep := newTestRunner(t, releaseRepo(t), ex).Run(context.Background(), buildRegistry(t, specs...))

		assert.Equal(t, []string{"a", "b", "c"}, ex.callOrder())
		assert.Equal(t, report.Passed, outcomeByID(t, rep, "c").Status)
	})
}

func TestRun_Parallel(t *testing.T) {
	const n = 3
	var arrived sync.WaitGroup
	arrived.Add(n)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	ex := ExecutorFunc(func(ctx context.Context, id string, _ attach.LaunchContext) (Result, error) {
		arrived.Done()
		select {
		case <-all:
			return Result{Status: report.Passed}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	})

	var specs []environment.Spec
	for i := range n {
		specs = append(specs, environment.Spec{ID: fmt.Sprintf("env%d", i), Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8})
	}

	rep := newTestRunner(t, releaseRepo(t), ex, WithParallelism(n), WithTimeout(10*time.Second)).
		Run(context.Background(), buildRegistry(t, specs...))

	assert.True(t, rep.Passed(), "all environments must be in flight at once: %v", rep.Diagnostics())
	assert.Equal(t, []string{"env0", "env1", "env2"}, outcomeIDs(rep))
}

func TestRun_OneOutcomePerEnvironment(t *testing.T) {
	repo := releaseRepo(t)
	ex := newRecordingExecutor()

	var specs []environment.Spec
	for i := range 8 {
		s := environment.Spec{
			ID:        fmt.Sprintf("env%d", i),
			Artifacts: []artifact.Coordinate{coreCoord},
			Bytecode:  environment.Bytecode8,
		}
		switch i % 4 {
		case 1:
			s.Artifacts = append(s.Artifacts, missingCoord)
		case 2:
			s.Attachment = environment.AttachStatic
			s.Agent = &environment.AgentSelector{Name: "absent-agent", Version: version}
		case 3:
			ex.results[s.ID] = Result{Status: report.Failed}
		}
		specs = append(specs, s)
	}

	rep := newTestRunner(t, repo, ex, WithParallelism(4)).Run(context.Background(), buildRegistry(t, specs...))

	require.Len(t, rep.Outcomes, len(specs))
	for i, o := range rep.Outcomes {
		assert.Equal(t, specs[i].ID, o.EnvironmentID)
	}
	counts := rep.Counts()
	assert.Equal(t, 2, counts[report.Passed])
	assert.Equal(t, 2, counts[report.Failed])
	assert.Equal(t, 4, counts[report.Errored])
}

func TestRun_EventsAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	events := NewEventEmitter(64, nil)

	ex := newRecordingExecutor()
	ex.results["b"] = Result{Status: report.Failed, Details: []string{"boom"}}
	reg := buildRegistry(t,
		environment.Spec{ID: "a", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
		environment.Spec{ID: "b", Artifacts: []artifact.Coordinate{coreCoord}, Bytecode: environment.Bytecode8},
	)

	rep := newTestRunner(t, releaseRepo(t), ex, WithEvents(events), WithLogger(zap.New(core))).Run(context.Background(), reg)
	events.Close()

	var got []Event
	for e := range events.Events() {
		got = append(got, e)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, EventRunStarted, got[0].Type)
	assert.Equal(t, []string{"a", "b"}, got[0].EnvironmentIDs)
	last := got[len(got)-1]
	assert.Equal(t, EventRunDone, last.Type)
	require.NotNil(t, last.Report)
	assert.Equal(t, rep.RunID, last.Report.RunID)

	var path []string
	var outcomes int
	for _, e := range got {
		if e.EnvironmentID != "a" {
			continue
		}
		switch e.Type {
		case EventTransition:
			path = append(path, e.From.String()+"->"+e.To.String())
		case EventOutcome:
			outcomes++
			require.NotNil(t, e.Outcome)
			assert.Equal(t, report.Passed, e.Outcome.Status)
		}
	}
	assert.Equal(t, []string{"pending->resolving", "resolving->auditing", "auditing->executing", "executing->completed"}, path)
	assert.Equal(t, 1, outcomes)
	assert.Zero(t, events.DroppedCount())

	assert.Equal(t, 8, logs.FilterMessage("environment transition").Len())
	warn := logs.FilterMessage("environment completed").FilterField(zap.String("environment", "b")).All()
	require.Len(t, warn, 1)
	assert.Equal(t, zapcore.WarnLevel, warn[0].Level)
}
