package matrix

import (
	"context"

	"github.com/ShayCichocki/matrixgate/internal/attach"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

// Result is what the test-execution collaborator reports for one environment.
// Status Failed means the code under test broke its contract; Errored means
// the run itself could not be carried out.
type Result struct {
	Status  report.Status
	Details []string
}

// Executor runs the verification suite in a prepared launch context. Execute
// blocks until the run finishes. It should stop when ctx is done; if it does
// not, the runner records the timeout or cancellation anyway and abandons the
// call. A returned error is treated as an infrastructure failure.
type Executor interface {
	Execute(ctx context.Context, environmentID string, lc attach.LaunchContext) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, environmentID string, lc attach.LaunchContext) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, environmentID string, lc attach.LaunchContext) (Result, error) {
	return f(ctx, environmentID, lc)
}
