package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/matrixgate/internal/report"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// RunStore records and reads back matrix runs.
type RunStore interface {
	SaveReport(r report.Report) error
	GetRun(id string) (*Run, error)
	LatestRun() (*Run, error)
	ListRuns(limit int) ([]Run, error)
	RunOutcomes(runID string) ([]report.Outcome, error)
}

// Purger removes old history.
type Purger interface {
	CountRunsOlderThan(olderThan time.Duration) (int64, error)
	PurgeOldRuns(olderThan time.Duration) (int64, error)
}

// HistoryStore is the full history backend used by the CLI.
type HistoryStore interface {
	io.Closer
	Migrator
	RunStore
	Purger
}

// Compile-time verification that DB implements all interfaces.
var (
	_ HistoryStore = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ RunStore     = (*DB)(nil)
	_ Purger       = (*DB)(nil)
)
