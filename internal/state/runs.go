package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/matrixgate/internal/report"
)

// Run is the stored summary of one matrix run.
type Run struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Overall      report.Status `json:"overall"`
	ExitCode     int           `json:"exit_code"`
	Environments int           `json:"environments"`
	Passed       int           `json:"passed"`
	Failed       int           `json:"failed"`
	Errored      int           `json:"errored"`

	// Git revision of the checkout the run verified. Empty outside a repository.
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SaveReport stores a report and its outcomes in one transaction.
func (db *DB) SaveReport(r report.Report) error {
	if r.RunID == "" {
		return errors.New("save report: empty run id")
	}
	counts := r.Counts()

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, started_at, finished_at, overall, exit_code, environments, passed, failed, errored)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Overall.String(), r.ExitCode(),
			len(r.Outcomes), counts[report.Passed], counts[report.Failed], counts[report.Errored])
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}

		for i, o := range r.Outcomes {
			diags, err := json.Marshal(o.Diagnostics)
			if err != nil {
				return fmt.Errorf("marshal diagnostics: %w", err)
			}
			_, err = tx.Exec(`
				INSERT INTO outcomes (run_id, position, environment_id, status, cause, duration_ms, diagnostics)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.RunID, i, o.EnvironmentID, o.Status.String(), o.Cause.String(), o.DurationMillis(), string(diags))
			if err != nil {
				return fmt.Errorf("save outcome %s: %w", o.EnvironmentID, err)
			}
		}
		return nil
	})
}

const runColumns = `id, started_at, finished_at, overall, exit_code, environments, passed, failed, errored, git_commit, git_branch, git_dirty`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var started, finished, overall string
	if err := s.Scan(&r.ID, &started, &finished, &overall, &r.ExitCode, &r.Environments, &r.Passed, &r.Failed, &r.Errored, &r.Commit, &r.Branch, &r.Dirty); err != nil {
		return Run{}, err
	}
	r.StartedAt, _ = parseTime(started)
	r.FinishedAt, _ = parseTime(finished)
	r.Overall = report.ParseStatus(overall)
	return r, nil
}

// SetRevision records the git revision a stored run verified.
func (db *DB) SetRevision(runID, commit, branch string, dirty bool) error {
	res, err := db.Exec(`UPDATE runs SET git_commit = ?, git_branch = ?, git_dirty = ? WHERE id = ?`,
		commit, branch, dirty, runID)
	if err != nil {
		return fmt.Errorf("set revision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set revision: run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil if there is none.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// LatestRun returns the most recently started run, or nil if there is none.
func (db *DB) LatestRun() (*Run, error) {
	runs, err := db.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunOutcomes returns the outcomes of a run in declaration order.
func (db *DB) RunOutcomes(runID string) ([]report.Outcome, error) {
	rows, err := db.Query(`
		SELECT environment_id, status, cause, duration_ms, diagnostics
		FROM outcomes WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []report.Outcome
	for rows.Next() {
		var (
			o             report.Outcome
			status, cause string
			durationMS    int64
			diags         sql.NullString
		)
		if err := rows.Scan(&o.EnvironmentID, &status, &cause, &durationMS, &diags); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = report.ParseStatus(status)
		o.Cause = report.ParseCause(cause)
		o.Duration = time.Duration(durationMS) * time.Millisecond
		if diags.Valid && diags.String != "" {
			if err := json.Unmarshal([]byte(diags.String), &o.Diagnostics); err != nil {
				return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// LoadReport rebuilds the stored report of a run. It returns nil if there is none.
func (db *DB) LoadReport(runID string) (*report.Report, error) {
	run, err := db.GetRun(runID)
	if err != nil || run == nil {
		return nil, err
	}
	outcomes, err := db.RunOutcomes(runID)
	if err != nil {
		return nil, err
	}
	r := report.Aggregate(outcomes)
	r.RunID = run.ID
	r.StartedAt = run.StartedAt
	r.FinishedAt = run.FinishedAt
	return &r, nil
}

// CountRunsOlderThan returns how many runs PurgeOldRuns would delete.
func (db *DB) CountRunsOlderThan(olderThan time.Duration) (int64, error) {
	var n int64
	cutoff := formatTime(time.Now().Add(-olderThan))
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs WHERE started_at < ?`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count old runs: %w", err)
	}
	return n, nil
}

// PurgeOldRuns deletes runs, and their outcomes, older than the specified
// duration. Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var count int64
	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM outcomes WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
			return fmt.Errorf("purge outcomes: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		count, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
