package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateJobState inserts a per-collection, per-kind processing state.
func (s *Store) CreateJobState(ctx context.Context, js *JobState) (err error) {
	start := time.Now()
	defer func() { observe("create_job_state", start, err) }()

	if js.Status == "" {
		js.Status = StatusPending
	}
	if js.Settings == "" {
		js.Settings = "{}"
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_states (id, job_id, collection_id, kind, status, total_images,
		                         completed, failed, skipped, dummy_entries, error_summary, settings)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		js.ID, js.JobID, js.CollectionID, string(js.Kind), string(js.Status), js.TotalImages,
		js.CompletedImages, js.FailedImages, js.SkippedImages, js.DummyEntryCount,
		encodeSummary(js.ErrorSummary), js.Settings)
	if err != nil {
		return fmt.Errorf("failed to create job state %s: %w", js.ID, err)
	}
	return nil
}

// GetJobState loads one job state by id.
func (s *Store) GetJobState(ctx context.Context, id string) (js *JobState, err error) {
	start := time.Now()
	defer func() { observe("get_job_state", start, err) }()
	return s.scanJobState(s.db.QueryRowContext(ctx, jobStateSelect+` WHERE id = ?`, id))
}

const jobStateSelect = `SELECT id, job_id, collection_id, kind, status, total_images,
       completed, failed, skipped, dummy_entries, error_summary, settings
  FROM job_states`

func (s *Store) scanJobState(row *sql.Row) (*JobState, error) {
	js := &JobState{}
	var kind, status, summary string
	err := row.Scan(&js.ID, &js.JobID, &js.CollectionID, &kind, &status, &js.TotalImages,
		&js.CompletedImages, &js.FailedImages, &js.SkippedImages, &js.DummyEntryCount,
		&summary, &js.Settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job state: %w", err)
	}
	js.Kind = ArtifactKind(kind)
	js.Status = JobStatus(status)
	js.ErrorSummary = decodeSummary(summary)
	return js, nil
}

// SetJobStateStatus updates the lifecycle status of a job state.
func (s *Store) SetJobStateStatus(ctx context.Context, id string, status JobStatus) (err error) {
	start := time.Now()
	defer func() { observe("set_job_state_status", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`UPDATE job_states SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update job state %s: %w", id, err)
	}
	return nil
}

// IncrementJobStateCompleted atomically advances the completed counter
// and returns the new state.
func (s *Store) IncrementJobStateCompleted(ctx context.Context, id string) (*JobState, error) {
	return s.incrementJobState(ctx, id, `completed = completed + 1`, "")
}

// IncrementJobStateFailed atomically advances the failed counter and
// records the error type in the summary map. When dummy is true the
// dummy-entry counter advances as well.
func (s *Store) IncrementJobStateFailed(ctx context.Context, id, errorType string, dummy bool) (*JobState, error) {
	set := `failed = failed + 1`
	if dummy {
		set += `, dummy_entries = dummy_entries + 1`
	}
	return s.incrementJobState(ctx, id, set, errorType)
}

// IncrementJobStateSkipped atomically advances the skipped counter and
// returns the new state.
func (s *Store) IncrementJobStateSkipped(ctx context.Context, id string) (*JobState, error) {
	return s.incrementJobState(ctx, id, `skipped = skipped + 1`, "")
}

func (s *Store) incrementJobState(ctx context.Context, id, setClause, errorType string) (js *JobState, err error) {
	start := time.Now()
	defer func() { observe("increment_job_state", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin job state increment: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE job_states SET `+setClause+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to increment job state %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("job state %s: %w", id, ErrNotFound)
	}

	// The error summary is a JSON map column; the counter bump above is
	// the atomic part, the summary merge rides in the same transaction.
	if errorType != "" {
		var summary string
		if err = tx.QueryRowContext(ctx, `SELECT error_summary FROM job_states WHERE id = ?`, id).Scan(&summary); err != nil {
			return nil, fmt.Errorf("failed to read error summary: %w", err)
		}
		m := decodeSummary(summary)
		m[errorType]++
		if _, err = tx.ExecContext(ctx, `UPDATE job_states SET error_summary = ? WHERE id = ?`, encodeSummary(m), id); err != nil {
			return nil, fmt.Errorf("failed to update error summary: %w", err)
		}
	}

	js = &JobState{}
	var kind, status, summary string
	if err = tx.QueryRowContext(ctx, jobStateSelect+` WHERE id = ?`, id).
		Scan(&js.ID, &js.JobID, &js.CollectionID, &kind, &status, &js.TotalImages,
			&js.CompletedImages, &js.FailedImages, &js.SkippedImages, &js.DummyEntryCount,
			&summary, &js.Settings); err != nil {
		return nil, fmt.Errorf("failed to reload job state %s: %w", id, err)
	}
	js.Kind = ArtifactKind(kind)
	js.Status = JobStatus(status)
	js.ErrorSummary = decodeSummary(summary)

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return js, nil
}

// ListJobStates returns every job state belonging to one job.
func (s *Store) ListJobStates(ctx context.Context, jobID string) (states []JobState, err error) {
	start := time.Now()
	defer func() { observe("list_job_states", start, err) }()

	rows, err := s.db.QueryContext(ctx, jobStateSelect+` WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job states for %s: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var js JobState
		var kind, status, summary string
		if err = rows.Scan(&js.ID, &js.JobID, &js.CollectionID, &kind, &status, &js.TotalImages,
			&js.CompletedImages, &js.FailedImages, &js.SkippedImages, &js.DummyEntryCount,
			&summary, &js.Settings); err != nil {
			return nil, fmt.Errorf("failed to scan job state: %w", err)
		}
		js.Kind = ArtifactKind(kind)
		js.Status = JobStatus(status)
		js.ErrorSummary = decodeSummary(summary)
		states = append(states, js)
	}
	return states, rows.Err()
}

// SetJobStateTotal sets the total once. Totals never decrease.
func (s *Store) SetJobStateTotal(ctx context.Context, id string, total int) (err error) {
	start := time.Now()
	defer func() { observe("set_job_state_total", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`UPDATE job_states SET total_images = MAX(total_images, ?) WHERE id = ?`, total, id)
	if err != nil {
		return fmt.Errorf("failed to set job state total %s: %w", id, err)
	}
	return nil
}
