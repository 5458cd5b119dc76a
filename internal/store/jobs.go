package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateJob inserts a new background job in Pending status with its
// three stages initialized to Pending.
func (s *Store) CreateJob(ctx context.Context, job *BackgroundJob) (err error) {
	start := time.Now()
	defer func() { observe("create_job", start, err) }()

	if job.Status == "" {
		job.Status = StatusPending
	}
	job.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin job create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO background_jobs (id, job_type, status, collection_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.JobType, string(job.Status), job.CollectionID, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}

	for _, stage := range []string{StageScan, StageThumbnail, StageCache} {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO job_stages (job_id, name, status) VALUES (?, ?, ?)`,
			job.ID, stage, string(StatusPending)); err != nil {
			return fmt.Errorf("failed to create stage %s: %w", stage, err)
		}
	}
	return tx.Commit()
}

// GetJob loads a job with its stages.
func (s *Store) GetJob(ctx context.Context, id string) (job *BackgroundJob, stages []JobStage, err error) {
	start := time.Now()
	defer func() { observe("get_job", start, err) }()

	job = &BackgroundJob{}
	var status, summary string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, job_type, status, collection_id, success_count, error_count,
		        error_summary, error_message, created_at, started_at, completed_at
		 FROM background_jobs WHERE id = ?`, id).
		Scan(&job.ID, &job.JobType, &status, &job.CollectionID, &job.SuccessCount,
			&job.ErrorCount, &summary, &job.ErrorMessage, &job.CreatedAt,
			&job.StartedAt, &job.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	job.Status = JobStatus(status)
	job.ErrorSummary = decodeSummary(summary)

	stages, err = s.getStages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, stages, nil
}

func (s *Store) getStages(ctx context.Context, jobID string) ([]JobStage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, name, status, total_items, completed_items, message, started_at, completed_at
		 FROM job_stages WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages for %s: %w", jobID, err)
	}
	defer rows.Close()

	var stages []JobStage
	for rows.Next() {
		var st JobStage
		var status string
		if err := rows.Scan(&st.JobID, &st.Name, &status, &st.TotalItems, &st.CompletedItems,
			&st.Message, &st.StartedAt, &st.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		st.Status = JobStatus(status)
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// UpdateJobStatus moves a job between lifecycle states, stamping
// started/completed times on the transitions.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMessage string) (err error) {
	start := time.Now()
	defer func() { observe("update_job_status", start, err) }()

	now := time.Now().UTC()
	switch status {
	case StatusRunning:
		_, err = s.db.ExecContext(ctx,
			`UPDATE background_jobs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(status), now, jobID)
	case StatusCompleted, StatusFailed, StatusCompletedWithErrors:
		_, err = s.db.ExecContext(ctx,
			`UPDATE background_jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
			string(status), errorMessage, now, jobID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE background_jobs SET status = ? WHERE id = ?`, string(status), jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// FinalizeJob records the rolled-up error statistics and the terminal
// status in one write.
func (s *Store) FinalizeJob(ctx context.Context, jobID string, status JobStatus, successCount, errorCount int, errorSummary map[string]int) (err error) {
	start := time.Now()
	defer func() { observe("finalize_job", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`UPDATE background_jobs
		 SET status = ?, success_count = ?, error_count = ?, error_summary = ?, completed_at = ?
		 WHERE id = ?`,
		string(status), successCount, errorCount, encodeSummary(errorSummary), time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", jobID, err)
	}
	return nil
}

// ListActiveJobs returns up to limit jobs of the given types that are
// Pending or Running, oldest first.
func (s *Store) ListActiveJobs(ctx context.Context, jobTypes []string, limit int) (jobs []BackgroundJob, err error) {
	start := time.Now()
	defer func() { observe("list_active_jobs", start, err) }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(jobTypes)), ",")
	args := make([]interface{}, 0, len(jobTypes)+1)
	for _, t := range jobTypes {
		args = append(args, t)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_type, status, collection_id, success_count, error_count,
		        error_summary, error_message, created_at, started_at, completed_at
		 FROM background_jobs
		 WHERE job_type IN (`+placeholders+`) AND status IN ('Pending', 'Running')
		 ORDER BY created_at LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var job BackgroundJob
		var status, summary string
		if err = rows.Scan(&job.ID, &job.JobType, &status, &job.CollectionID, &job.SuccessCount,
			&job.ErrorCount, &summary, &job.ErrorMessage, &job.CreatedAt,
			&job.StartedAt, &job.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.Status = JobStatus(status)
		job.ErrorSummary = decodeSummary(summary)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpsertStage writes a stage's status and counters. Totals never
// decrease: an upsert with a smaller total keeps the stored one.
func (s *Store) UpsertStage(ctx context.Context, jobID, name string, status JobStatus, completed, total int, message string) (err error) {
	start := time.Now()
	defer func() { observe("upsert_stage", start, err) }()

	now := time.Now().UTC()
	var startedAt, completedAt interface{}
	if status == StatusRunning {
		startedAt = now
	}
	if status == StatusCompleted || status == StatusFailed {
		completedAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_stages (job_id, name, status, total_items, completed_items, message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, name) DO UPDATE SET
		   status = excluded.status,
		   total_items = MAX(job_stages.total_items, excluded.total_items),
		   completed_items = excluded.completed_items,
		   message = excluded.message,
		   started_at = COALESCE(job_stages.started_at, excluded.started_at),
		   completed_at = COALESCE(excluded.completed_at, job_stages.completed_at)`,
		jobID, name, string(status), total, completed, message, startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert stage %s/%s: %w", jobID, name, err)
	}
	return nil
}

// IncrementStageCompleted atomically advances a stage counter and
// returns the new (completed, total) pair.
func (s *Store) IncrementStageCompleted(ctx context.Context, jobID, name string, delta int) (completed, total int, err error) {
	start := time.Now()
	defer func() { observe("increment_stage_completed", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin stage increment: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx,
		`UPDATE job_stages SET completed_items = completed_items + ? WHERE job_id = ? AND name = ?`,
		delta, jobID, name); err != nil {
		return 0, 0, fmt.Errorf("failed to increment stage %s/%s: %w", jobID, name, err)
	}
	if err = tx.QueryRowContext(ctx,
		`SELECT completed_items, total_items FROM job_stages WHERE job_id = ? AND name = ?`,
		jobID, name).Scan(&completed, &total); err != nil {
		return 0, 0, fmt.Errorf("failed to read stage %s/%s: %w", jobID, name, err)
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return completed, total, nil
}

func encodeSummary(m map[string]int) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeSummary(s string) map[string]int {
	m := map[string]int{}
	if s == "" {
		return m
	}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}
