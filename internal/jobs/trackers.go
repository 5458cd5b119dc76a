package jobs

import (
	"context"
	"fmt"

	"media-ingest/internal/logging"
	"media-ingest/internal/metrics"
	"media-ingest/internal/store"
)

// StageTracker moves the coarse per-stage counters of background jobs.
type StageTracker struct {
	store *store.Store
}

// NewStageTracker creates a StageTracker over the given store.
func NewStageTracker(s *store.Store) *StageTracker {
	return &StageTracker{store: s}
}

// StartStage marks a stage Running with the expected total.
func (t *StageTracker) StartStage(ctx context.Context, jobID, stage string, total int) error {
	return t.store.UpsertStage(ctx, jobID, stage, store.StatusRunning, 0, total, "")
}

// CompleteStage marks a stage Completed with final counts.
func (t *StageTracker) CompleteStage(ctx context.Context, jobID, stage string, completed, total int, message string) error {
	return t.store.UpsertStage(ctx, jobID, stage, store.StatusCompleted, completed, total, message)
}

// FailStage marks a stage Failed and the parent job with it.
func (t *StageTracker) FailStage(ctx context.Context, jobID, stage, message string) error {
	if err := t.store.UpsertStage(ctx, jobID, stage, store.StatusFailed, 0, 0, message); err != nil {
		return err
	}
	return t.store.UpdateJobStatus(ctx, jobID, store.StatusFailed, message)
}

// Advance atomically bumps a stage counter. Failures advance progress
// exactly like successes so a stage can always finish. When the
// counter reaches the total, the stage flips to Completed.
func (t *StageTracker) Advance(ctx context.Context, jobID, stage string, result string) error {
	completed, total, err := t.store.IncrementStageCompleted(ctx, jobID, stage, 1)
	if err != nil {
		return err
	}
	metrics.StageItemsProcessed.WithLabelValues(stage, result).Inc()

	if total > 0 && completed >= total {
		if err := t.store.UpsertStage(ctx, jobID, stage, store.StatusCompleted, completed, total, ""); err != nil {
			return fmt.Errorf("failed to close stage %s/%s: %w", jobID, stage, err)
		}
		logging.Debug("Stage %s of job %s completed (%d/%d)", stage, jobID, completed, total)
	}
	return nil
}

// StateID derives the job-state id for a job and artifact kind. The
// scan worker creates states under this id and the artifact consumers
// recompute it from the message, so no id ever travels out of band.
func StateID(jobID string, kind store.ArtifactKind) string {
	return jobID + ":" + string(kind)
}

// StateTracker moves per-collection job-state counters and detects
// completion.
type StateTracker struct {
	store *store.Store
}

// NewStateTracker creates a StateTracker over the given store.
func NewStateTracker(s *store.Store) *StateTracker {
	return &StateTracker{store: s}
}

// MarkRunning flips the named job states to Running. Callers
// deduplicate the ids of a batch before calling.
func (t *StateTracker) MarkRunning(ctx context.Context, stateIDs []string) {
	for _, id := range stateIDs {
		if err := t.store.SetJobStateStatus(ctx, id, store.StatusRunning); err != nil {
			logging.Warn("Failed to mark job state %s running: %v", id, err)
		}
	}
}

// Completed records one successful image and finalizes the state when
// every image has a terminal result.
func (t *StateTracker) Completed(ctx context.Context, stateID string) error {
	js, err := t.store.IncrementJobStateCompleted(ctx, stateID)
	if err != nil {
		return err
	}
	return t.maybeFinalize(ctx, js)
}

// Failed records one failed image. errorType lands in the error
// summary; dummy says whether a dummy artifact entry was appended.
func (t *StateTracker) Failed(ctx context.Context, stateID string, errorType ErrorType, dummy bool) error {
	js, err := t.store.IncrementJobStateFailed(ctx, stateID, string(errorType), dummy)
	if err != nil {
		return err
	}
	return t.maybeFinalize(ctx, js)
}

// Skipped records one image that needed no work.
func (t *StateTracker) Skipped(ctx context.Context, stateID string) error {
	js, err := t.store.IncrementJobStateSkipped(ctx, stateID)
	if err != nil {
		return err
	}
	return t.maybeFinalize(ctx, js)
}

func (t *StateTracker) maybeFinalize(ctx context.Context, js *store.JobState) error {
	if !js.Done() || js.Status == store.StatusCompleted {
		return nil
	}

	if err := t.store.SetJobStateStatus(ctx, js.ID, store.StatusCompleted); err != nil {
		return err
	}
	logging.Info("Job state %s (%s/%s) completed: %d ok, %d failed, %d skipped of %d",
		js.ID, js.CollectionID, js.Kind, js.CompletedImages, js.FailedImages, js.SkippedImages, js.TotalImages)

	return t.rollUpJob(ctx, js.JobID)
}

// rollUpJob finalizes the parent job once every one of its job states
// is done, folding the per-state counters into the job's error
// statistics.
func (t *StateTracker) rollUpJob(ctx context.Context, jobID string) error {
	states, err := t.store.ListJobStates(ctx, jobID)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}

	success, errorCount := 0, 0
	summary := map[string]int{}
	for _, js := range states {
		if !js.Done() {
			return nil
		}
		success += js.CompletedImages - js.DummyEntryCount
		errorCount += js.DummyEntryCount
		for k, v := range js.ErrorSummary {
			summary[k] += v
		}
	}
	if success < 0 {
		success = 0
	}

	status := store.StatusCompleted
	if errorCount > 0 {
		status = store.StatusCompletedWithErrors
	}

	job, _, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if job.Status == store.StatusCompleted || job.Status == store.StatusCompletedWithErrors {
		return nil
	}

	if err := t.store.FinalizeJob(ctx, jobID, status, success, errorCount, summary); err != nil {
		return err
	}
	metrics.JobsCompleted.WithLabelValues(job.JobType, string(status)).Inc()
	logging.Info("Job %s finalized as %s: %d ok, %d errors", jobID, status, success, errorCount)
	return nil
}
