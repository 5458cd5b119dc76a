package reconcile

import (
	"context"
	"time"

	"media-ingest/internal/logging"
	"media-ingest/internal/metrics"
	"media-ingest/internal/store"
)

const (
	// Interval between reconciliation passes.
	Interval = 5 * time.Second
	// maxJobsPerPass bounds the work of one pass.
	maxJobsPerPass = 500
)

// reconciledJobTypes are the job types whose stages map onto artifact
// counts. Bulk and library jobs track progress through job states
// alone.
var reconciledJobTypes = []string{store.JobTypeCollectionScan, store.JobTypeResumeCollection}

// Reconciler periodically repairs stage counters from artifact counts.
type Reconciler struct {
	store *store.Store
}

// New creates a Reconciler.
func New(s *store.Store) *Reconciler {
	return &Reconciler{store: s}
}

// Run executes reconciliation passes until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				logging.Warn("Reconciliation pass failed: %v", err)
			}
		}
	}
}

// Pass reconciles one batch of open jobs.
func (r *Reconciler) Pass(ctx context.Context) error {
	jobs, err := r.store.ListActiveJobs(ctx, reconciledJobTypes, maxJobsPerPass)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := r.reconcileJob(ctx, &jobs[i]); err != nil {
			logging.Warn("Failed to reconcile job %s: %v", jobs[i].ID, err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileJob(ctx context.Context, job *store.BackgroundJob) error {
	_, stages, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	if job.CollectionID == "" {
		return r.reconcileDetached(ctx, job, stages)
	}

	allDone := true
	for _, stage := range stages {
		kind, ok := stageKind(stage.Name)
		if !ok {
			// The scan stage completes synchronously inside its
			// handler; there is nothing to re-derive it from.
			if stage.Status != store.StatusCompleted {
				allDone = false
			}
			continue
		}
		done, err := r.reconcileStage(ctx, job, &stage, kind)
		if err != nil {
			return err
		}
		if !done {
			allDone = false
		}
	}

	if allDone {
		return r.finalize(ctx, job)
	}
	return nil
}

// reconcileDetached closes out stages of a job with no collection.
// There are no artifact counts to re-derive from, so a stage whose
// counter has reached its total is simply flipped; the roll-up of the
// job itself stays with the job-state tracker.
func (r *Reconciler) reconcileDetached(ctx context.Context, job *store.BackgroundJob, stages []store.JobStage) error {
	for _, stage := range stages {
		if stage.Status == store.StatusCompleted || stage.TotalItems <= 0 {
			continue
		}
		if stage.CompletedItems < stage.TotalItems {
			continue
		}
		if err := r.store.UpsertStage(ctx, job.ID, stage.Name, store.StatusCompleted, stage.CompletedItems, stage.TotalItems, "completed by reconciler"); err != nil {
			return err
		}
		metrics.ReconcilerRepairs.WithLabelValues(stage.Name).Inc()
		logging.Info("Reconciler completed stage %s of detached job %s (%d/%d)", stage.Name, job.ID, stage.CompletedItems, stage.TotalItems)
	}
	return nil
}

// reconcileStage lifts a stage counter up to the committed artifact
// count and completes the stage once the count covers the total.
func (r *Reconciler) reconcileStage(ctx context.Context, job *store.BackgroundJob, stage *store.JobStage, kind store.ArtifactKind) (bool, error) {
	if stage.Status == store.StatusCompleted {
		return true, nil
	}
	if stage.Status == store.StatusFailed {
		return false, nil
	}

	n, err := r.store.CountArtifacts(ctx, job.CollectionID, kind)
	if err != nil {
		return false, err
	}

	switch {
	case stage.TotalItems > 0 && n >= stage.TotalItems:
		if err := r.store.UpsertStage(ctx, job.ID, stage.Name, store.StatusCompleted, n, stage.TotalItems, "completed by reconciler"); err != nil {
			return false, err
		}
		metrics.ReconcilerRepairs.WithLabelValues(stage.Name).Inc()
		logging.Info("Reconciler completed stage %s of job %s (%d/%d artifacts)", stage.Name, job.ID, n, stage.TotalItems)
		return true, nil

	case n > stage.CompletedItems:
		if err := r.store.UpsertStage(ctx, job.ID, stage.Name, store.StatusRunning, n, stage.TotalItems, ""); err != nil {
			return false, err
		}
		metrics.ReconcilerRepairs.WithLabelValues(stage.Name).Inc()
		logging.Debug("Reconciler advanced stage %s of job %s to %d/%d", stage.Name, job.ID, n, stage.TotalItems)
		return false, nil

	default:
		return false, nil
	}
}

// finalize closes a job whose stages are all complete, deriving the
// success and error counts from the committed artifacts.
func (r *Reconciler) finalize(ctx context.Context, job *store.BackgroundJob) error {
	success, errors := 0, 0
	for _, kind := range []store.ArtifactKind{store.KindThumbnail, store.KindCache} {
		n, err := r.store.CountArtifacts(ctx, job.CollectionID, kind)
		if err != nil {
			return err
		}
		dummies, err := r.store.CountDummyArtifacts(ctx, job.CollectionID, kind)
		if err != nil {
			return err
		}
		success += n - dummies
		errors += dummies
	}

	status := store.StatusCompleted
	if errors > 0 {
		status = store.StatusCompletedWithErrors
	}
	if err := r.store.FinalizeJob(ctx, job.ID, status, success, errors, nil); err != nil {
		return err
	}
	metrics.JobsCompleted.WithLabelValues(job.JobType, string(status)).Inc()
	logging.Info("Reconciler finalized job %s as %s: %d ok, %d errors", job.ID, status, success, errors)
	return nil
}

func stageKind(stageName string) (store.ArtifactKind, bool) {
	switch stageName {
	case store.StageThumbnail:
		return store.KindThumbnail, true
	case store.StageCache:
		return store.KindCache, true
	default:
		return "", false
	}
}
