package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"media-ingest/internal/cachefolder"
	"media-ingest/internal/decoder"
	"media-ingest/internal/jobs"
	"media-ingest/internal/logging"
	"media-ingest/internal/mediatypes"
	"media-ingest/internal/messages"
	"media-ingest/internal/store"
	"media-ingest/internal/workers"
)

// HandleCollectionCreation registers a collection for a path and kicks
// off its first scan. Redelivery is safe: an existing collection at the
// same path is reused instead of duplicated.
func (w *Worker) HandleCollectionCreation(ctx context.Context, body []byte) error {
	var msg messages.CollectionCreationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed collection creation message: %v", err)
	}
	if msg.CollectionPath == "" {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "collection creation without a path")
	}

	collType := store.CollectionType(msg.CollectionType)
	if collType == "" {
		collType = store.CollectionFolder
		if mediatypes.IsArchiveFile(msg.CollectionPath) {
			collType = store.CollectionArchive
		}
	}

	coll, err := w.store.FindCollectionByPath(ctx, msg.CollectionPath)
	if errors.Is(err, store.ErrNotFound) {
		name := msg.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(msg.CollectionPath), filepath.Ext(msg.CollectionPath))
		}
		coll = &store.Collection{
			ID:   uuid.New().String(),
			Name: name,
			Path: msg.CollectionPath,
			Type: collType,
		}
		if err := w.store.CreateCollection(ctx, coll); err != nil {
			return err
		}
		logging.Info("Created collection %s (%s) at %s", coll.ID, coll.Type, coll.Path)
	} else if err != nil {
		return err
	}

	jobID := msg.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	job := &store.BackgroundJob{ID: jobID, JobType: store.JobTypeCollectionScan, CollectionID: coll.ID}
	if err := w.store.CreateJob(ctx, job); err != nil {
		return err
	}

	return w.pub.Publish(ctx, messages.TypeCollectionScan, messages.CollectionScanMessage{
		CollectionID:        coll.ID,
		CollectionPath:      coll.Path,
		CollectionType:      string(coll.Type),
		UseDirectFileAccess: msg.UseDirectFileAccess,
		JobID:               jobID,
		Origin:              msg.Origin,
	})
}

// HandleLibraryScan enumerates a library root one level deep and turns
// every subdirectory and archive file into a collection.
func (w *Worker) HandleLibraryScan(ctx context.Context, body []byte) error {
	var msg messages.LibraryScanMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed library scan message: %v", err)
	}

	entries, err := os.ReadDir(msg.LibraryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jobs.Poisonf(jobs.ErrorFileNotFound, "library path %s does not exist", msg.LibraryPath)
		}
		return fmt.Errorf("failed to read library %s: %w", msg.LibraryPath, err)
	}

	created, rescanned, skipped := 0, 0, 0
	for _, de := range entries {
		name := de.Name()
		path := filepath.Join(msg.LibraryPath, name)

		isCandidate := (de.IsDir() && msg.IncludeSubfolders) || (!de.IsDir() && mediatypes.IsArchiveFile(name))
		if !isCandidate || mediatypes.IsMetadataEntry(name) {
			continue
		}

		existing, err := w.store.FindCollectionByPath(ctx, path)
		switch {
		case errors.Is(err, store.ErrNotFound):
			collType := store.CollectionFolder
			if !de.IsDir() {
				collType = store.CollectionArchive
			}
			if err := w.pub.Publish(ctx, messages.TypeCollectionCreation, messages.CollectionCreationMessage{
				CollectionPath: path,
				CollectionType: string(collType),
				Origin:         msg.Origin,
			}); err != nil {
				return err
			}
			created++
		case err != nil:
			return err
		default:
			rescan, err := w.shouldRescan(ctx, existing, &msg)
			if err != nil {
				return err
			}
			if !rescan {
				skipped++
				continue
			}
			jobID := uuid.New().String()
			jobType := store.JobTypeResumeCollection
			if msg.OverwriteExisting {
				jobType = store.JobTypeCollectionScan
			}
			job := &store.BackgroundJob{ID: jobID, JobType: jobType, CollectionID: existing.ID}
			if err := w.store.CreateJob(ctx, job); err != nil {
				return err
			}
			if err := w.pub.Publish(ctx, messages.TypeCollectionScan, messages.CollectionScanMessage{
				CollectionID:        existing.ID,
				CollectionPath:      existing.Path,
				CollectionType:      string(existing.Type),
				ForceRescan:         msg.OverwriteExisting,
				UseDirectFileAccess: msg.UseDirectFileAccess,
				JobID:               jobID,
				Origin:              msg.Origin,
			}); err != nil {
				return err
			}
			rescanned++
		}
	}
	logging.Info("Library scan of %s: %d new, %d rescanned, %d skipped", msg.LibraryPath, created, rescanned, skipped)
	return nil
}

// shouldRescan decides whether an existing collection needs another
// pass. Overwrite always rescans; resume rescans only when the artifact
// lists lag behind the image list.
func (w *Worker) shouldRescan(ctx context.Context, coll *store.Collection, msg *messages.LibraryScanMessage) (bool, error) {
	if msg.OverwriteExisting {
		return true, nil
	}
	if !msg.ResumeIncomplete {
		return false, nil
	}

	images, err := w.store.CountImages(ctx, coll.ID)
	if err != nil {
		return false, err
	}
	if images == 0 {
		return true, nil
	}
	for _, kind := range []store.ArtifactKind{store.KindThumbnail, store.KindCache} {
		n, err := w.store.CountArtifacts(ctx, coll.ID, kind)
		if err != nil {
			return false, err
		}
		if n < images {
			return true, nil
		}
	}
	return false, nil
}

// HandleBulkOperation applies one operation across the named
// collections. Unknown collection ids are skipped, not fatal.
func (w *Worker) HandleBulkOperation(ctx context.Context, body []byte) error {
	var msg messages.BulkOperationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed bulk operation message: %v", err)
	}

	switch msg.OperationType {
	case messages.BulkOpRescan:
		return w.bulkRescan(ctx, &msg)
	case messages.BulkOpRegenerateThumbnail:
		return w.bulkRegenerate(ctx, &msg, store.KindThumbnail)
	case messages.BulkOpRegenerateCache:
		return w.bulkRegenerate(ctx, &msg, store.KindCache)
	default:
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "unknown bulk operation %q", msg.OperationType)
	}
}

func (w *Worker) bulkRescan(ctx context.Context, msg *messages.BulkOperationMessage) error {
	for _, id := range msg.CollectionIDs {
		coll, err := w.store.GetCollection(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			logging.Warn("Bulk rescan: collection %s not found", id)
			continue
		}
		if err != nil {
			return err
		}

		jobID := uuid.New().String()
		job := &store.BackgroundJob{ID: jobID, JobType: store.JobTypeCollectionScan, CollectionID: coll.ID}
		if err := w.store.CreateJob(ctx, job); err != nil {
			return err
		}
		if err := w.pub.Publish(ctx, messages.TypeCollectionScan, messages.CollectionScanMessage{
			CollectionID:   coll.ID,
			CollectionPath: coll.Path,
			CollectionType: string(coll.Type),
			ForceRescan:    true,
			JobID:          jobID,
			Origin:         msg.Origin,
		}); err != nil {
			return err
		}
	}
	return nil
}

// bulkRegenerate drops one artifact list per collection and re-queues
// generation for every recorded image.
func (w *Worker) bulkRegenerate(ctx context.Context, msg *messages.BulkOperationMessage, kind store.ArtifactKind) error {
	for _, id := range msg.CollectionIDs {
		images, err := w.store.ListImages(ctx, id)
		if err != nil {
			return err
		}
		if len(images) == 0 {
			logging.Warn("Bulk %s regeneration: collection %s has no images", kind, id)
			continue
		}

		if err := w.store.ClearArtifacts(ctx, id, kind); err != nil {
			return err
		}

		jobID := uuid.New().String()
		job := &store.BackgroundJob{ID: jobID, JobType: store.JobTypeBulkOperation, CollectionID: id}
		if err := w.store.CreateJob(ctx, job); err != nil {
			return err
		}
		js := &store.JobState{
			ID:           jobs.StateID(jobID, kind),
			JobID:        jobID,
			CollectionID: id,
			Kind:         kind,
			Status:       store.StatusPending,
			TotalImages:  len(images),
		}
		if err := w.store.CreateJobState(ctx, js); err != nil {
			return err
		}
		stage := store.StageThumbnail
		if kind == store.KindCache {
			stage = store.StageCache
		}
		if err := w.stages.StartStage(ctx, jobID, stage, len(images)); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers.ForIO(0))
		for i := range images {
			img := &images[i]
			g.Go(func() error {
				return w.publishRegeneration(gctx, img, kind, jobID, msg.Origin)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		logging.Info("Bulk %s regeneration queued for %s: %d images", kind, id, len(images))
	}
	return nil
}

func (w *Worker) publishRegeneration(ctx context.Context, img *store.ImageEntry, kind store.ArtifactKind, jobID string, origin messages.Origin) error {
	if kind == store.KindThumbnail {
		return w.pub.Publish(ctx, messages.TypeThumbnailGeneration, messages.ThumbnailGenerationMessage{
			ImageID:         img.ID,
			CollectionID:    img.CollectionID,
			ArchiveEntry:    img.Entry,
			ThumbnailWidth:  w.cfg.ThumbnailWidth,
			ThumbnailHeight: w.cfg.ThumbnailHeight,
			JobID:           jobs.StateID(jobID, kind),
			ScanJobID:       jobID,
			Origin:          origin,
		})
	}

	// Cache targets are pinned at publish time so every image of the
	// collection lands on the same root.
	var cachePath string
	if folder, err := w.selector.FolderFor(ctx, img.CollectionID); err == nil {
		format := w.cfg.CacheFormat
		if w.cfg.CachePreserveOriginal || mediatypes.IsAnimated(img.Filename) {
			format = "original"
		}
		ext := decoder.ExtensionForFormat(format, img.Filename)
		cachePath = cachefolder.CachePath(folder.Path, img.CollectionID, img.ID, w.cfg.CacheWidth, w.cfg.CacheHeight, ext)
	} else {
		logging.Warn("No cache folder for %s: %v", img.CollectionID, err)
	}
	return w.pub.Publish(ctx, messages.TypeCacheGeneration, messages.CacheGenerationMessage{
		ImageID:          img.ID,
		CollectionID:     img.CollectionID,
		ArchiveEntry:     img.Entry,
		CachePath:        cachePath,
		CacheWidth:       w.cfg.CacheWidth,
		CacheHeight:      w.cfg.CacheHeight,
		Quality:          w.cfg.CacheQuality,
		Format:           w.cfg.CacheFormat,
		PreserveOriginal: w.cfg.CachePreserveOriginal,
		ForceRegenerate:  true,
		JobID:            jobs.StateID(jobID, kind),
		ScanJobID:        jobID,
		Origin:           origin,
	})
}
