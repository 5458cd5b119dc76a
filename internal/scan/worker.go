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

	"media-ingest/internal/archive"
	"media-ingest/internal/cachefolder"
	"media-ingest/internal/config"
	"media-ingest/internal/decoder"
	"media-ingest/internal/jobs"
	"media-ingest/internal/logging"
	"media-ingest/internal/mediatypes"
	"media-ingest/internal/messages"
	"media-ingest/internal/store"
)

// Publisher is the broker surface the scan worker needs.
type Publisher interface {
	Publish(ctx context.Context, msgType messages.MessageType, body interface{}) error
}

// Worker consumes the scan-side queues.
type Worker struct {
	store    *store.Store
	pub      Publisher
	selector *cachefolder.Selector
	stages   *jobs.StageTracker
	cfg      *config.Config
}

// New creates a scan worker.
func New(s *store.Store, pub Publisher, sel *cachefolder.Selector, cfg *config.Config) *Worker {
	return &Worker{
		store:    s,
		pub:      pub,
		selector: sel,
		stages:   jobs.NewStageTracker(s),
		cfg:      cfg,
	}
}

// source is one discovered media file before it is routed.
type source struct {
	entry    archive.Entry
	fileType store.SourceType
	size     int64
}

// HandleCollectionScan runs the scan stage for one collection.
func (w *Worker) HandleCollectionScan(ctx context.Context, body []byte) error {
	var msg messages.CollectionScanMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed collection scan message: %v", err)
	}

	coll, err := w.store.GetCollection(ctx, msg.CollectionID)
	if errors.Is(err, store.ErrNotFound) {
		if msg.JobID != "" {
			w.stages.FailStage(ctx, msg.JobID, store.StageScan, "collection not found")
		}
		return jobs.Poisonf(jobs.ErrorFileNotFound, "collection %s not found", msg.CollectionID)
	}
	if err != nil {
		return err
	}

	logging.Info("Scanning collection %s (%s, force=%t)", coll.ID, coll.Path, msg.ForceRescan)
	if msg.JobID != "" {
		if err := w.store.UpdateJobStatus(ctx, msg.JobID, store.StatusRunning, ""); err != nil {
			return err
		}
	}

	if msg.ForceRescan {
		if err := w.store.ClearImageArrays(ctx, coll.ID); err != nil {
			return err
		}
	}

	sources, err := w.discover(coll)
	if err != nil {
		if _, poison := jobs.AsPoison(err); poison && msg.JobID != "" {
			w.stages.FailStage(ctx, msg.JobID, store.StageScan, err.Error())
		}
		return err
	}

	if msg.JobID != "" {
		if err := w.stages.StartStage(ctx, msg.JobID, store.StageScan, len(sources)); err != nil {
			return err
		}
	}

	// One video in the set promotes the whole collection to direct
	// access. Videos are never re-encoded, and splitting one
	// collection across modes would split its accounting.
	direct := msg.UseDirectFileAccess
	if !direct {
		for _, src := range sources {
			if mediatypes.GetFileType(src.entry.EntryName) == mediatypes.FileTypeVideo {
				direct = true
				break
			}
		}
	}

	queued, directImages, directThumbs := 0, 0, 0
	for _, src := range sources {
		result := "ok"
		if direct {
			thumbAdded, err := w.addDirect(ctx, coll, src)
			if err != nil {
				logging.Warn("Failed to add %s: %v", src.entry.DisplayPath(), err)
				result = "failed"
			} else {
				directImages++
				if thumbAdded {
					directThumbs++
				}
			}
		} else {
			if err := w.queueProcessing(ctx, coll, &msg, src); err != nil {
				logging.Warn("Failed to queue %s: %v", src.entry.DisplayPath(), err)
				result = "failed"
			} else {
				queued++
			}
		}
		if msg.JobID != "" {
			if err := w.stages.Advance(ctx, msg.JobID, store.StageScan, result); err != nil {
				return err
			}
		}
	}

	if msg.JobID != "" {
		if err := w.openArtifactStages(ctx, coll.ID, msg.JobID, queued, directImages, directThumbs); err != nil {
			return err
		}
	}
	logging.Info("Scan of %s found %d files: %d queued, %d direct", coll.ID, len(sources), queued, directImages)
	return nil
}

// openArtifactStages sets up the thumbnail and cache stages and job
// states once the queued count is known. With nothing queued the job
// finishes here, with the counts the direct pass actually produced:
// the thumbnail count runs short of the image count when video
// thumbnails failed, so a later rescan can retry them.
func (w *Worker) openArtifactStages(ctx context.Context, collectionID, jobID string, queued, directImages, directThumbs int) error {
	if queued == 0 {
		if err := w.stages.CompleteStage(ctx, jobID, store.StageThumbnail, directThumbs, directImages, ""); err != nil {
			return err
		}
		if err := w.stages.CompleteStage(ctx, jobID, store.StageCache, directImages, directImages, ""); err != nil {
			return err
		}
		return w.store.FinalizeJob(ctx, jobID, store.StatusCompleted, directImages, 0, nil)
	}

	for _, kind := range []store.ArtifactKind{store.KindThumbnail, store.KindCache} {
		js := &store.JobState{
			ID:           jobs.StateID(jobID, kind),
			JobID:        jobID,
			CollectionID: collectionID,
			Kind:         kind,
			Status:       store.StatusPending,
			TotalImages:  queued,
		}
		if err := w.store.CreateJobState(ctx, js); err != nil {
			return err
		}
	}
	if err := w.stages.StartStage(ctx, jobID, store.StageThumbnail, queued); err != nil {
		return err
	}
	return w.stages.StartStage(ctx, jobID, store.StageCache, queued)
}

// discover lists the media files of a collection without reading any
// content bytes.
func (w *Worker) discover(coll *store.Collection) ([]source, error) {
	if coll.Type == store.CollectionArchive {
		return w.discoverArchive(coll.Path)
	}
	return w.discoverFolder(coll.Path)
}

func (w *Worker) discoverFolder(dir string) ([]source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, jobs.Poisonf(jobs.ErrorFileNotFound, "collection path %s does not exist", dir)
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var sources []source
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !mediatypes.IsMediaFile(name) || mediatypes.IsMetadataEntry(name) {
			continue
		}
		entry, err := archive.NewFileEntry(dir, name)
		if err != nil {
			logging.Warn("Skipping %s: %v", name, err)
			continue
		}
		var size int64
		if info, err := de.Info(); err == nil {
			size = info.Size()
		}
		sources = append(sources, source{entry: entry, fileType: store.SourceRegularFile, size: size})
	}
	return sources, nil
}

func (w *Worker) discoverArchive(path string) ([]source, error) {
	r, err := archive.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, jobs.Poisonf(jobs.ErrorFileNotFound, "archive %s does not exist", path)
		}
		return nil, jobs.Poison(jobs.ErrorCorruptedArchive, err)
	}
	defer r.Close()

	members, err := r.Members()
	if err != nil {
		return nil, jobs.Poison(jobs.ErrorCorruptedArchive, err)
	}

	var sources []source
	for _, m := range members {
		if m.IsDir || mediatypes.IsMetadataEntry(m.Name) || !mediatypes.IsMediaFile(m.Name) {
			continue
		}
		entry, err := archive.NewMemberEntry(path, m.Name)
		if err != nil {
			logging.Warn("Skipping archive member %s: %v", m.Name, err)
			continue
		}
		entry.CompressedSize = m.CompressedSize
		entry.UncompressedSize = m.UncompressedSize
		sources = append(sources, source{entry: entry, fileType: store.SourceArchiveEntry, size: m.UncompressedSize})
	}
	return sources, nil
}

// queueProcessing emits one image-processing message for a discovered
// file.
func (w *Worker) queueProcessing(ctx context.Context, coll *store.Collection, msg *messages.CollectionScanMessage, src source) error {
	out := messages.ImageProcessingMessage{
		ImageID:           uuid.New().String(),
		CollectionID:      coll.ID,
		ArchiveEntry:      src.entry,
		FileSize:          src.size,
		GenerateThumbnail: true,
		OptimizeImage:     true,
		ScanJobID:         msg.JobID,
		Origin:            msg.Origin,
	}
	return w.pub.Publish(ctx, messages.TypeImageProcessing, out)
}

// addDirect records the image and its artifact entries without queueing
// anything. The cache entry always references the original. Videos get
// a generated poster-frame thumbnail; when frame extraction fails the
// thumbnail entry is omitted rather than recorded as a failure, and
// thumbAdded reports whether one landed.
func (w *Worker) addDirect(ctx context.Context, coll *store.Collection, src source) (thumbAdded bool, err error) {
	isVideo := mediatypes.GetFileType(src.entry.EntryName) == mediatypes.FileTypeVideo
	width, height := w.probeSource(src, isVideo)
	img := &store.ImageEntry{
		ID:           uuid.New().String(),
		CollectionID: coll.ID,
		Filename:     filepath.Base(src.entry.EntryName),
		RelativePath: src.entry.EntryPath,
		Entry:        src.entry,
		FileType:     src.fileType,
		FileSize:     src.size,
		Width:        width,
		Height:       height,
	}
	if err := w.store.AppendImage(ctx, img); err != nil {
		return false, err
	}

	cacheEntry := store.ArtifactEntry{
		ImageID:     img.ID,
		Width:       w.cfg.CacheWidth,
		Height:      w.cfg.CacheHeight,
		FileSize:    src.size,
		Format:      strings.TrimPrefix(mediatypes.Ext(src.entry.EntryName), "."),
		IsGenerated: false,
		IsValid:     true,
	}
	if err := w.store.AppendArtifacts(ctx, coll.ID, store.KindCache, []store.ArtifactEntry{cacheEntry}); err != nil {
		return false, err
	}

	if isVideo {
		if src.entry.IsArchiveMember() {
			return false, nil
		}
		if err := w.generateVideoThumbnail(ctx, coll, img, src); err != nil {
			logging.Warn("No thumbnail for video %s: %v", src.entry.DisplayPath(), err)
			return false, nil
		}
		return true, nil
	}

	thumbEntry := store.ArtifactEntry{
		ImageID:     img.ID,
		Width:       w.cfg.ThumbnailWidth,
		Height:      w.cfg.ThumbnailHeight,
		FileSize:    src.size,
		Format:      strings.TrimPrefix(mediatypes.Ext(src.entry.EntryName), "."),
		IsGenerated: false,
		IsValid:     true,
	}
	if err := w.store.AppendArtifacts(ctx, coll.ID, store.KindThumbnail, []store.ArtifactEntry{thumbEntry}); err != nil {
		return false, err
	}
	return true, nil
}

// probeSource reads the source dimensions. Best effort: a source that
// cannot be probed is still ingested with zero dimensions.
func (w *Worker) probeSource(src source, isVideo bool) (int, int) {
	if isVideo {
		if src.entry.IsArchiveMember() {
			return 0, 0
		}
		width, height, err := decoder.ProbeVideoDimensions(src.entry.SourcePath())
		if err != nil {
			logging.Debug("Failed to probe video %s: %v", src.entry.DisplayPath(), err)
			return 0, 0
		}
		return width, height
	}

	data, err := archive.ExtractBytes(src.entry)
	if err != nil {
		logging.Debug("Failed to read %s for probing: %v", src.entry.DisplayPath(), err)
		return 0, 0
	}
	width, height, err := decoder.ProbeDimensions(data)
	if err != nil {
		logging.Debug("Failed to probe %s: %v", src.entry.DisplayPath(), err)
		return 0, 0
	}
	return width, height
}

func (w *Worker) generateVideoThumbnail(ctx context.Context, coll *store.Collection, img *store.ImageEntry, src source) error {
	data, err := decoder.VideoThumbnail(src.entry.SourcePath(), w.cfg.ThumbnailWidth, w.cfg.ThumbnailHeight, w.cfg.ThumbnailQuality)
	if err != nil {
		return err
	}

	folder, err := w.selector.FolderFor(ctx, coll.ID)
	if err != nil {
		return err
	}
	path := cachefolder.ThumbnailPath(folder.Path, coll.ID, img.Filename, w.cfg.ThumbnailWidth, w.cfg.ThumbnailHeight, "jpg")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	entry := store.ArtifactEntry{
		ImageID:     img.ID,
		Path:        path,
		Width:       w.cfg.ThumbnailWidth,
		Height:      w.cfg.ThumbnailHeight,
		FileSize:    int64(len(data)),
		Format:      "jpeg",
		Quality:     w.cfg.ThumbnailQuality,
		IsGenerated: true,
		IsValid:     true,
	}
	if err := w.store.AppendArtifacts(ctx, coll.ID, store.KindThumbnail, []store.ArtifactEntry{entry}); err != nil {
		return err
	}
	if err := w.store.IncrementCacheFolderUsage(ctx, folder.ID, int64(len(data)), 1); err != nil {
		logging.Warn("Failed to account thumbnail for folder %s: %v", folder.ID, err)
	}
	return nil
}
