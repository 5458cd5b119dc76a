package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"media-ingest/internal/cachefolder"
	"media-ingest/internal/config"
	"media-ingest/internal/decoder"
	"media-ingest/internal/jobs"
	"media-ingest/internal/logging"
	"media-ingest/internal/mediatypes"
	"media-ingest/internal/messages"
	"media-ingest/internal/metrics"
	"media-ingest/internal/store"
)

// thumbItem is one generated thumbnail waiting for its batch commit.
type thumbItem struct {
	imageID   string
	filename  string
	stateID   string
	scanJobID string
	data      []byte
	format    string
	ext       string
	quality   int
	width     int
	height    int
}

// ThumbnailConsumer consumes thumbnail.generation messages.
type ThumbnailConsumer struct {
	store    *store.Store
	selector *cachefolder.Selector
	states   *jobs.StateTracker
	stages   *jobs.StageTracker
	cfg      *config.Config
	batcher  *Batcher[thumbItem]
}

// NewThumbnailConsumer creates the thumbnail consumer.
func NewThumbnailConsumer(s *store.Store, sel *cachefolder.Selector, cfg *config.Config) *ThumbnailConsumer {
	c := &ThumbnailConsumer{
		store:    s,
		selector: sel,
		states:   jobs.NewStateTracker(s),
		stages:   jobs.NewStageTracker(s),
		cfg:      cfg,
	}
	c.batcher = NewBatcher("thumbnail", cfg.MaxBatchSize, cfg.BatchTimeout, c.flush)
	return c
}

// Start runs the age flusher until ctx is cancelled.
func (c *ThumbnailConsumer) Start(ctx context.Context) { c.batcher.Start(ctx) }

// Drain flushes and waits for outstanding commits.
func (c *ThumbnailConsumer) Drain() { c.batcher.Drain() }

// Handle decodes one thumbnail request and stages the result for the
// next batch commit. Terminal failures are recorded immediately.
func (c *ThumbnailConsumer) Handle(ctx context.Context, body []byte) error {
	var msg messages.ThumbnailGenerationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed thumbnail message: %v", err)
	}
	width, height := msg.ThumbnailWidth, msg.ThumbnailHeight
	if width == 0 {
		width = c.cfg.ThumbnailWidth
	}
	if height == 0 {
		height = c.cfg.ThumbnailHeight
	}
	if msg.JobID != "" {
		c.states.MarkRunning(ctx, []string{msg.JobID})
	}

	skip, err := c.alreadyDone(ctx, &msg, width, height)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	data, err := loadSource(msg.ArchiveEntry, c.cfg.MaxZipEntrySize, c.cfg.MaxImageSize)
	if err != nil {
		return c.settleLoadError(ctx, &msg, width, height, err)
	}

	var out []byte
	format, ext := c.cfg.ThumbnailFormat, decoder.ExtensionForFormat(c.cfg.ThumbnailFormat, msg.ArchiveEntry.EntryName)
	quality := c.cfg.ThumbnailQuality
	if mediatypes.IsAnimated(msg.ArchiveEntry.EntryName) {
		// Re-encoding would freeze the animation; keep the original
		// bytes and extension.
		out = data
		ext = decoder.ExtensionForFormat("original", msg.ArchiveEntry.EntryName)
		format = strings.TrimPrefix(mediatypes.Ext(msg.ArchiveEntry.EntryName), ".")
		quality = 0
	} else {
		out, err = decoder.Resize(data, width, height, format, quality)
		if err != nil {
			return c.recordDummy(ctx, &msg, width, height, jobs.ErrorDecodeFailed, err)
		}
	}

	c.batcher.Add(msg.CollectionID, thumbItem{
		imageID:   msg.ImageID,
		filename:  filepath.Base(msg.ArchiveEntry.EntryName),
		stateID:   msg.JobID,
		scanJobID: msg.ScanJobID,
		data:      out,
		format:    format,
		ext:       ext,
		quality:   quality,
		width:     width,
		height:    height,
	})
	return nil
}

// alreadyDone applies the skip and resume checks. A recorded artifact
// whose file is present (or that references the original directly) is
// skipped; a file on disk with no record is re-adopted without a
// decode.
func (c *ThumbnailConsumer) alreadyDone(ctx context.Context, msg *messages.ThumbnailGenerationMessage, width, height int) (bool, error) {
	path, ok, err := c.store.HasArtifact(ctx, msg.CollectionID, store.KindThumbnail, msg.ImageID, width, height)
	if err != nil {
		return false, err
	}
	if ok {
		if path == "" || fileExists(path) {
			metrics.ArtifactsGenerated.WithLabelValues("thumbnail", "skipped").Inc()
			c.settleState(ctx, msg.JobID, c.states.Skipped)
			c.advanceStage(ctx, msg.ScanJobID, "skipped")
			return true, nil
		}
		logging.Warn("Thumbnail for %s recorded but missing on disk, regenerating", msg.ImageID)
		if err := c.store.DeleteArtifact(ctx, msg.CollectionID, store.KindThumbnail, msg.ImageID, width, height); err != nil {
			return false, err
		}
		return false, nil
	}

	folder, err := c.selector.FolderFor(ctx, msg.CollectionID)
	if err != nil {
		return false, nil
	}
	format := c.cfg.ThumbnailFormat
	if mediatypes.IsAnimated(msg.ArchiveEntry.EntryName) {
		format = "original"
	}
	expected := cachefolder.ThumbnailPath(folder.Path, msg.CollectionID,
		filepath.Base(msg.ArchiveEntry.EntryName), width, height, decoder.ExtensionForFormat(format, msg.ArchiveEntry.EntryName))
	info, err := os.Stat(expected)
	if err != nil {
		return false, nil
	}

	entry := store.ArtifactEntry{
		ImageID:     msg.ImageID,
		Path:        expected,
		Width:       width,
		Height:      height,
		FileSize:    info.Size(),
		Format:      c.cfg.ThumbnailFormat,
		Quality:     c.cfg.ThumbnailQuality,
		IsGenerated: true,
		IsValid:     true,
	}
	if err := c.store.AppendArtifacts(ctx, msg.CollectionID, store.KindThumbnail, []store.ArtifactEntry{entry}); err != nil {
		return false, err
	}
	metrics.ArtifactsGenerated.WithLabelValues("thumbnail", "readded").Inc()
	logging.Debug("Re-adopted on-disk thumbnail for %s", msg.ImageID)
	c.settleState(ctx, msg.JobID, c.states.Completed)
	c.advanceStage(ctx, msg.ScanJobID, "ok")
	return true, nil
}

// settleLoadError records a failed source read. Size overruns fail the
// image without a dummy entry: the thumbnail list stays clean and the
// browse layer falls back to the original. Other terminal errors get a
// dummy so the collection's counts line up.
func (c *ThumbnailConsumer) settleLoadError(ctx context.Context, msg *messages.ThumbnailGenerationMessage, width, height int, err error) error {
	if jobs.IsSizeLimit(err) {
		logging.Warn("Thumbnail for %s skipped: %v", msg.ImageID, err)
		metrics.ArtifactsGenerated.WithLabelValues("thumbnail", "failed").Inc()
		if msg.JobID != "" {
			if serr := c.states.Failed(ctx, msg.JobID, jobs.ErrorSizeLimit, false); serr != nil {
				return serr
			}
		}
		c.advanceStage(ctx, msg.ScanJobID, "failed")
		return nil
	}
	if typ, ok := jobs.AsPoison(err); ok {
		return c.recordDummy(ctx, msg, width, height, typ, err)
	}
	return err
}

// recordDummy appends a terminal-failure entry immediately, outside
// the batch, and acks through a nil return.
func (c *ThumbnailConsumer) recordDummy(ctx context.Context, msg *messages.ThumbnailGenerationMessage, width, height int, typ jobs.ErrorType, cause error) error {
	logging.Warn("Thumbnail for %s failed terminally (%s): %v", msg.ImageID, typ, cause)
	entry := store.ArtifactEntry{
		ImageID:      msg.ImageID,
		Width:        width,
		Height:       height,
		IsDummy:      true,
		ErrorMessage: cause.Error(),
		ErrorType:    string(typ),
	}
	if err := c.store.AppendArtifacts(ctx, msg.CollectionID, store.KindThumbnail, []store.ArtifactEntry{entry}); err != nil {
		return err
	}
	metrics.ArtifactsGenerated.WithLabelValues("thumbnail", "dummy").Inc()
	if msg.JobID != "" {
		if err := c.states.Failed(ctx, msg.JobID, typ, true); err != nil {
			return err
		}
	}
	c.advanceStage(ctx, msg.ScanJobID, "failed")
	return nil
}

// flush writes one collection's thumbnails to disk and commits them as
// a single append.
func (c *ThumbnailConsumer) flush(ctx context.Context, collectionID string, items []thumbItem) {
	folder, err := c.selector.FolderFor(ctx, collectionID)
	if err != nil {
		logging.Error("Dropping %d thumbnails for %s: %v", len(items), collectionID, err)
		c.failItems(ctx, items, jobs.ErrorFileNotFound)
		return
	}

	dir := filepath.Join(folder.Path, "thumbnails", collectionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Error("Failed to create %s: %v", dir, err)
		c.failItems(ctx, items, jobs.ErrorStorageFailure)
		return
	}

	var entries []store.ArtifactEntry
	var committed []thumbItem
	var bytesWritten int64
	for _, it := range items {
		path := cachefolder.ThumbnailPath(folder.Path, collectionID, it.filename, it.width, it.height, it.ext)
		if err := os.WriteFile(path, it.data, 0o644); err != nil {
			logging.Error("Failed to write %s: %v", path, err)
			c.failItems(ctx, []thumbItem{it}, jobs.ErrorStorageFailure)
			continue
		}
		entries = append(entries, store.ArtifactEntry{
			ImageID:     it.imageID,
			Path:        path,
			Width:       it.width,
			Height:      it.height,
			FileSize:    int64(len(it.data)),
			Format:      it.format,
			Quality:     it.quality,
			IsGenerated: true,
			IsValid:     true,
		})
		committed = append(committed, it)
		bytesWritten += int64(len(it.data))
	}
	if len(entries) == 0 {
		return
	}

	if err := c.store.AppendArtifacts(ctx, collectionID, store.KindThumbnail, entries); err != nil {
		logging.Error("Failed to commit %d thumbnails for %s: %v", len(entries), collectionID, err)
		c.failItems(ctx, committed, jobs.ErrorStorageFailure)
		return
	}
	if err := c.store.IncrementCacheFolderUsage(ctx, folder.ID, bytesWritten, int64(len(entries))); err != nil {
		logging.Warn("Failed to account thumbnails for folder %s: %v", folder.ID, err)
	}

	metrics.ArtifactBytesWritten.WithLabelValues("thumbnail").Add(float64(bytesWritten))
	metrics.ArtifactsGenerated.WithLabelValues("thumbnail", "generated").Add(float64(len(entries)))
	for _, it := range committed {
		c.settleState(ctx, it.stateID, c.states.Completed)
		c.advanceStage(ctx, it.scanJobID, "ok")
	}
	logging.Debug("Committed %d thumbnails for %s", len(entries), collectionID)
}

// failItems settles a batch remainder that never reached the store.
// The messages behind these items were acked when they were staged, so
// the job states are the only place left to record the loss.
func (c *ThumbnailConsumer) failItems(ctx context.Context, items []thumbItem, typ jobs.ErrorType) {
	for _, it := range items {
		c.settleState(ctx, it.stateID, func(ctx context.Context, id string) error {
			return c.states.Failed(ctx, id, typ, false)
		})
		c.advanceStage(ctx, it.scanJobID, "failed")
	}
}

// settleState applies a state transition, tolerating messages without
// job tracking (bulk retries, manual injections).
func (c *ThumbnailConsumer) settleState(ctx context.Context, stateID string, fn func(context.Context, string) error) {
	if stateID == "" {
		return
	}
	if err := fn(ctx, stateID); err != nil {
		logging.Warn("Failed to settle job state %s: %v", stateID, err)
	}
}

// advanceStage bumps the parent scan job's thumbnail-stage counter.
func (c *ThumbnailConsumer) advanceStage(ctx context.Context, scanJobID, result string) {
	if scanJobID == "" {
		return
	}
	if err := c.stages.Advance(ctx, scanJobID, store.StageThumbnail, result); err != nil {
		logging.Warn("Failed to advance thumbnail stage for job %s: %v", scanJobID, err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
