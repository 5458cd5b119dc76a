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

// cacheItem is one generated cache rendition waiting for its batch
// commit. The target path is resolved before batching so a pinned
// root from the message survives.
type cacheItem struct {
	imageID   string
	stateID   string
	scanJobID string
	path      string
	data      []byte
	format    string
	quality   int
	width     int
	height    int
}

// CacheConsumer consumes cache.generation messages.
type CacheConsumer struct {
	store    *store.Store
	selector *cachefolder.Selector
	states   *jobs.StateTracker
	stages   *jobs.StageTracker
	cfg      *config.Config
	batcher  *Batcher[cacheItem]
}

// NewCacheConsumer creates the cache consumer.
func NewCacheConsumer(s *store.Store, sel *cachefolder.Selector, cfg *config.Config) *CacheConsumer {
	c := &CacheConsumer{
		store:    s,
		selector: sel,
		states:   jobs.NewStateTracker(s),
		stages:   jobs.NewStageTracker(s),
		cfg:      cfg,
	}
	c.batcher = NewBatcher("cache", cfg.MaxBatchSize, cfg.BatchTimeout, c.flush)
	return c
}

// Start runs the age flusher until ctx is cancelled.
func (c *CacheConsumer) Start(ctx context.Context) { c.batcher.Start(ctx) }

// Drain flushes and waits for outstanding commits.
func (c *CacheConsumer) Drain() { c.batcher.Drain() }

// Handle generates one cache rendition and stages it for the next
// batch commit.
func (c *CacheConsumer) Handle(ctx context.Context, body []byte) error {
	var msg messages.CacheGenerationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed cache message: %v", err)
	}
	width, height := msg.CacheWidth, msg.CacheHeight
	if width == 0 {
		width = c.cfg.CacheWidth
	}
	if height == 0 {
		height = c.cfg.CacheHeight
	}
	if msg.JobID != "" {
		c.states.MarkRunning(ctx, []string{msg.JobID})
	}

	if msg.ForceRegenerate {
		if err := c.store.DeleteArtifact(ctx, msg.CollectionID, store.KindCache, msg.ImageID, width, height); err != nil {
			return err
		}
	} else {
		skip, err := c.alreadyDone(ctx, &msg, width, height)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
	}

	data, err := loadSource(msg.ArchiveEntry, c.cfg.MaxZipEntrySize, c.cfg.MaxImageSize)
	if err != nil {
		if typ, ok := jobs.AsPoison(err); ok {
			// Size overruns included: a cache entry must exist for
			// every image, so terminal failures always leave a dummy.
			return c.recordDummy(ctx, &msg, width, height, typ, err)
		}
		return err
	}

	out, format, quality, err := c.render(data, &msg, width, height)
	if err != nil {
		return c.recordDummy(ctx, &msg, width, height, jobs.ErrorDecodeFailed, err)
	}

	path, err := c.resolvePath(ctx, &msg, width, height, format)
	if err != nil {
		return err
	}

	c.batcher.Add(msg.CollectionID, cacheItem{
		imageID:   msg.ImageID,
		stateID:   msg.JobID,
		scanJobID: msg.ScanJobID,
		path:      path,
		data:      out,
		format:    format,
		quality:   quality,
		width:     width,
		height:    height,
	})
	return nil
}

func (c *CacheConsumer) alreadyDone(ctx context.Context, msg *messages.CacheGenerationMessage, width, height int) (bool, error) {
	path, ok, err := c.store.HasArtifact(ctx, msg.CollectionID, store.KindCache, msg.ImageID, width, height)
	if err != nil {
		return false, err
	}
	if ok {
		if path == "" || fileExists(path) {
			metrics.ArtifactsGenerated.WithLabelValues("cache", "skipped").Inc()
			c.settleState(ctx, msg.JobID, c.states.Skipped)
			c.advanceStage(ctx, msg.ScanJobID, "skipped")
			return true, nil
		}
		logging.Warn("Cache for %s recorded but missing on disk, regenerating", msg.ImageID)
		if err := c.store.DeleteArtifact(ctx, msg.CollectionID, store.KindCache, msg.ImageID, width, height); err != nil {
			return false, err
		}
		return false, nil
	}

	if msg.CachePath == "" {
		return false, nil
	}
	info, err := os.Stat(msg.CachePath)
	if err != nil {
		return false, nil
	}

	entry := store.ArtifactEntry{
		ImageID:     msg.ImageID,
		Path:        msg.CachePath,
		Width:       width,
		Height:      height,
		FileSize:    info.Size(),
		Format:      msg.Format,
		Quality:     msg.Quality,
		IsGenerated: true,
		IsValid:     true,
	}
	if err := c.store.AppendArtifacts(ctx, msg.CollectionID, store.KindCache, []store.ArtifactEntry{entry}); err != nil {
		return false, err
	}
	metrics.ArtifactsGenerated.WithLabelValues("cache", "readded").Inc()
	logging.Debug("Re-adopted on-disk cache rendition for %s", msg.ImageID)
	c.settleState(ctx, msg.JobID, c.states.Completed)
	c.advanceStage(ctx, msg.ScanJobID, "ok")
	return true, nil
}

// render produces the cache bytes. Animated sources and
// preserve-original mode pass the source through untouched. Sources
// already within the target box are re-encoded at full quality rather
// than upscaled.
func (c *CacheConsumer) render(data []byte, msg *messages.CacheGenerationMessage, width, height int) (out []byte, format string, quality int, err error) {
	name := msg.ArchiveEntry.EntryName
	if mediatypes.IsAnimated(name) || msg.PreserveOriginal {
		return data, strings.TrimPrefix(mediatypes.Ext(name), "."), 0, nil
	}

	format = msg.Format
	if format == "" {
		format = c.cfg.CacheFormat
	}
	requested := msg.Quality
	if requested == 0 {
		requested = c.cfg.CacheQuality
	}

	srcW, srcH, probeErr := decoder.ProbeDimensions(data)
	if probeErr == nil && srcW <= width && srcH <= height {
		quality = 100
	} else {
		quality = SmartQuality(int64(len(data)), srcW, srcH, requested)
	}
	out, err = decoder.Resize(data, width, height, format, quality)
	if err != nil {
		return nil, "", 0, err
	}
	return out, format, quality, nil
}

// resolvePath prefers the path pinned at publish time and falls back
// to the live selector.
func (c *CacheConsumer) resolvePath(ctx context.Context, msg *messages.CacheGenerationMessage, width, height int, format string) (string, error) {
	if msg.CachePath != "" {
		return msg.CachePath, nil
	}
	folder, err := c.selector.FolderFor(ctx, msg.CollectionID)
	if err != nil {
		return "", err
	}
	ext := decoder.ExtensionForFormat(format, msg.ArchiveEntry.EntryName)
	return cachefolder.CachePath(folder.Path, msg.CollectionID, msg.ImageID, width, height, ext), nil
}

func (c *CacheConsumer) recordDummy(ctx context.Context, msg *messages.CacheGenerationMessage, width, height int, typ jobs.ErrorType, cause error) error {
	logging.Warn("Cache for %s failed terminally (%s): %v", msg.ImageID, typ, cause)
	entry := store.ArtifactEntry{
		ImageID:      msg.ImageID,
		Width:        width,
		Height:       height,
		IsDummy:      true,
		ErrorMessage: cause.Error(),
		ErrorType:    string(typ),
	}
	if err := c.store.AppendArtifacts(ctx, msg.CollectionID, store.KindCache, []store.ArtifactEntry{entry}); err != nil {
		return err
	}
	metrics.ArtifactsGenerated.WithLabelValues("cache", "dummy").Inc()
	if msg.JobID != "" {
		if err := c.states.Failed(ctx, msg.JobID, typ, true); err != nil {
			return err
		}
	}
	c.advanceStage(ctx, msg.ScanJobID, "failed")
	return nil
}

// flush writes one collection's cache renditions and commits them as
// a single append. Usage accounting lands on the folder that actually
// holds each file, which may differ from the current assignment when
// paths were pinned before a folder set change.
func (c *CacheConsumer) flush(ctx context.Context, collectionID string, items []cacheItem) {
	folders, err := c.store.ActiveCacheFolders(ctx)
	if err != nil {
		logging.Error("Dropping %d cache renditions for %s: %v", len(items), collectionID, err)
		c.failItems(ctx, items, jobs.ErrorStorageFailure)
		return
	}

	var entries []store.ArtifactEntry
	var committed []cacheItem
	bytesPerFolder := map[string]int64{}
	filesPerFolder := map[string]int64{}
	madeDirs := map[string]bool{}

	for _, it := range items {
		dir := filepath.Dir(it.path)
		if !madeDirs[dir] {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logging.Error("Failed to create %s: %v", dir, err)
				c.failItems(ctx, []cacheItem{it}, jobs.ErrorStorageFailure)
				continue
			}
			madeDirs[dir] = true
		}
		if err := os.WriteFile(it.path, it.data, 0o644); err != nil {
			logging.Error("Failed to write %s: %v", it.path, err)
			c.failItems(ctx, []cacheItem{it}, jobs.ErrorStorageFailure)
			continue
		}
		entries = append(entries, store.ArtifactEntry{
			ImageID:     it.imageID,
			Path:        it.path,
			Width:       it.width,
			Height:      it.height,
			FileSize:    int64(len(it.data)),
			Format:      it.format,
			Quality:     it.quality,
			IsGenerated: true,
			IsValid:     true,
		})
		committed = append(committed, it)
		if f := folderForPath(folders, it.path); f != nil {
			bytesPerFolder[f.ID] += int64(len(it.data))
			filesPerFolder[f.ID]++
		}
	}
	if len(entries) == 0 {
		return
	}

	if err := c.store.AppendArtifacts(ctx, collectionID, store.KindCache, entries); err != nil {
		logging.Error("Failed to commit %d cache renditions for %s: %v", len(entries), collectionID, err)
		c.failItems(ctx, committed, jobs.ErrorStorageFailure)
		return
	}

	var bytesWritten int64
	for folderID, bytes := range bytesPerFolder {
		bytesWritten += bytes
		if err := c.store.IncrementCacheFolderUsage(ctx, folderID, bytes, filesPerFolder[folderID]); err != nil {
			logging.Warn("Failed to account cache usage for folder %s: %v", folderID, err)
		}
		if err := c.store.AddCachedCollection(ctx, folderID, collectionID); err != nil {
			logging.Warn("Failed to record cached collection on folder %s: %v", folderID, err)
		}
	}

	metrics.ArtifactBytesWritten.WithLabelValues("cache").Add(float64(bytesWritten))
	metrics.ArtifactsGenerated.WithLabelValues("cache", "generated").Add(float64(len(entries)))
	for _, it := range committed {
		c.settleState(ctx, it.stateID, c.states.Completed)
		c.advanceStage(ctx, it.scanJobID, "ok")
	}
	logging.Debug("Committed %d cache renditions for %s", len(entries), collectionID)
}

// failItems settles a batch remainder that never reached the store.
func (c *CacheConsumer) failItems(ctx context.Context, items []cacheItem, typ jobs.ErrorType) {
	for _, it := range items {
		c.settleState(ctx, it.stateID, func(ctx context.Context, id string) error {
			return c.states.Failed(ctx, id, typ, false)
		})
		c.advanceStage(ctx, it.scanJobID, "failed")
	}
}

func (c *CacheConsumer) settleState(ctx context.Context, stateID string, fn func(context.Context, string) error) {
	if stateID == "" {
		return
	}
	if err := fn(ctx, stateID); err != nil {
		logging.Warn("Failed to settle job state %s: %v", stateID, err)
	}
}

// advanceStage bumps the parent scan job's cache-stage counter.
func (c *CacheConsumer) advanceStage(ctx context.Context, scanJobID, result string) {
	if scanJobID == "" {
		return
	}
	if err := c.stages.Advance(ctx, scanJobID, store.StageCache, result); err != nil {
		logging.Warn("Failed to advance cache stage for job %s: %v", scanJobID, err)
	}
}

// folderForPath finds the cache folder whose root contains path.
func folderForPath(folders []store.CacheFolder, path string) *store.CacheFolder {
	for i := range folders {
		root := folders[i].Path + string(os.PathSeparator)
		if strings.HasPrefix(path, root) || path == folders[i].Path {
			return &folders[i]
		}
	}
	return nil
}
