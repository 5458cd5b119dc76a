package process

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

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

// Publisher is the broker surface the processing worker needs.
type Publisher interface {
	Publish(ctx context.Context, msgType messages.MessageType, body interface{}) error
}

// Worker consumes the image.processing queue.
type Worker struct {
	store    *store.Store
	pub      Publisher
	selector *cachefolder.Selector
	states   *jobs.StateTracker
	cfg      *config.Config
}

// New creates a processing worker.
func New(s *store.Store, pub Publisher, sel *cachefolder.Selector, cfg *config.Config) *Worker {
	return &Worker{
		store:    s,
		pub:      pub,
		selector: sel,
		states:   jobs.NewStateTracker(s),
		cfg:      cfg,
	}
}

// Handle processes one image.processing message.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg messages.ImageProcessingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "malformed image processing message: %v", err)
	}
	if msg.ImageID == "" || msg.CollectionID == "" || msg.ArchiveEntry.IsZero() {
		return jobs.Poisonf(jobs.ErrorUnsupportedFormat, "image processing message missing identity")
	}

	width, height, format := msg.Width, msg.Height, msg.ImageFormat
	if width == 0 || height == 0 {
		var err error
		width, height, format, err = w.probe(&msg)
		if err != nil {
			if typ, poison := jobs.AsPoison(err); poison {
				return w.recordPoison(ctx, &msg, typ, err)
			}
			return err
		}
	}

	img := &store.ImageEntry{
		ID:           msg.ImageID,
		CollectionID: msg.CollectionID,
		Filename:     filepath.Base(msg.ArchiveEntry.EntryName),
		RelativePath: msg.ArchiveEntry.EntryPath,
		Entry:        msg.ArchiveEntry,
		FileType:     sourceType(msg.ArchiveEntry),
		FileSize:     msg.FileSize,
		Width:        width,
		Height:       height,
		Format:       format,
	}
	if err := w.store.AppendImage(ctx, img); err != nil {
		return err
	}

	if msg.GenerateThumbnail {
		out := messages.ThumbnailGenerationMessage{
			ImageID:         msg.ImageID,
			CollectionID:    msg.CollectionID,
			ArchiveEntry:    msg.ArchiveEntry,
			ThumbnailWidth:  w.cfg.ThumbnailWidth,
			ThumbnailHeight: w.cfg.ThumbnailHeight,
			JobID:           jobs.StateID(msg.ScanJobID, store.KindThumbnail),
			ScanJobID:       msg.ScanJobID,
			Origin:          msg.Origin,
		}
		if err := w.pub.Publish(ctx, messages.TypeThumbnailGeneration, out); err != nil {
			return err
		}
	}

	if msg.OptimizeImage {
		out := messages.CacheGenerationMessage{
			ImageID:          msg.ImageID,
			CollectionID:     msg.CollectionID,
			ArchiveEntry:     msg.ArchiveEntry,
			CachePath:        w.pinCachePath(ctx, &msg),
			CacheWidth:       w.cfg.CacheWidth,
			CacheHeight:      w.cfg.CacheHeight,
			Quality:          w.cfg.CacheQuality,
			Format:           w.cfg.CacheFormat,
			PreserveOriginal: w.cfg.CachePreserveOriginal,
			JobID:            jobs.StateID(msg.ScanJobID, store.KindCache),
			ScanJobID:        msg.ScanJobID,
			Origin:           msg.Origin,
		}
		if err := w.pub.Publish(ctx, messages.TypeCacheGeneration, out); err != nil {
			return err
		}
	}
	return nil
}

// probe reads the source just far enough to learn dimensions and
// format. Sources above the image size limit are not read at all; the
// artifact consumers apply their own limit handling.
func (w *Worker) probe(msg *messages.ImageProcessingMessage) (width, height int, format string, err error) {
	format = mediatypes.Ext(msg.ArchiveEntry.EntryName)
	if len(format) > 0 {
		format = format[1:]
	}
	if msg.FileSize > w.cfg.MaxImageSize {
		logging.Debug("Skipping probe of %s: %d bytes over limit", msg.ArchiveEntry.DisplayPath(), msg.FileSize)
		return 0, 0, format, nil
	}

	data, err := archive.ExtractBytes(msg.ArchiveEntry)
	if err != nil {
		if typ, ok := jobs.AsPoison(err); ok {
			return 0, 0, "", jobs.Poison(typ, err)
		}
		return 0, 0, "", fmt.Errorf("failed to read %s: %w", msg.ArchiveEntry.DisplayPath(), err)
	}

	width, height, err = decoder.ProbeDimensions(data)
	if err != nil {
		return 0, 0, "", jobs.Poison(jobs.ErrorBadImageFormat, err)
	}
	return width, height, format, nil
}

// recordPoison gives a terminally unreadable image its dummy artifact
// entries so collection counts still line up, then acks via the
// returned poison error.
func (w *Worker) recordPoison(ctx context.Context, msg *messages.ImageProcessingMessage, typ jobs.ErrorType, cause error) error {
	logging.Warn("Image %s is unprocessable (%s): %v", msg.ArchiveEntry.DisplayPath(), typ, cause)

	img := &store.ImageEntry{
		ID:           msg.ImageID,
		CollectionID: msg.CollectionID,
		Filename:     filepath.Base(msg.ArchiveEntry.EntryName),
		RelativePath: msg.ArchiveEntry.EntryPath,
		Entry:        msg.ArchiveEntry,
		FileType:     sourceType(msg.ArchiveEntry),
		FileSize:     msg.FileSize,
	}
	if err := w.store.AppendImage(ctx, img); err != nil {
		return err
	}

	dummies := []struct {
		kind          store.ArtifactKind
		width, height int
	}{
		{store.KindThumbnail, w.cfg.ThumbnailWidth, w.cfg.ThumbnailHeight},
		{store.KindCache, w.cfg.CacheWidth, w.cfg.CacheHeight},
	}
	for _, d := range dummies {
		entry := store.ArtifactEntry{
			ImageID:      msg.ImageID,
			Width:        d.width,
			Height:       d.height,
			IsDummy:      true,
			ErrorMessage: cause.Error(),
			ErrorType:    string(typ),
		}
		if err := w.store.AppendArtifacts(ctx, msg.CollectionID, d.kind, []store.ArtifactEntry{entry}); err != nil {
			return err
		}
		if msg.ScanJobID != "" {
			stateID := jobs.StateID(msg.ScanJobID, d.kind)
			if err := w.states.Failed(ctx, stateID, typ, true); err != nil {
				logging.Warn("Failed to record failure on state %s: %v", stateID, err)
			}
		}
	}
	return jobs.Poison(typ, cause)
}

// pinCachePath picks the cache root for the collection up front. An
// empty result leaves the choice to the cache consumer.
func (w *Worker) pinCachePath(ctx context.Context, msg *messages.ImageProcessingMessage) string {
	folder, err := w.selector.FolderFor(ctx, msg.CollectionID)
	if err != nil {
		logging.Warn("No cache folder pinned for %s: %v", msg.CollectionID, err)
		return ""
	}
	format := w.cfg.CacheFormat
	if w.cfg.CachePreserveOriginal || mediatypes.IsAnimated(msg.ArchiveEntry.EntryName) {
		// The cache consumer copies these through unre-encoded, so the
		// pinned path has to keep the source container's extension.
		format = "original"
	}
	ext := decoder.ExtensionForFormat(format, msg.ArchiveEntry.EntryName)
	return cachefolder.CachePath(folder.Path, msg.CollectionID, msg.ImageID, w.cfg.CacheWidth, w.cfg.CacheHeight, ext)
}

func sourceType(e archive.Entry) store.SourceType {
	if e.IsArchiveMember() {
		return store.SourceArchiveEntry
	}
	return store.SourceRegularFile
}
