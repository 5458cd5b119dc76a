package scan

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"media-ingest/internal/cachefolder"
	"media-ingest/internal/config"
	"media-ingest/internal/jobs"
	"media-ingest/internal/messages"
	"media-ingest/internal/store"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMsg
}

type publishedMsg struct {
	msgType messages.MessageType
	body    interface{}
}

func (f *fakePublisher) Publish(_ context.Context, t messages.MessageType, body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{msgType: t, body: body})
	return nil
}

func (f *fakePublisher) ofType(t messages.MessageType) []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMsg
	for _, p := range f.published {
		if p.msgType == t {
			out = append(out, p)
		}
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	return cfg
}

func testWorker(t *testing.T) (*Worker, *store.Store, *fakePublisher) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	pub := &fakePublisher{}
	return New(s, pub, cachefolder.NewSelector(s), testConfig(t)), s, pub
}

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return b
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func TestScanFolderQueuesImages(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.png", "notes.txt", "inner.zip", ".DS_Store")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, filepath.Join(dir, "sub"), "deep.jpg")

	coll := &store.Collection{ID: "c1", Name: "c1", Path: dir, Type: store.CollectionFolder}
	s.CreateCollection(ctx, coll)
	s.CreateJob(ctx, &store.BackgroundJob{ID: "j1", JobType: store.JobTypeCollectionScan, CollectionID: "c1"})

	body := marshal(t, messages.CollectionScanMessage{CollectionID: "c1", JobID: "j1"})
	if err := w.HandleCollectionScan(ctx, body); err != nil {
		t.Fatalf("HandleCollectionScan failed: %v", err)
	}

	// Only the two top-level images queue; text, archive, metadata and
	// the subdirectory are skipped.
	queued := pub.ofType(messages.TypeImageProcessing)
	if len(queued) != 2 {
		t.Fatalf("queued %d processing messages, want 2", len(queued))
	}

	js, err := s.GetJobState(ctx, jobs.StateID("j1", store.KindThumbnail))
	if err != nil {
		t.Fatalf("thumbnail job state missing: %v", err)
	}
	if js.TotalImages != 2 {
		t.Errorf("thumbnail state total = %d, want 2", js.TotalImages)
	}

	_, stages, _ := s.GetJob(ctx, "j1")
	for _, st := range stages {
		if st.Name == store.StageScan && st.Status != store.StatusCompleted {
			t.Errorf("scan stage = %s, want Completed", st.Status)
		}
	}
}

func TestScanArchiveEnumeratesMembers(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()

	zipPath := filepath.Join(t.TempDir(), "comic.cbz")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, name := range []string{"p1.jpg", "nested/p2.png", "__MACOSX/p1.jpg", "._p3.jpg", "readme.txt"} {
		mw, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		mw.Write([]byte("x"))
	}
	zw.Close()
	f.Close()

	coll := &store.Collection{ID: "c1", Name: "comic", Path: zipPath, Type: store.CollectionArchive}
	s.CreateCollection(ctx, coll)
	s.CreateJob(ctx, &store.BackgroundJob{ID: "j1", JobType: store.JobTypeCollectionScan, CollectionID: "c1"})

	body := marshal(t, messages.CollectionScanMessage{CollectionID: "c1", JobID: "j1"})
	if err := w.HandleCollectionScan(ctx, body); err != nil {
		t.Fatalf("HandleCollectionScan failed: %v", err)
	}

	queued := pub.ofType(messages.TypeImageProcessing)
	if len(queued) != 2 {
		t.Fatalf("queued %d processing messages, want 2", len(queued))
	}
	for _, p := range queued {
		msg := p.body.(messages.ImageProcessingMessage)
		if !msg.ArchiveEntry.IsArchiveMember() {
			t.Errorf("entry %s not marked as archive member", msg.ArchiveEntry.DisplayPath())
		}
	}
}

func TestScanMissingCollectionIsPoison(t *testing.T) {
	w, _, _ := testWorker(t)
	body := marshal(t, messages.CollectionScanMessage{CollectionID: "nope", JobID: "j1"})

	err := w.HandleCollectionScan(context.Background(), body)
	if _, ok := jobs.AsPoison(err); !ok {
		t.Fatalf("missing collection returned %v, want poison", err)
	}
}

func TestScanMalformedMessageIsPoison(t *testing.T) {
	w, _, _ := testWorker(t)
	err := w.HandleCollectionScan(context.Background(), []byte("{not json"))
	if _, ok := jobs.AsPoison(err); !ok {
		t.Fatalf("malformed body returned %v, want poison", err)
	}
}

func TestScanDirectAccessSkipsQueues(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	coll := &store.Collection{ID: "c1", Name: "c1", Path: dir, Type: store.CollectionFolder}
	s.CreateCollection(ctx, coll)
	s.CreateJob(ctx, &store.BackgroundJob{ID: "j1", JobType: store.JobTypeCollectionScan, CollectionID: "c1"})

	body := marshal(t, messages.CollectionScanMessage{CollectionID: "c1", JobID: "j1", UseDirectFileAccess: true})
	if err := w.HandleCollectionScan(ctx, body); err != nil {
		t.Fatalf("HandleCollectionScan failed: %v", err)
	}

	if n := len(pub.ofType(messages.TypeImageProcessing)); n != 0 {
		t.Errorf("direct access queued %d messages, want 0", n)
	}
	if n, _ := s.CountImages(ctx, "c1"); n != 1 {
		t.Errorf("images recorded = %d, want 1", n)
	}
	if n, _ := s.CountArtifacts(ctx, "c1", store.KindCache); n != 1 {
		t.Errorf("cache entries = %d, want 1", n)
	}

	job, _, _ := s.GetJob(ctx, "j1")
	if job.Status != store.StatusCompleted {
		t.Errorf("job status = %s, want Completed (nothing queued)", job.Status)
	}
}

func TestScanVideoPromotesCollectionToDirect(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFiles(t, dir, "movie.mp4", "a.jpg", "b.jpg")

	coll := &store.Collection{ID: "c1", Name: "c1", Path: dir, Type: store.CollectionFolder}
	s.CreateCollection(ctx, coll)
	s.CreateJob(ctx, &store.BackgroundJob{ID: "j1", JobType: store.JobTypeCollectionScan, CollectionID: "c1"})

	body := marshal(t, messages.CollectionScanMessage{CollectionID: "c1", JobID: "j1"})
	if err := w.HandleCollectionScan(ctx, body); err != nil {
		t.Fatalf("HandleCollectionScan failed: %v", err)
	}

	// The video drags the images with it: nothing queues, all three
	// files are recorded directly.
	if n := len(pub.ofType(messages.TypeImageProcessing)); n != 0 {
		t.Fatalf("collection with a video queued %d processing messages, want 0", n)
	}
	if n, _ := s.CountImages(ctx, "c1"); n != 3 {
		t.Errorf("images recorded = %d, want 3", n)
	}
	if n, _ := s.CountArtifacts(ctx, "c1", store.KindCache); n != 3 {
		t.Errorf("cache entries = %d, want 3", n)
	}

	// The video's poster frame cannot be extracted from junk bytes, so
	// the thumbnail stage closes one short of the image count.
	if n, _ := s.CountArtifacts(ctx, "c1", store.KindThumbnail); n != 2 {
		t.Errorf("thumbnail entries = %d, want 2", n)
	}
	_, stages, _ := s.GetJob(ctx, "j1")
	for _, st := range stages {
		if st.Name != store.StageThumbnail {
			continue
		}
		if st.Status != store.StatusCompleted {
			t.Errorf("thumbnail stage = %s, want Completed", st.Status)
		}
		if st.CompletedItems != 2 || st.TotalItems != 3 {
			t.Errorf("thumbnail stage = %d/%d, want 2/3", st.CompletedItems, st.TotalItems)
		}
	}
}

func TestScanDirectProbesDimensions(t *testing.T) {
	w, s, _ := testWorker(t)
	ctx := context.Background()

	dir := t.TempDir()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 640, 480))); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.png"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	coll := &store.Collection{ID: "c1", Name: "c1", Path: dir, Type: store.CollectionFolder}
	s.CreateCollection(ctx, coll)

	body := marshal(t, messages.CollectionScanMessage{CollectionID: "c1", UseDirectFileAccess: true})
	if err := w.HandleCollectionScan(ctx, body); err != nil {
		t.Fatalf("HandleCollectionScan failed: %v", err)
	}

	images, err := s.ListImages(ctx, "c1")
	if err != nil || len(images) != 1 {
		t.Fatalf("images = %d (%v), want 1", len(images), err)
	}
	if images[0].Width != 640 || images[0].Height != 480 {
		t.Errorf("probed dimensions = %dx%d, want 640x480", images[0].Width, images[0].Height)
	}
}

func TestScanForceRescanClearsLists(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	coll := &store.Collection{ID: "c1", Name: "c1", Path: dir, Type: store.CollectionFolder}
	s.CreateCollection(ctx, coll)
	s.AppendImage(ctx, &store.ImageEntry{ID: "stale", CollectionID: "c1", Filename: "gone.jpg"})
	s.CreateJob(ctx, &store.BackgroundJob{ID: "j1", JobType: store.JobTypeCollectionScan, CollectionID: "c1"})

	body := marshal(t, messages.CollectionScanMessage{CollectionID: "c1", JobID: "j1", ForceRescan: true})
	if err := w.HandleCollectionScan(ctx, body); err != nil {
		t.Fatalf("HandleCollectionScan failed: %v", err)
	}

	if _, err := s.GetImage(ctx, "stale"); err != store.ErrNotFound {
		t.Error("force rescan kept the stale image entry")
	}
	if n := len(pub.ofType(messages.TypeImageProcessing)); n != 1 {
		t.Errorf("queued %d messages, want 1", n)
	}
}

func TestCollectionCreationIdempotent(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()
	dir := t.TempDir()

	body := marshal(t, messages.CollectionCreationMessage{CollectionPath: dir})
	if err := w.HandleCollectionCreation(ctx, body); err != nil {
		t.Fatalf("HandleCollectionCreation failed: %v", err)
	}
	if err := w.HandleCollectionCreation(ctx, body); err != nil {
		t.Fatalf("redelivered creation failed: %v", err)
	}

	first, err := s.FindCollectionByPath(ctx, dir)
	if err != nil {
		t.Fatalf("collection not created: %v", err)
	}

	scans := pub.ofType(messages.TypeCollectionScan)
	if len(scans) != 2 {
		t.Fatalf("published %d scans, want 2", len(scans))
	}
	for _, p := range scans {
		msg := p.body.(messages.CollectionScanMessage)
		if msg.CollectionID != first.ID {
			t.Errorf("scan targets %s, want the single collection %s", msg.CollectionID, first.ID)
		}
	}
}

func TestLibraryScanCreatesCollections(t *testing.T) {
	w, _, pub := testWorker(t)
	ctx := context.Background()

	lib := t.TempDir()
	os.Mkdir(filepath.Join(lib, "album"), 0o755)
	writeFiles(t, lib, "comic.cbz", "loose.jpg")

	body := marshal(t, messages.LibraryScanMessage{LibraryPath: lib, IncludeSubfolders: true})
	if err := w.HandleLibraryScan(ctx, body); err != nil {
		t.Fatalf("HandleLibraryScan failed: %v", err)
	}

	// The folder and the archive become collections; the loose image
	// does not.
	creations := pub.ofType(messages.TypeCollectionCreation)
	if len(creations) != 2 {
		t.Fatalf("published %d creations, want 2", len(creations))
	}
}

func TestBulkRegenerateCache(t *testing.T) {
	w, s, pub := testWorker(t)
	ctx := context.Background()

	s.CreateCollection(ctx, &store.Collection{ID: "c1", Name: "c1", Path: "/p", Type: store.CollectionFolder})
	s.CreateCacheFolder(ctx, &store.CacheFolder{ID: "f1", Name: "f1", Path: "/cache1", IsActive: true})
	s.AppendImage(ctx, &store.ImageEntry{ID: "i1", CollectionID: "c1", Filename: "a.jpg"})
	s.AppendImage(ctx, &store.ImageEntry{ID: "i2", CollectionID: "c1", Filename: "b.jpg"})
	s.AppendArtifacts(ctx, "c1", store.KindCache, []store.ArtifactEntry{{ImageID: "i1", Width: 1920, Height: 1080}})

	body := marshal(t, messages.BulkOperationMessage{
		OperationType: messages.BulkOpRegenerateCache,
		CollectionIDs: []string{"c1", "missing"},
	})
	if err := w.HandleBulkOperation(ctx, body); err != nil {
		t.Fatalf("HandleBulkOperation failed: %v", err)
	}

	if n, _ := s.CountArtifacts(ctx, "c1", store.KindCache); n != 0 {
		t.Errorf("old cache entries survived regeneration, count = %d", n)
	}

	msgs := pub.ofType(messages.TypeCacheGeneration)
	if len(msgs) != 2 {
		t.Fatalf("published %d cache messages, want 2", len(msgs))
	}
	for _, p := range msgs {
		msg := p.body.(messages.CacheGenerationMessage)
		if !msg.ForceRegenerate {
			t.Error("regeneration message without ForceRegenerate")
		}
		if msg.CachePath == "" {
			t.Error("regeneration message without a pinned cache path")
		}
	}

	bulkJobs, _ := s.ListActiveJobs(ctx, []string{store.JobTypeBulkOperation}, 10)
	if len(bulkJobs) != 1 {
		t.Fatalf("bulk jobs = %d, want 1", len(bulkJobs))
	}
	_, stages, _ := s.GetJob(ctx, bulkJobs[0].ID)
	for _, st := range stages {
		if st.Name == store.StageCache {
			if st.Status != store.StatusRunning || st.TotalItems != 2 {
				t.Errorf("cache stage = %s with %d items, want Running with 2", st.Status, st.TotalItems)
			}
		}
	}
}

func TestBulkUnknownOperationIsPoison(t *testing.T) {
	w, _, _ := testWorker(t)
	body := marshal(t, messages.BulkOperationMessage{OperationType: "explode"})
	err := w.HandleBulkOperation(context.Background(), body)
	if _, ok := jobs.AsPoison(err); !ok {
		t.Fatalf("unknown operation returned %v, want poison", err)
	}
}
