package cachefolder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"media-ingest/internal/logging"
	"media-ingest/internal/store"
)

// FolderID derives the stable id of a cache root from its path. The id
// must not change across restarts or the selector would reassign every
// collection.
func FolderID(path string) string {
	return fmt.Sprintf("folder-%016x", xxhash.Sum64String(filepath.Clean(path)))
}

// Seed registers the configured cache roots, creating directories and
// store rows as needed. Roots already registered are left untouched so
// their usage counters survive restarts.
func Seed(ctx context.Context, s *store.Store, roots []string) error {
	for _, root := range roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("failed to create cache root %s: %w", root, err)
		}

		id := FolderID(root)
		_, err := s.GetCacheFolder(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		folder := &store.CacheFolder{
			ID:       id,
			Name:     filepath.Base(root),
			Path:     root,
			IsActive: true,
		}
		if err := s.CreateCacheFolder(ctx, folder); err != nil {
			return err
		}
		logging.Info("Registered cache root %s as %s", root, id)
	}
	return nil
}
