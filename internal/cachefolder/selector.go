package cachefolder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"

	"media-ingest/internal/store"
)

// ErrNoActiveFolders is returned when no cache root is available.
var ErrNoActiveFolders = errors.New("no active cache folders")

// Selector maps collections onto cache roots.
type Selector struct {
	store *store.Store
}

// NewSelector creates a Selector over the given store.
func NewSelector(s *store.Store) *Selector {
	return &Selector{store: s}
}

// FolderFor returns the cache folder assigned to a collection. The
// same collection always lands on the same folder as long as the
// active set is unchanged.
func (s *Selector) FolderFor(ctx context.Context, collectionID string) (*store.CacheFolder, error) {
	folders, err := s.store.ActiveCacheFolders(ctx)
	if err != nil {
		return nil, err
	}
	return Assign(folders, collectionID)
}

// Assign picks the folder for a collection out of the active set.
func Assign(folders []store.CacheFolder, collectionID string) (*store.CacheFolder, error) {
	if len(folders) == 0 {
		return nil, ErrNoActiveFolders
	}

	// The assignment is computed over the id-sorted set, whatever
	// order the caller passed.
	sorted := make([]store.CacheFolder, len(folders))
	copy(sorted, folders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	idx := xxhash.Sum64String(collectionID) % uint64(len(sorted))
	return &sorted[idx], nil
}

// CachePath returns the on-disk location of a cache rendition.
func CachePath(root, collectionID, imageID string, width, height int, ext string) string {
	return filepath.Join(root, "cache", collectionID,
		fmt.Sprintf("%s_cache_%dx%d.%s", imageID, width, height, ext))
}

// ThumbnailPath returns the on-disk location of a thumbnail. The
// filename stem of the source keeps thumbnails recognizable on disk.
func ThumbnailPath(root, collectionID, filename string, width, height int, ext string) string {
	stem := filename
	if e := filepath.Ext(filename); e != "" {
		stem = filename[:len(filename)-len(e)]
	}
	return filepath.Join(root, "thumbnails", collectionID,
		fmt.Sprintf("%s_%dx%d.%s", stem, width, height, ext))
}
