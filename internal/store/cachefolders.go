package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateCacheFolder registers a cache root.
func (s *Store) CreateCacheFolder(ctx context.Context, f *CacheFolder) (err error) {
	start := time.Now()
	defer func() { observe("create_cache_folder", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_folders (id, name, path, is_active, current_size_bytes, total_files)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Path, boolToInt(f.IsActive), f.CurrentSizeBytes, f.TotalFiles)
	if err != nil {
		return fmt.Errorf("failed to create cache folder %s: %w", f.ID, err)
	}
	return nil
}

// GetCacheFolder loads one cache folder by id.
func (s *Store) GetCacheFolder(ctx context.Context, id string) (f *CacheFolder, err error) {
	start := time.Now()
	defer func() { observe("get_cache_folder", start, err) }()

	f = &CacheFolder{}
	var active int
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, path, is_active, current_size_bytes, total_files
		 FROM cache_folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.Path, &active, &f.CurrentSizeBytes, &f.TotalFiles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache folder %s: %w", id, err)
	}
	f.IsActive = active != 0
	return f, nil
}

// ActiveCacheFolders returns all active cache folders ordered by id.
// The ordering is stable across restarts so the selector's assignment
// never moves while the active set is unchanged.
func (s *Store) ActiveCacheFolders(ctx context.Context) (folders []CacheFolder, err error) {
	start := time.Now()
	defer func() { observe("active_cache_folders", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, is_active, current_size_bytes, total_files
		 FROM cache_folders WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache folders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f CacheFolder
		var active int
		if err = rows.Scan(&f.ID, &f.Name, &f.Path, &active, &f.CurrentSizeBytes, &f.TotalFiles); err != nil {
			return nil, fmt.Errorf("failed to scan cache folder: %w", err)
		}
		f.IsActive = active != 0
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// IncrementCacheFolderUsage adds written bytes and file count to a
// cache folder's accounting in one atomic increment.
func (s *Store) IncrementCacheFolderUsage(ctx context.Context, folderID string, bytes int64, files int64) (err error) {
	start := time.Now()
	defer func() { observe("increment_cache_folder_usage", start, err) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_folders
		 SET current_size_bytes = current_size_bytes + ?, total_files = total_files + ?
		 WHERE id = ?`,
		bytes, files, folderID)
	if err != nil {
		return fmt.Errorf("failed to increment cache folder %s: %w", folderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cache folder %s: %w", folderID, ErrNotFound)
	}
	return nil
}

// AddCachedCollection records collection membership on a cache folder.
// The membership is a set: adding twice is a no-op.
func (s *Store) AddCachedCollection(ctx context.Context, folderID, collectionID string) (err error) {
	start := time.Now()
	defer func() { observe("add_cached_collection", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_folder_collections (folder_id, collection_id) VALUES (?, ?)`,
		folderID, collectionID)
	if err != nil {
		return fmt.Errorf("failed to add cached collection: %w", err)
	}
	return nil
}

// CachedCollections returns the ids of collections assigned to a
// cache folder.
func (s *Store) CachedCollections(ctx context.Context, folderID string) (ids []string, err error) {
	start := time.Now()
	defer func() { observe("cached_collections", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT collection_id FROM cache_folder_collections WHERE folder_id = ? ORDER BY collection_id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached collections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
