package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CreateCollection inserts a new collection.
func (s *Store) CreateCollection(ctx context.Context, c *Collection) (err error) {
	start := time.Now()
	defer func() { observe("create_collection", start, err) }()

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, path, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Path, string(c.Type), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", c.ID, err)
	}
	return nil
}

// GetCollection loads one collection by id.
func (s *Store) GetCollection(ctx context.Context, id string) (c *Collection, err error) {
	start := time.Now()
	defer func() { observe("get_collection", start, err) }()

	c = &Collection{}
	var typ string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, path, type, created_at, updated_at FROM collections WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Path, &typ, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", id, err)
	}
	c.Type = CollectionType(typ)
	return c, nil
}

// FindCollectionByPath looks a collection up by its root path.
func (s *Store) FindCollectionByPath(ctx context.Context, path string) (c *Collection, err error) {
	start := time.Now()
	defer func() { observe("find_collection_by_path", start, err) }()

	c = &Collection{}
	var typ string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, path, type, created_at, updated_at FROM collections WHERE path = ?`, path).
		Scan(&c.ID, &c.Name, &c.Path, &typ, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find collection at %s: %w", path, err)
	}
	c.Type = CollectionType(typ)
	return c, nil
}

// ClearImageArrays removes the images, thumbnails and cache lists of a
// collection. Only a forced rescan may call this.
func (s *Store) ClearImageArrays(ctx context.Context, collectionID string) (err error) {
	start := time.Now()
	defer func() { observe("clear_image_arrays", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM images WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("failed to clear images: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM artifacts WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("failed to clear artifacts: %w", err)
	}
	return tx.Commit()
}

// AppendImage appends a single image entry to a collection's images
// list. The insert is idempotent on the image id.
func (s *Store) AppendImage(ctx context.Context, img *ImageEntry) (err error) {
	start := time.Now()
	defer func() { observe("append_image", start, err) }()

	now := time.Now().UTC()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	img.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO images
		 (id, collection_id, filename, relative_path, archive_path, entry_name, is_member,
		  file_type, file_size, width, height, format, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		img.ID, img.CollectionID, img.Filename, img.RelativePath,
		img.Entry.ArchivePath, img.Entry.EntryName, boolToInt(img.Entry.Member),
		string(img.FileType), img.FileSize, img.Width, img.Height, img.Format,
		img.CreatedAt, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to append image %s: %w", img.ID, err)
	}
	return nil
}

// GetImage loads one image entry by id.
func (s *Store) GetImage(ctx context.Context, id string) (img *ImageEntry, err error) {
	start := time.Now()
	defer func() { observe("get_image", start, err) }()

	img = &ImageEntry{}
	var fileType string
	var isMember int
	err = s.db.QueryRowContext(ctx,
		`SELECT id, collection_id, filename, relative_path, archive_path, entry_name, is_member,
		        file_type, file_size, width, height, format, deleted, created_at, updated_at
		 FROM images WHERE id = ?`, id).
		Scan(&img.ID, &img.CollectionID, &img.Filename, &img.RelativePath,
			&img.Entry.ArchivePath, &img.Entry.EntryName, &isMember,
			&fileType, &img.FileSize, &img.Width, &img.Height, &img.Format,
			&img.Deleted, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", id, err)
	}
	img.Entry.Member = isMember != 0
	img.Entry.EntryPath = img.Entry.EntryName
	img.FileType = SourceType(fileType)
	return img, nil
}

// ListImages returns all non-deleted images of a collection in
// insertion order.
func (s *Store) ListImages(ctx context.Context, collectionID string) (images []ImageEntry, err error) {
	start := time.Now()
	defer func() { observe("list_images", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection_id, filename, relative_path, archive_path, entry_name, is_member,
		        file_type, file_size, width, height, format, deleted, created_at, updated_at
		 FROM images WHERE collection_id = ? AND deleted = 0 ORDER BY rowid`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img ImageEntry
		var fileType string
		var isMember int
		if err = rows.Scan(&img.ID, &img.CollectionID, &img.Filename, &img.RelativePath,
			&img.Entry.ArchivePath, &img.Entry.EntryName, &isMember,
			&fileType, &img.FileSize, &img.Width, &img.Height, &img.Format,
			&img.Deleted, &img.CreatedAt, &img.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.Entry.Member = isMember != 0
		img.Entry.EntryPath = img.Entry.EntryName
		img.FileType = SourceType(fileType)
		images = append(images, img)
	}
	return images, rows.Err()
}

// CountImages returns the number of non-deleted images in a collection.
func (s *Store) CountImages(ctx context.Context, collectionID string) (n int, err error) {
	start := time.Now()
	defer func() { observe("count_images", start, err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE collection_id = ? AND deleted = 0`, collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return n, nil
}

// AppendArtifacts appends a batch of artifact entries to one
// collection's list in a single transaction: either every entry of the
// batch becomes visible or none does. Entries already present under
// the same (imageId, width, height) are left untouched.
func (s *Store) AppendArtifacts(ctx context.Context, collectionID string, kind ArtifactKind, entries []ArtifactEntry) (err error) {
	start := time.Now()
	defer func() { observe("append_artifacts", start, err) }()

	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin artifact append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO artifacts
		 (collection_id, kind, image_id, width, height, path, file_size, format, quality,
		  is_generated, is_valid, is_dummy, error_message, error_type, access_count,
		  last_accessed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare artifact append: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err = stmt.ExecContext(ctx, collectionID, string(kind), e.ImageID, e.Width, e.Height,
			e.Path, e.FileSize, e.Format, e.Quality,
			boolToInt(e.IsGenerated), boolToInt(e.IsValid), boolToInt(e.IsDummy),
			e.ErrorMessage, e.ErrorType, createdAt, now); err != nil {
			return fmt.Errorf("failed to append %s for image %s: %w", kind, e.ImageID, err)
		}
	}
	return tx.Commit()
}

// ClearArtifacts removes every artifact entry of one kind for a
// collection. Bulk regeneration calls this before re-queueing work.
func (s *Store) ClearArtifacts(ctx context.Context, collectionID string, kind ArtifactKind) (err error) {
	start := time.Now()
	defer func() { observe("clear_artifacts", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE collection_id = ? AND kind = ?`, collectionID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to clear %s artifacts: %w", kind, err)
	}
	return nil
}

// DeleteArtifact removes one artifact entry. Regeneration paths call
// this first; the batched append otherwise ignores rows that already
// exist.
func (s *Store) DeleteArtifact(ctx context.Context, collectionID string, kind ArtifactKind, imageID string, width, height int) (err error) {
	start := time.Now()
	defer func() { observe("delete_artifact", start, err) }()

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM artifacts
		 WHERE collection_id = ? AND kind = ? AND image_id = ? AND width = ? AND height = ?`,
		collectionID, string(kind), imageID, width, height)
	if err != nil {
		return fmt.Errorf("failed to delete %s for image %s: %w", kind, imageID, err)
	}
	return nil
}

// HasArtifact reports whether an artifact with the exact dimensions is
// already recorded, and returns its path.
func (s *Store) HasArtifact(ctx context.Context, collectionID string, kind ArtifactKind, imageID string, width, height int) (path string, ok bool, err error) {
	start := time.Now()
	defer func() { observe("has_artifact", start, err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT path FROM artifacts
		 WHERE collection_id = ? AND kind = ? AND image_id = ? AND width = ? AND height = ?`,
		collectionID, string(kind), imageID, width, height).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to check artifact: %w", err)
	}
	return path, true, nil
}

// CountArtifacts returns the number of artifact entries of one kind in
// a collection, dummies included.
func (s *Store) CountArtifacts(ctx context.Context, collectionID string, kind ArtifactKind) (n int, err error) {
	start := time.Now()
	defer func() { observe("count_artifacts", start, err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE collection_id = ? AND kind = ?`,
		collectionID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return n, nil
}

// CountDummyArtifacts returns the number of terminal-failure entries
// of one kind in a collection.
func (s *Store) CountDummyArtifacts(ctx context.Context, collectionID string, kind ArtifactKind) (n int, err error) {
	start := time.Now()
	defer func() { observe("count_dummy_artifacts", start, err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE collection_id = ? AND kind = ? AND is_dummy = 1`,
		collectionID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dummy artifacts: %w", err)
	}
	return n, nil
}

// ListArtifacts returns all artifact entries of one kind for a
// collection, in insertion order.
func (s *Store) ListArtifacts(ctx context.Context, collectionID string, kind ArtifactKind) (entries []ArtifactEntry, err error) {
	start := time.Now()
	defer func() { observe("list_artifacts", start, err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT image_id, width, height, path, file_size, format, quality,
		        is_generated, is_valid, is_dummy, error_message, error_type,
		        access_count, last_accessed, created_at, updated_at
		 FROM artifacts WHERE collection_id = ? AND kind = ? ORDER BY rowid`,
		collectionID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ArtifactEntry
		var gen, valid, dummy int
		if err = rows.Scan(&e.ImageID, &e.Width, &e.Height, &e.Path, &e.FileSize, &e.Format,
			&e.Quality, &gen, &valid, &dummy, &e.ErrorMessage, &e.ErrorType,
			&e.AccessCount, &e.LastAccessed, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		e.IsGenerated = gen != 0
		e.IsValid = valid != 0
		e.IsDummy = dummy != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
