package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-ingest/internal/logging"
	"media-ingest/internal/metrics"
)

// Default timeout for store operations
const defaultTimeout = 5 * time.Second

// Store manages all data store operations for the ingest pipeline.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates a Store backed by the SQLite database at dbPath. The
// parent directory must already exist and be writable.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Store path: %s", dbPath)

	// WAL with a busy timeout keeps concurrent workers from tripping
	// over "database is locked" under batch commits.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after schema failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	logging.Info("Store initialized at %s", dbPath)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			path        TEXT NOT NULL,
			type        TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id             TEXT PRIMARY KEY,
			collection_id  TEXT NOT NULL,
			filename       TEXT NOT NULL,
			relative_path  TEXT NOT NULL,
			archive_path   TEXT NOT NULL DEFAULT '',
			entry_name     TEXT NOT NULL DEFAULT '',
			is_member      INTEGER NOT NULL DEFAULT 0,
			file_type      TEXT NOT NULL,
			file_size      INTEGER NOT NULL DEFAULT 0,
			width          INTEGER NOT NULL DEFAULT 0,
			height         INTEGER NOT NULL DEFAULT 0,
			format         TEXT NOT NULL DEFAULT '',
			deleted        INTEGER NOT NULL DEFAULT 0,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_collection ON images(collection_id)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			collection_id  TEXT NOT NULL,
			kind           TEXT NOT NULL,
			image_id       TEXT NOT NULL,
			width          INTEGER NOT NULL,
			height         INTEGER NOT NULL,
			path           TEXT NOT NULL DEFAULT '',
			file_size      INTEGER NOT NULL DEFAULT 0,
			format         TEXT NOT NULL DEFAULT '',
			quality        INTEGER NOT NULL DEFAULT 0,
			is_generated   INTEGER NOT NULL DEFAULT 0,
			is_valid       INTEGER NOT NULL DEFAULT 1,
			is_dummy       INTEGER NOT NULL DEFAULT 0,
			error_message  TEXT NOT NULL DEFAULT '',
			error_type     TEXT NOT NULL DEFAULT '',
			access_count   INTEGER NOT NULL DEFAULT 0,
			last_accessed  TIMESTAMP,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (collection_id, kind, image_id, width, height)
		)`,
		`CREATE TABLE IF NOT EXISTS cache_folders (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			path               TEXT NOT NULL,
			is_active          INTEGER NOT NULL DEFAULT 1,
			current_size_bytes INTEGER NOT NULL DEFAULT 0,
			total_files        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cache_folder_collections (
			folder_id      TEXT NOT NULL,
			collection_id  TEXT NOT NULL,
			PRIMARY KEY (folder_id, collection_id)
		)`,
		`CREATE TABLE IF NOT EXISTS background_jobs (
			id             TEXT PRIMARY KEY,
			job_type       TEXT NOT NULL,
			status         TEXT NOT NULL,
			collection_id  TEXT NOT NULL DEFAULT '',
			success_count  INTEGER NOT NULL DEFAULT 0,
			error_count    INTEGER NOT NULL DEFAULT 0,
			error_summary  TEXT NOT NULL DEFAULT '{}',
			error_message  TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMP NOT NULL,
			started_at     TIMESTAMP,
			completed_at   TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON background_jobs(status, job_type)`,
		`CREATE TABLE IF NOT EXISTS job_stages (
			job_id           TEXT NOT NULL,
			name             TEXT NOT NULL,
			status           TEXT NOT NULL,
			total_items      INTEGER NOT NULL DEFAULT 0,
			completed_items  INTEGER NOT NULL DEFAULT 0,
			message          TEXT NOT NULL DEFAULT '',
			started_at       TIMESTAMP,
			completed_at     TIMESTAMP,
			PRIMARY KEY (job_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS job_states (
			id              TEXT PRIMARY KEY,
			job_id          TEXT NOT NULL,
			collection_id   TEXT NOT NULL,
			kind            TEXT NOT NULL,
			status          TEXT NOT NULL,
			total_images    INTEGER NOT NULL DEFAULT 0,
			completed       INTEGER NOT NULL DEFAULT 0,
			failed          INTEGER NOT NULL DEFAULT 0,
			skipped         INTEGER NOT NULL DEFAULT 0,
			dummy_entries   INTEGER NOT NULL DEFAULT 0,
			error_summary   TEXT NOT NULL DEFAULT '{}',
			settings        TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_states_job ON job_states(job_id)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// observe records operation metrics the way every store method does.
func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StoreQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
