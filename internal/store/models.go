package store

import (
	"time"

	"media-ingest/internal/archive"
)

// CollectionType says whether a collection is a folder of files or a
// single archive container.
type CollectionType string

const (
	CollectionFolder  CollectionType = "Folder"
	CollectionArchive CollectionType = "Archive"
)

// SourceType classifies where an image's bytes live.
type SourceType string

const (
	SourceRegularFile  SourceType = "RegularFile"
	SourceArchiveFile  SourceType = "ArchiveFile"
	SourceArchiveEntry SourceType = "ArchiveEntry"
)

// JobStatus is shared by background jobs, their stages, and per-file
// job states.
type JobStatus string

const (
	StatusPending             JobStatus = "Pending"
	StatusRunning             JobStatus = "Running"
	StatusCompleted           JobStatus = "Completed"
	StatusFailed              JobStatus = "Failed"
	StatusCompletedWithErrors JobStatus = "CompletedWithErrors"
)

// ArtifactKind distinguishes the two derived-artifact lists.
type ArtifactKind string

const (
	KindThumbnail ArtifactKind = "thumbnail"
	KindCache     ArtifactKind = "cache"
)

// Stage names of a background job.
const (
	StageScan      = "scan"
	StageThumbnail = "thumbnail"
	StageCache     = "cache"
)

// Collection is a logical grouping of media under one path.
type Collection struct {
	ID        string
	Name      string
	Path      string
	Type      CollectionType
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ImageEntry is an element of a collection's images list.
type ImageEntry struct {
	ID           string
	CollectionID string
	Filename     string
	RelativePath string
	Entry        archive.Entry
	FileType     SourceType
	FileSize     int64
	Width        int
	Height       int
	Format       string
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ArtifactEntry is an element of a collection's thumbnails or cache
// list. Path is empty for direct-reference entries that point at the
// original source. If IsDummy is set, the entry marks a terminal
// failure: IsValid and IsGenerated are false and ErrorMessage is set.
type ArtifactEntry struct {
	ImageID      string
	Path         string
	Width        int
	Height       int
	FileSize     int64
	Format       string
	Quality      int
	IsGenerated  bool
	IsValid      bool
	IsDummy      bool
	ErrorMessage string
	ErrorType    string
	AccessCount  int64
	LastAccessed *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CacheFolder is one cache root with its usage accounting.
type CacheFolder struct {
	ID               string
	Name             string
	Path             string
	IsActive         bool
	CurrentSizeBytes int64
	TotalFiles       int64
}

// BackgroundJob tracks one user-visible operation through its stages.
type BackgroundJob struct {
	ID           string
	JobType      string
	Status       JobStatus
	CollectionID string
	SuccessCount int
	ErrorCount   int
	ErrorSummary map[string]int
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// JobStage is one named phase of a background job.
type JobStage struct {
	JobID          string
	Name           string
	Status         JobStatus
	TotalItems     int
	CompletedItems int
	Message        string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// JobState holds the fine-grained per-collection, per-kind counters
// used for completion detection. completed + failed + skipped never
// exceeds total.
type JobState struct {
	ID              string
	JobID           string
	CollectionID    string
	Kind            ArtifactKind
	Status          JobStatus
	TotalImages     int
	CompletedImages int
	FailedImages    int
	SkippedImages   int
	DummyEntryCount int
	ErrorSummary    map[string]int
	Settings        string
}

// Done reports whether every image has reached a terminal result.
func (s *JobState) Done() bool {
	return s.TotalImages > 0 && s.CompletedImages+s.FailedImages+s.SkippedImages >= s.TotalImages
}

// Job types understood by the reconciler.
const (
	JobTypeCollectionScan   = "collection-scan"
	JobTypeResumeCollection = "resume-collection"
	JobTypeLibraryScan      = "library-scan"
	JobTypeBulkOperation    = "bulk-operation"
)
