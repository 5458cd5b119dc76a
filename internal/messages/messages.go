package messages

import (
	"media-ingest/internal/archive"
)

// MessageType identifies the envelope kind. It travels in the
// MessageType header of every published message.
type MessageType string

const (
	TypeCollectionScan      MessageType = "CollectionScanMessage"
	TypeImageProcessing     MessageType = "ImageProcessingMessage"
	TypeThumbnailGeneration MessageType = "ThumbnailGenerationMessage"
	TypeCacheGeneration     MessageType = "CacheGenerationMessage"
	TypeCollectionCreation  MessageType = "CollectionCreationMessage"
	TypeBulkOperation       MessageType = "BulkOperationMessage"
	TypeLibraryScan         MessageType = "LibraryScanMessage"
)

// Queue names double as routing keys on the direct exchange.
const (
	QueueCollectionScan      = "collection.scan"
	QueueThumbnailGeneration = "thumbnail.generation"
	QueueCacheGeneration     = "cache.generation"
	QueueImageProcessing     = "image.processing"
	QueueCollectionCreation  = "collection.creation"
	QueueBulkOperation       = "bulk.operation"
	QueueLibraryScan         = "library_scan_queue"
	QueueDLQ                 = "imageviewer.dlq"
)

// routingTable is the fixed MessageType → queue mapping. The DLQ
// recovery loop and the consumer registry both read it; keep the two
// in sync by never mapping a type anywhere else.
var routingTable = map[MessageType]string{
	TypeCollectionScan:      QueueCollectionScan,
	TypeImageProcessing:     QueueImageProcessing,
	TypeThumbnailGeneration: QueueThumbnailGeneration,
	TypeCacheGeneration:     QueueCacheGeneration,
	TypeCollectionCreation:  QueueCollectionCreation,
	TypeBulkOperation:       QueueBulkOperation,
	TypeLibraryScan:         QueueLibraryScan,
}

// QueueFor returns the origin queue for a message type.
func QueueFor(t MessageType) (string, bool) {
	q, ok := routingTable[t]
	return q, ok
}

// TypeForQueue returns the message type consumed from a queue. It is
// the inverse of QueueFor.
func TypeForQueue(queue string) (MessageType, bool) {
	for t, q := range routingTable {
		if q == queue {
			return t, true
		}
	}
	return "", false
}

// WorkQueues lists every queue the pipeline consumes, DLQ excluded.
func WorkQueues() []string {
	return []string{
		QueueCollectionScan,
		QueueThumbnailGeneration,
		QueueCacheGeneration,
		QueueImageProcessing,
		QueueCollectionCreation,
		QueueBulkOperation,
		QueueLibraryScan,
	}
}

// Origin identifies who enqueued a message. Every envelope embeds it.
type Origin struct {
	CreatedBy       string `json:"createdBy"`
	CreatedBySystem string `json:"createdBySystem"`
}

// CollectionScanMessage drives the scan stage of one collection.
type CollectionScanMessage struct {
	CollectionID        string `json:"collectionId"`
	CollectionPath      string `json:"collectionPath"`
	CollectionType      string `json:"collectionType"`
	ForceRescan         bool   `json:"forceRescan"`
	UseDirectFileAccess bool   `json:"useDirectFileAccess"`
	JobID               string `json:"jobId"`
	Origin
}

// ImageProcessingMessage carries one discovered media file through
// metadata extraction and artifact fan-out.
type ImageProcessingMessage struct {
	ImageID           string        `json:"imageId"`
	CollectionID      string        `json:"collectionId"`
	ArchiveEntry      archive.Entry `json:"archiveEntry"`
	ImageFormat       string        `json:"imageFormat"`
	Width             int           `json:"width"`
	Height            int           `json:"height"`
	FileSize          int64         `json:"fileSize"`
	GenerateThumbnail bool          `json:"generateThumbnail"`
	OptimizeImage     bool          `json:"optimizeImage"`
	ScanJobID         string        `json:"scanJobId"`
	Origin
}

// ThumbnailGenerationMessage requests one thumbnail artifact.
type ThumbnailGenerationMessage struct {
	ImageID         string        `json:"imageId"`
	CollectionID    string        `json:"collectionId"`
	ArchiveEntry    archive.Entry `json:"archiveEntry"`
	ThumbnailWidth  int           `json:"thumbnailWidth"`
	ThumbnailHeight int           `json:"thumbnailHeight"`
	JobID           string        `json:"jobId"`
	ScanJobID       string        `json:"scanJobId"`
	Origin
}

// CacheGenerationMessage requests one cache rendition. CachePath, when
// set, pre-determines the target so every image of a collection lands
// on the same cache root regardless of which worker processes it.
type CacheGenerationMessage struct {
	ImageID          string        `json:"imageId"`
	CollectionID     string        `json:"collectionId"`
	ArchiveEntry     archive.Entry `json:"archiveEntry"`
	CachePath        string        `json:"cachePath,omitempty"`
	CacheWidth       int           `json:"cacheWidth"`
	CacheHeight      int           `json:"cacheHeight"`
	Quality          int           `json:"quality"`
	Format           string        `json:"format"`
	PreserveOriginal bool          `json:"preserveOriginal"`
	ForceRegenerate  bool          `json:"forceRegenerate"`
	JobID            string        `json:"jobId"`
	ScanJobID        string        `json:"scanJobId"`
	Origin
}

// CollectionCreationMessage registers a new collection and kicks off
// its scan.
type CollectionCreationMessage struct {
	CollectionPath      string `json:"collectionPath"`
	CollectionType      string `json:"collectionType"`
	Name                string `json:"name"`
	UseDirectFileAccess bool   `json:"useDirectFileAccess"`
	JobID               string `json:"jobId"`
	Origin
}

// BulkOperationMessage applies one operation across many collections.
type BulkOperationMessage struct {
	OperationType string            `json:"operationType"`
	CollectionIDs []string          `json:"collectionIds"`
	Parameters    map[string]string `json:"parameters"`
	JobID         string            `json:"jobId"`
	Origin
}

// Bulk operation types.
const (
	BulkOpRescan              = "rescan"
	BulkOpRegenerateThumbnail = "regenerate-thumbnails"
	BulkOpRegenerateCache     = "regenerate-cache"
)

// LibraryScanMessage enumerates a library root into collections.
type LibraryScanMessage struct {
	LibraryID           string `json:"libraryId"`
	LibraryPath         string `json:"libraryPath"`
	IncludeSubfolders   bool   `json:"includeSubfolders"`
	OverwriteExisting   bool   `json:"overwriteExisting"`
	ResumeIncomplete    bool   `json:"resumeIncomplete"`
	UseDirectFileAccess bool   `json:"useDirectFileAccess"`
	JobRunID            string `json:"jobRunId"`
	Origin
}
