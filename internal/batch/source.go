package batch

import (
	"media-ingest/internal/archive"
	"media-ingest/internal/jobs"
)

// loadSource extracts the source bytes with the size gates applied on
// both sides of the read. The stat-based gate rejects oversized
// sources before any bytes land in memory; the post-read gate covers
// archive formats that do not record member sizes up front.
func loadSource(entry archive.Entry, maxMemberSize, maxImageSize int64) ([]byte, error) {
	if size, err := archive.UncompressedSize(entry); err == nil {
		if entry.IsArchiveMember() && size > maxMemberSize {
			return nil, jobs.Poisonf(jobs.ErrorSizeLimit, "archive member %s is %d bytes", entry.DisplayPath(), size)
		}
		if !entry.IsArchiveMember() && size > maxImageSize {
			return nil, jobs.Poisonf(jobs.ErrorSizeLimit, "source %s is %d bytes", entry.DisplayPath(), size)
		}
	}
	data, err := archive.ExtractBytes(entry)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxImageSize {
		return nil, jobs.Poisonf(jobs.ErrorSizeLimit, "source %s is %d bytes", entry.DisplayPath(), len(data))
	}
	return data, nil
}
