// Package state provides resume records for interrupted downloads and the
// per-file lock that keeps two processes from transferring the same file.
package state

import (
	"errors"
	"sort"
	"time"
)

// MaxResumeAge is the maximum age of a resume record before it's considered expired.
const MaxResumeAge = 7 * 24 * time.Hour

// ErrStateMismatch is returned when a resume record no longer describes the remote blob.
var ErrStateMismatch = errors.New("resume state does not match remote blob")

// DownloadResumeState tracks the chunks of an in-progress download.
// A record is only reusable when URI, ETag, size and chunk size all match.
type DownloadResumeState struct {
	LocalPath       string    `json:"local_path"`
	URI             string    `json:"uri"`
	ETag            string    `json:"etag"`
	TotalSize       int64     `json:"total_size"`
	ChunkSize       int64     `json:"chunk_size"`
	CompletedChunks []int     `json:"completed_chunks,omitempty"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdate      time.Time `json:"last_update"`
}

// NewDownloadState creates an empty record for a fresh download.
func NewDownloadState(localPath, uri, etag string, totalSize, chunkSize int64) *DownloadResumeState {
	now := time.Now()
	return &DownloadResumeState{
		LocalPath:  localPath,
		URI:        uri,
		ETag:       etag,
		TotalSize:  totalSize,
		ChunkSize:  chunkSize,
		CreatedAt:  now,
		LastUpdate: now,
	}
}

// Validate reports whether the record can resume a download of the given blob.
func (s *DownloadResumeState) Validate(uri, etag string, totalSize, chunkSize int64) error {
	if s == nil {
		return ErrStateMismatch
	}
	if time.Since(s.CreatedAt) > MaxResumeAge {
		return errors.New("resume state expired")
	}
	if s.URI != uri || s.ETag != etag || s.TotalSize != totalSize || s.ChunkSize != chunkSize {
		return ErrStateMismatch
	}
	return nil
}

// IsChunkCompleted checks if a specific chunk index has been completed.
func (s *DownloadResumeState) IsChunkCompleted(index int) bool {
	i := sort.SearchInts(s.CompletedChunks, index)
	return i < len(s.CompletedChunks) && s.CompletedChunks[i] == index
}

// MarkChunkCompleted records a chunk and its length. Completed indexes stay sorted.
func (s *DownloadResumeState) MarkChunkCompleted(index int, length int64) {
	i := sort.SearchInts(s.CompletedChunks, index)
	if i < len(s.CompletedChunks) && s.CompletedChunks[i] == index {
		return
	}
	s.CompletedChunks = append(s.CompletedChunks, 0)
	copy(s.CompletedChunks[i+1:], s.CompletedChunks[i:])
	s.CompletedChunks[i] = index
	s.DownloadedBytes += length
	s.LastUpdate = time.Now()
}

// Progress returns the completed fraction (0.0 to 1.0).
func (s *DownloadResumeState) Progress() float64 {
	if s == nil || s.TotalSize == 0 {
		return 0.0
	}
	return float64(s.DownloadedBytes) / float64(s.TotalSize)
}
