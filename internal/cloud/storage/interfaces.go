// Package storage provides common interfaces and utilities for blob storage operations.
// This package defines the contract that the Azure, S3 and local providers follow,
// so the transfer engine behaves the same across storage backends and can be
// tested against the local filesystem.
package storage

import (
	"context"
	"io"
	"time"
)

// BlobProperties describes a remote blob.
type BlobProperties struct {
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// UploadOptions are applied when the block list is committed.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ChunkPolicy bounds how a blob may be partitioned into blocks.
type ChunkPolicy struct {
	// MinBlockSize is the smallest chunk the planner may choose (the last chunk may be shorter).
	MinBlockSize int64
	// MaxBlockSize is the largest block the store accepts.
	MaxBlockSize int64
	// MaxBlockCount is an exclusive upper bound on the number of blocks.
	MaxBlockCount int64
	// Granularity: chunk sizes are multiples of this.
	Granularity int64
}

// BlobStore is a blob storage backend addressed by URI.
type BlobStore interface {
	// GetProperties returns size, ETag and metadata. Missing blobs yield ErrBlobNotFound.
	GetProperties(ctx context.Context, uri string) (*BlobProperties, error)

	// DeleteIfExists removes the blob; a missing blob is not an error.
	DeleteIfExists(ctx context.Context, uri string) error

	// BeginUpload starts a block upload whose blocks become visible only on Commit.
	BeginUpload(ctx context.Context, uri string, opts UploadOptions) (UploadSession, error)

	// DownloadRange opens the byte range [offset, offset+count).
	DownloadRange(ctx context.Context, uri string, offset, count int64) (io.ReadCloser, error)

	// RefreshCredentials forces the store to obtain fresh credentials for uri from its source.
	RefreshCredentials(ctx context.Context, uri string) error

	// ChunkPolicy reports the partition limits of this backend.
	ChunkPolicy() ChunkPolicy

	// StorageType names the backend ("azure", "s3", "file").
	StorageType() string
}

// UploadSession stages blocks of one upload. StageBlock is safe for concurrent use.
type UploadSession interface {
	// StageBlock uploads one block. index is the 0-based chunk index.
	StageBlock(ctx context.Context, blockID string, index int, data []byte) error

	// Commit assembles the blob from blockIDs in order.
	Commit(ctx context.Context, blockIDs []string) error

	// Abort discards staged blocks. Safe to call after a failed Commit.
	Abort(ctx context.Context) error
}
