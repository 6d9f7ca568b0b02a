// Package transfer implements the chunked blob transfer engine: chunk planning,
// the parallel executor with per-chunk retry, position-keyed encryption of
// chunk bytes, throughput tracking and exactly-once completion notification.
package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"github.com/mediaflow/blobxfer/internal/cloud/storage"
)

// Planning errors. Both are returned before any worker starts.
var (
	// ErrSizeExceeded means no chunk size within the policy keeps the block count under its cap.
	ErrSizeExceeded = errors.New("blob too large to partition within the block size and count limits")
	// ErrChunkSizeTooLarge means the caller asked for a chunk larger than the maximum block size.
	ErrChunkSizeTooLarge = errors.New("requested chunk size exceeds the maximum block size")
)

// TransferChunk is one contiguous byte range of a blob. It never changes
// identity; a retried chunk is re-enqueued as-is.
type TransferChunk struct {
	Index   int
	Offset  int64
	Length  int32
	BlockID string
}

// End returns the offset one past the last byte of the chunk.
func (c TransferChunk) End() int64 {
	return c.Offset + int64(c.Length)
}

// ChunkPlan is the partition of a blob and the number of workers to run.
type ChunkPlan struct {
	Chunks    []TransferChunk
	ChunkSize int64
	Workers   int
}

// BlockIDs returns the block IDs in chunk order, the commit order of an upload.
func (p *ChunkPlan) BlockIDs() []string {
	ids := make([]string, len(p.Chunks))
	for i, c := range p.Chunks {
		ids[i] = c.BlockID
	}
	return ids
}

// BlockID returns the fixed-width block ID of chunk index.
// All IDs of a blob must have the same encoded length.
func BlockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%010d", index)))
}

// PlanChunks partitions totalSize bytes using the smallest chunk size allowed
// by policy, and sizes the worker pool to min(requestedThreads, chunk count).
func PlanChunks(totalSize int64, policy storage.ChunkPolicy, requestedThreads int) (*ChunkPlan, error) {
	return PlanChunksWithSize(totalSize, 0, policy, requestedThreads)
}

// PlanChunksWithSize is PlanChunks with a caller-requested chunk size.
// A zero chunkSize selects the size automatically. Requested sizes are
// rounded up to the policy granularity.
func PlanChunksWithSize(totalSize, chunkSize int64, policy storage.ChunkPolicy, requestedThreads int) (*ChunkPlan, error) {
	if totalSize < 0 {
		return nil, fmt.Errorf("invalid blob size %d", totalSize)
	}
	if policy.Granularity <= 0 || policy.MaxBlockSize <= 0 || policy.MaxBlockCount <= 1 {
		return nil, fmt.Errorf("invalid chunk policy %+v", policy)
	}

	// Chunk lengths are int32; no policy may plan past that.
	maxBlock := min(policy.MaxBlockSize, math.MaxInt32)
	if chunkSize > maxBlock {
		return nil, fmt.Errorf("%w: %d > %d", ErrChunkSizeTooLarge, chunkSize, maxBlock)
	}

	size := chunkSize
	if size <= 0 {
		// Fewest bytes per chunk that keeps ceil(total/size) < MaxBlockCount
		size = ceilDiv(totalSize, policy.MaxBlockCount-1)
	}
	if size < policy.MinBlockSize {
		size = policy.MinBlockSize
	}
	size = ceilDiv(size, policy.Granularity) * policy.Granularity
	if size > maxBlock {
		return nil, fmt.Errorf("%w: %d bytes needs %d-byte chunks, maximum is %d",
			ErrSizeExceeded, totalSize, size, maxBlock)
	}
	if ceilDiv(totalSize, size) >= policy.MaxBlockCount {
		return nil, fmt.Errorf("%w: %d bytes in %d-byte chunks needs %d blocks, limit is %d",
			ErrSizeExceeded, totalSize, size, ceilDiv(totalSize, size), policy.MaxBlockCount)
	}

	count := ceilDiv(totalSize, size)
	plan := &ChunkPlan{
		Chunks:    make([]TransferChunk, 0, count),
		ChunkSize: size,
	}
	for offset, index := int64(0), 0; offset < totalSize; offset, index = offset+size, index+1 {
		length := size
		if remaining := totalSize - offset; remaining < length {
			length = remaining
		}
		plan.Chunks = append(plan.Chunks, TransferChunk{
			Index:   index,
			Offset:  offset,
			Length:  int32(length),
			BlockID: BlockID(index),
		})
	}

	plan.Workers = requestedThreads
	if plan.Workers < 1 {
		plan.Workers = 1
	}
	if plan.Workers > len(plan.Chunks) {
		plan.Workers = len(plan.Chunks)
	}
	return plan, nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
