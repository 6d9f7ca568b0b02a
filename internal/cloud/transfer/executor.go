package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/crypto" // package name is 'encryption'
	"github.com/mediaflow/blobxfer/internal/events"
	inthttp "github.com/mediaflow/blobxfer/internal/http"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// chunkFunc moves one chunk. It is called again for the same chunk on retry.
type chunkFunc func(ctx context.Context, chunk TransferChunk) error

// job is one upload or download owned by the executor.
type job struct {
	taskID       string
	transferType events.TransferType
	localPath    string
	uri          string
	totalSize    int64
	plan         *ChunkPlan
	pending      []TransferChunk // chunks this run must move
	policy       inthttp.RetryPolicy
	logger       *logging.Logger

	transferChunk chunkFunc
	chunkDone     func(TransferChunk)             // optional, after a chunk lands
	refreshAuth   func(ctx context.Context) error // optional, on credential faults
	recoverLocal  func() error                    // optional, on local I/O faults
	progress      func(ProgressEvent)

	queue       *WorkQueue
	speed       *SpeedTracker
	transferred atomic.Int64 // cumulative, including bytes present before this run
	moved       atomic.Int64 // bytes moved by this run

	failed  atomic.Bool
	halt    context.CancelFunc // wakes sleeping workers once the job has failed
	errMu   sync.Mutex
	errs    error
	refresh singleflight.Group
}

// execute runs the worker pool until every pending chunk has landed, the
// retry policy gives up, or ctx is cancelled. A failed job reports the
// aggregate of every error observed.
func (j *job) execute(ctx context.Context) (cancelled bool, err error) {
	j.queue = NewWorkQueue(j.pending)
	if j.speed == nil {
		j.speed = NewSpeedTracker()
	}
	if ctx.Err() != nil {
		return true, nil
	}

	// Retry sleeps end on failure as well as on cancellation; only ctx
	// decides whether the job was cancelled.
	sleepCtx, halt := context.WithCancel(ctx)
	defer halt()
	j.halt = halt

	workers := min(j.plan.Workers, len(j.pending))
	j.logger.Debug().Str("task", j.taskID).Int("chunks", len(j.pending)).
		Int("workers", workers).Int64("chunk_size", j.plan.ChunkSize).Msg("starting workers")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			j.work(ctx, sleepCtx, workerID)
		}(i)
	}
	wg.Wait()

	switch {
	case j.failed.Load():
		return false, j.aggregate()
	case ctx.Err() != nil:
		return true, nil
	case j.queue.Len() > 0:
		// Workers only exit with work left on failure or cancellation.
		return false, multierr.Append(j.aggregate(), errors.New("workers exited with chunks outstanding"))
	}
	return false, nil
}

func (j *job) work(ctx, sleepCtx context.Context, workerID int) {
	for {
		if ctx.Err() != nil || j.failed.Load() {
			return
		}

		item, ok := j.queue.TryDequeue()
		if !ok {
			return
		}

		err := j.runChunk(ctx, item.Chunk)
		if err == nil {
			j.queue.Complete(item)
			j.completeChunk(item.Chunk)
			continue
		}

		// Cancelled chunks are abandoned, never requeued.
		if ctx.Err() != nil {
			return
		}

		j.recordError(fmt.Errorf("chunk %d (offset %d): %w", item.Chunk.Index, item.Chunk.Offset, err))
		if !j.recover(ctx, err) {
			j.fail()
			return
		}

		status := inthttp.StatusCodeOf(err)
		retry, delay := j.policy.ShouldRetry(item.Attempt+1, status, err)
		if !retry {
			j.logger.Error().Err(err).Str("task", j.taskID).Int("chunk", item.Chunk.Index).
				Int("attempt", item.Attempt+1).Msg("giving up on chunk")
			j.fail()
			return
		}

		j.logger.Warn().Err(err).Str("task", j.taskID).Int("worker", workerID).
			Int("chunk", item.Chunk.Index).Int64("offset", item.Chunk.Offset).
			Int("attempt", item.Attempt+1).Int("status", status).Dur("delay", delay).
			Str("fault", inthttp.ErrorTypeName(inthttp.ClassifyError(err))).
			Msg("chunk failed, retrying")

		j.queue.Requeue(item)
		if inthttp.SleepContext(sleepCtx, delay) != nil {
			return
		}
	}
}

// runChunk applies the per-block timeout. A timeout of the block alone is a
// retryable network fault, not a cancellation.
func (j *job) runChunk(ctx context.Context, chunk TransferChunk) error {
	opCtx, cancel := context.WithTimeout(ctx, constants.BlockOperationTimeout)
	defer cancel()

	err := j.transferChunk(opCtx, chunk)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("chunk %d: operation timeout after %v", chunk.Index, constants.BlockOperationTimeout)
	}
	return err
}

// recover runs the fault-specific recovery before a retry. It returns false
// when the fault is terminal.
func (j *job) recover(ctx context.Context, err error) bool {
	if errors.Is(err, storage.ErrFileChanged) || errors.Is(err, storage.ErrInsufficientSpace) {
		return false
	}

	switch inthttp.ClassifyError(err) {
	case inthttp.ErrorTypeCredential:
		if j.refreshAuth == nil {
			return true
		}
		// Concurrent 403s share one refresh.
		_, rerr, _ := j.refresh.Do("refresh", func() (interface{}, error) {
			j.logger.Info().Str("task", j.taskID).Msg("refreshing credentials after authorization failure")
			return nil, j.refreshAuth(ctx)
		})
		if rerr != nil {
			j.recordError(fmt.Errorf("credential refresh: %w", rerr))
			return !errors.Is(rerr, storage.ErrFileChanged) && !errors.Is(rerr, storage.ErrBlobNotFound)
		}

	case inthttp.ErrorTypeLocalIO:
		if j.recoverLocal == nil {
			return true
		}
		if rerr := j.recoverLocal(); rerr != nil {
			j.recordError(fmt.Errorf("reopen %s: %w", j.localPath, rerr))
			return false
		}
	}
	return true
}

func (j *job) completeChunk(chunk TransferChunk) {
	n := int64(chunk.Length)
	total := j.transferred.Add(n)
	j.moved.Add(n)
	rate := j.speed.Report(total)

	if j.chunkDone != nil {
		j.chunkDone(chunk)
	}
	if j.progress != nil {
		j.progress(ProgressEvent{
			TaskID:           j.taskID,
			BytesTransferred: total,
			ChunkBytes:       n,
			TotalBytes:       j.totalSize,
			Percent:          percent(total, j.totalSize),
			Rate:             rate,
			URI:              j.uri,
			LocalPath:        j.localPath,
		})
	}
}

// call runs a single non-chunk operation (delete, begin, commit) under the
// job's retry policy.
func (j *job) call(ctx context.Context, what string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fmt.Errorf("%s: %w", what, err)
		j.recordError(err)
		if !j.recover(ctx, err) {
			return err
		}

		retry, delay := j.policy.ShouldRetry(attempt, inthttp.StatusCodeOf(err), err)
		if !retry {
			return err
		}
		j.logger.Warn().Err(err).Str("task", j.taskID).Int("attempt", attempt).Dur("delay", delay).Msg("retrying")
		if err := inthttp.SleepContext(ctx, delay); err != nil {
			return err
		}
	}
}

func (j *job) recordError(err error) {
	j.errMu.Lock()
	j.errs = multierr.Append(j.errs, err)
	j.errMu.Unlock()
}

func (j *job) aggregate() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.errs
}

func (j *job) fail() {
	j.failed.Store(true)
	if j.halt != nil {
		j.halt()
	}
}

func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(done * 100 / total)
}

// localFile is the single handle shared by a job's workers. Positional I/O
// and the encryption transform both happen under mu.
type localFile struct {
	mu   sync.Mutex
	path string
	flag int
	f    *os.File
	enc  *encryption.EncryptionContext
}

func openLocalFile(path string, flag int, enc *encryption.EncryptionContext) (*localFile, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	// Reopening must never truncate or recreate what has been written.
	return &localFile{path: path, flag: flag &^ (os.O_TRUNC | os.O_EXCL), f: f, enc: enc}, nil
}

// readChunk fills buf from off and applies the transform. A short read means
// the file shrank after planning.
func (lf *localFile) readChunk(buf []byte, off int64) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	n, err := lf.f.ReadAt(buf, off)
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: short read at offset %d: %w", lf.path, off, storage.ErrFileChanged)
		}
		return err
	}
	lf.enc.Transform(buf, off)
	return nil
}

// writeChunk applies the transform to buf in place and writes it at off.
func (lf *localFile) writeChunk(buf []byte, off int64) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	lf.enc.Transform(buf, off)
	_, err := lf.f.WriteAt(buf, off)
	return err
}

func (lf *localFile) reopen() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	lf.f.Close()
	f, err := os.OpenFile(lf.path, lf.flag, 0644)
	if err != nil {
		return err
	}
	lf.f = f
	return nil
}

func (lf *localFile) truncate(size int64) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.f.Truncate(size)
}

func (lf *localFile) close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.f.Close()
}
