package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mediaflow/blobxfer/internal/cloud/state"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/crypto" // package name is 'encryption'
	"github.com/mediaflow/blobxfer/internal/diskspace"
	"github.com/mediaflow/blobxfer/internal/events"
	inthttp "github.com/mediaflow/blobxfer/internal/http"
)

// DownloadRequest describes one blob download.
type DownloadRequest struct {
	SourceURI string
	LocalPath string

	// Encryption is the AES-256 key of an encrypted blob.
	Encryption []byte
	// IV overrides the IV recorded in the blob metadata.
	IV []byte

	RetryPolicy inthttp.RetryPolicy
	ChunkSize   int64
	TaskID      string
}

// DownloadBlob reads the blob properties, plans the download and writes the
// blob to LocalPath in the background. Chunks land at their own offsets, so
// the file is preallocated to the blob size first.
func (c *Client) DownloadBlob(ctx context.Context, req DownloadRequest) (*Operation, error) {
	if req.SourceURI == "" {
		return nil, errors.New("source URI is required")
	}
	if req.LocalPath == "" {
		return nil, errors.New("local path is required")
	}
	localPath, err := filepath.Abs(req.LocalPath)
	if err != nil {
		return nil, err
	}

	store, err := c.opts.Stores.NewStore(ctx, req.SourceURI)
	if err != nil {
		return nil, err
	}

	op, n := c.newNotifier(req.TaskID)
	if ctx.Err() != nil {
		n.notify(true, nil, events.TransferDownload, localPath, req.SourceURI, 0)
		return op, nil
	}

	props, err := c.blobProperties(ctx, store, req.SourceURI)
	if err != nil {
		if ctx.Err() != nil {
			n.notify(true, nil, events.TransferDownload, localPath, req.SourceURI, 0)
			return op, nil
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	enc, err := downloadEncryption(req, props)
	if err != nil {
		return nil, err
	}

	plan, err := PlanChunksWithSize(props.Size, req.ChunkSize, store.ChunkPolicy(), c.opts.Threads)
	if err != nil {
		return nil, err
	}

	// Nothing local exists yet; a request cancelled during planning ends here.
	if ctx.Err() != nil {
		n.notify(true, nil, events.TransferDownload, localPath, req.SourceURI, 0)
		return op, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	lock, err := state.AcquireLock(localPath)
	if err != nil {
		return nil, err
	}

	j := c.newJob(op.TaskID(), events.TransferDownload, localPath, req.SourceURI, props.Size, plan, req.RetryPolicy)
	resumed := c.prepareResume(j, props.ETag)

	if !resumed {
		if err := diskspace.CheckAvailableSpace(localPath, props.Size, constants.DiskSpaceSafetyMargin); err != nil {
			lock.Release()
			return nil, err
		}
	}

	flag := os.O_RDWR | os.O_CREATE
	if !resumed {
		flag |= os.O_TRUNC
	}
	lf, err := openLocalFile(localPath, flag, enc)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	if err := lf.truncate(props.Size); err != nil {
		lf.close()
		lock.Release()
		return nil, fmt.Errorf("failed to preallocate %s: %w", localPath, err)
	}

	etag := props.ETag
	j.refreshAuth = func(ctx context.Context) error {
		if err := store.RefreshCredentials(ctx, req.SourceURI); err != nil {
			return err
		}
		// Fresh credentials must still see the blob we planned against.
		fresh, err := store.GetProperties(ctx, req.SourceURI)
		if err != nil {
			return err
		}
		if fresh.ETag != etag || fresh.Size != props.Size {
			return fmt.Errorf("%s: etag %s -> %s: %w", redact(req.SourceURI), etag, fresh.ETag, storage.ErrFileChanged)
		}
		return nil
	}
	j.recoverLocal = lf.reopen

	limiter := c.opts.Limiter
	j.transferChunk = func(ctx context.Context, chunk TransferChunk) error {
		body, err := store.DownloadRange(ctx, req.SourceURI, chunk.Offset, int64(chunk.Length))
		if err != nil {
			return err
		}
		defer body.Close()

		buf := make([]byte, constants.DownloadReadBufferSize)
		off := chunk.Offset
		for off < chunk.End() {
			if err := ctx.Err(); err != nil {
				return err
			}
			want := min(int64(len(buf)), chunk.End()-off)
			nr, err := io.ReadFull(body, buf[:want])
			if nr > 0 {
				if werr := limiter.WaitN(ctx, nr); werr != nil {
					return werr
				}
				if werr := lf.writeChunk(buf[:nr], off); werr != nil {
					return werr
				}
				off += int64(nr)
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return fmt.Errorf("chunk %d: body ended at offset %d of %d: unexpected EOF", chunk.Index, off, chunk.End())
				}
				return err
			}
		}
		return nil
	}

	go func() {
		cancelled, err := c.runDownload(ctx, j, lf)
		lock.Release()
		n.notify(cancelled, err, events.TransferDownload, j.localPath, j.uri, j.moved.Load())
	}()
	return op, nil
}

// blobProperties reads the properties the download is planned against. It
// runs before the job exists, so it retries on its own.
func (c *Client) blobProperties(ctx context.Context, store storage.BlobStore, uri string) (*storage.BlobProperties, error) {
	retry := inthttp.DefaultConfig()
	retry.CredentialRefresh = func(ctx context.Context) error {
		return store.RefreshCredentials(ctx, uri)
	}
	retry.OnRetry = func(attempt int, err error, errType inthttp.ErrorType) {
		c.logger.Warn().Err(err).Str("uri", redact(uri)).Int("attempt", attempt).
			Str("fault", inthttp.ErrorTypeName(errType)).Msg("retrying blob properties")
	}

	var props *storage.BlobProperties
	err := inthttp.ExecuteWithRetry(ctx, retry, func() error {
		var err error
		props, err = store.GetProperties(ctx, uri)
		return err
	})
	return props, err
}

// downloadEncryption builds the decryption context. An IV in the request wins
// over the one in the blob metadata.
func downloadEncryption(req DownloadRequest, props *storage.BlobProperties) (*encryption.EncryptionContext, error) {
	encrypted := props.Metadata[constants.MetadataEncryption] != ""
	if req.Encryption == nil {
		if encrypted {
			return nil, errors.New("blob is encrypted but no key was provided")
		}
		return nil, nil
	}

	iv := req.IV
	if iv == nil {
		stored := props.Metadata[constants.MetadataIV]
		if stored == "" {
			return nil, errors.New("no IV provided and none recorded in blob metadata")
		}
		var err error
		if iv, err = encryption.DecodeBase64(stored); err != nil {
			return nil, fmt.Errorf("invalid IV in blob metadata: %w", err)
		}
	}
	return encryption.NewEncryptionContext(req.Encryption, iv)
}

// prepareResume loads a matching resume record and drops its chunks from the
// job, or starts a fresh record. It reports whether the existing file is kept.
func (c *Client) prepareResume(j *job, etag string) bool {
	st := c.opts.State
	if st == nil {
		return false
	}

	record, err := st.Load(j.localPath)
	if err == nil {
		verr := record.Validate(j.uri, etag, j.totalSize, j.plan.ChunkSize)
		info, serr := os.Stat(j.localPath)
		if verr == nil && serr == nil && info.Size() == j.totalSize {
			var pending []TransferChunk
			var done int64
			for _, chunk := range j.plan.Chunks {
				if record.IsChunkCompleted(chunk.Index) {
					done += int64(chunk.Length)
					continue
				}
				pending = append(pending, chunk)
			}
			j.pending = pending
			j.transferred.Store(done)
			c.logger.Info().Str("task", j.taskID).Str("path", j.localPath).
				Int("remaining", len(pending)).Int64("resumed_bytes", done).Msg("resuming download")
			c.trackChunks(j)
			return true
		}
		c.logger.Debug().Str("path", j.localPath).Msg("discarding stale resume state")
	} else if !errors.Is(err, state.ErrNoState) {
		c.logger.Warn().Err(err).Str("path", j.localPath).Msg("failed to load resume state")
	}

	if err := st.Save(state.NewDownloadState(j.localPath, j.uri, etag, j.totalSize, j.plan.ChunkSize)); err != nil {
		c.logger.Warn().Err(err).Str("path", j.localPath).Msg("failed to save resume state")
		return false
	}
	c.trackChunks(j)
	return false
}

func (c *Client) trackChunks(j *job) {
	j.chunkDone = func(chunk TransferChunk) {
		if err := c.opts.State.MarkChunk(j.localPath, chunk.Index, int64(chunk.Length)); err != nil {
			c.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("failed to record chunk")
		}
	}
}

func (c *Client) runDownload(ctx context.Context, j *job, lf *localFile) (cancelled bool, err error) {
	logger := c.logger.Child("task", j.taskID, "uri", redact(j.uri))
	timer := StartTimer(logger, "download")
	c.publishStarted(j)

	cancelled, err = j.execute(ctx)
	if cerr := lf.close(); cerr != nil && err == nil && !cancelled {
		err = fmt.Errorf("failed to close %s: %w", j.localPath, cerr)
	}

	if !cancelled && err == nil {
		if j.totalSize == 0 {
			j.progress(ProgressEvent{TaskID: j.taskID, Percent: 100, URI: j.uri, LocalPath: j.localPath})
		}
		if c.opts.State != nil {
			if derr := c.opts.State.Delete(j.localPath); derr != nil {
				logger.Warn().Err(derr).Msg("failed to delete resume state")
			}
		}
		timer.StopWithThroughput(j.moved.Load())
	}
	return cancelled, err
}
