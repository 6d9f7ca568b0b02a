package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mediaflow/blobxfer/internal/cloud/state"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/crypto" // package name is 'encryption'
	"github.com/mediaflow/blobxfer/internal/events"
	inthttp "github.com/mediaflow/blobxfer/internal/http"
)

// UploadRequest describes one file upload.
type UploadRequest struct {
	DestinationURI string
	LocalPath      string
	ContentType    string

	// Encryption is an AES-256 key. When set, blocks are encrypted with
	// AES-CTR and the IV is stored in the blob metadata.
	Encryption []byte
	// IV overrides the random IV of an encrypted upload.
	IV []byte

	// RetryPolicy overrides the client default for this transfer.
	RetryPolicy inthttp.RetryPolicy

	// DeleteExisting removes any blob at DestinationURI before staging.
	DeleteExisting bool

	// ChunkSize requests a block size. Zero picks the smallest allowed.
	ChunkSize int64

	// TaskID labels events. A UUID is assigned when empty.
	TaskID string
}

// UploadBlob validates and plans the upload, then moves the file in the
// background. Planning faults, a missing file and a locked file are returned
// directly; every later outcome is delivered through the Operation.
func (c *Client) UploadBlob(ctx context.Context, req UploadRequest) (*Operation, error) {
	if req.DestinationURI == "" {
		return nil, errors.New("destination URI is required")
	}
	if req.LocalPath == "" {
		return nil, errors.New("local path is required")
	}

	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("cannot upload %s: %w", req.LocalPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot upload %s: is a directory", req.LocalPath)
	}

	store, err := c.opts.Stores.NewStore(ctx, req.DestinationURI)
	if err != nil {
		return nil, err
	}

	plan, err := PlanChunksWithSize(info.Size(), req.ChunkSize, store.ChunkPolicy(), c.opts.Threads)
	if err != nil {
		return nil, err
	}

	var enc *encryption.EncryptionContext
	if req.Encryption != nil {
		if req.IV != nil {
			enc, err = encryption.NewEncryptionContext(req.Encryption, req.IV)
		} else {
			enc, err = encryption.NewRandomEncryptionContext(req.Encryption)
		}
		if err != nil {
			return nil, err
		}
	}

	op, n := c.newNotifier(req.TaskID)

	// Nothing has been touched yet; a cancelled request ends here.
	if ctx.Err() != nil {
		n.notify(true, nil, events.TransferUpload, req.LocalPath, req.DestinationURI, 0)
		return op, nil
	}

	lock, err := state.AcquireLock(req.LocalPath)
	if err != nil {
		return nil, err
	}

	lf, err := openLocalFile(req.LocalPath, os.O_RDONLY, enc)
	if err != nil {
		lock.Release()
		return nil, err
	}

	j := c.newJob(op.TaskID(), events.TransferUpload, req.LocalPath, req.DestinationURI, info.Size(), plan, req.RetryPolicy)
	j.refreshAuth = func(ctx context.Context) error {
		return store.RefreshCredentials(ctx, req.DestinationURI)
	}
	j.recoverLocal = lf.reopen

	go func() {
		cancelled, err := c.runUpload(ctx, j, store, lf, req, enc)
		lf.close()
		lock.Release()
		n.notify(cancelled, err, events.TransferUpload, j.localPath, j.uri, j.moved.Load())
	}()
	return op, nil
}

// runUpload stages every block and commits the block list. The lock and the
// file handle are released by the caller before the completion notification.
func (c *Client) runUpload(ctx context.Context, j *job, store storage.BlobStore, lf *localFile, req UploadRequest, enc *encryption.EncryptionContext) (cancelled bool, err error) {
	logger := c.logger.Child("task", j.taskID, "uri", redact(j.uri), "store", store.StorageType())
	timer := StartTimer(logger, "upload")
	c.publishStarted(j)

	if req.DeleteExisting {
		err := j.call(ctx, "delete existing blob", func(ctx context.Context) error {
			return store.DeleteIfExists(ctx, j.uri)
		})
		if err != nil {
			return ctx.Err() != nil, j.aggregate()
		}
	}

	opts := storage.UploadOptions{ContentType: req.ContentType}
	if enc != nil {
		opts.Metadata = map[string]string{
			constants.MetadataEncryption: constants.EncryptionAlgorithm,
			constants.MetadataIV:         encryption.EncodeBase64(enc.IV()),
		}
	}

	var session storage.UploadSession
	err = j.call(ctx, "begin upload", func(ctx context.Context) error {
		var err error
		session, err = store.BeginUpload(ctx, j.uri, opts)
		return err
	})
	if err != nil {
		return ctx.Err() != nil, j.aggregate()
	}

	abort := func() {
		actx, cancel := cleanupContext()
		defer cancel()
		if err := session.Abort(actx); err != nil {
			logger.Warn().Err(err).Msg("failed to abort upload")
		}
	}

	limiter := c.opts.Limiter
	j.transferChunk = func(ctx context.Context, chunk TransferChunk) error {
		buf := make([]byte, chunk.Length)
		if err := lf.readChunk(buf, chunk.Offset); err != nil {
			return err
		}
		if err := limiter.WaitN(ctx, len(buf)); err != nil {
			return err
		}
		return session.StageBlock(ctx, chunk.BlockID, chunk.Index, buf)
	}

	cancelled, err = j.execute(ctx)
	if cancelled || err != nil {
		abort()
		return cancelled, err
	}

	// Commit happens after every worker has joined.
	err = j.call(ctx, "commit block list", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, constants.CommitTimeout)
		defer cancel()
		return session.Commit(cctx, j.plan.BlockIDs())
	})
	if err != nil {
		abort()
		if ctx.Err() != nil {
			return true, nil
		}
		return false, j.aggregate()
	}
	logger.Debug().Int("blocks", len(j.plan.Chunks)).Msg("committed block list")

	if j.totalSize == 0 {
		j.progress(ProgressEvent{TaskID: j.taskID, Percent: 100, URI: j.uri, LocalPath: j.localPath})
	}
	timer.StopWithThroughput(j.moved.Load())
	// Errors recovered by retry are not failures.
	return false, nil
}
