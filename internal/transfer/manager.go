package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	cloudtransfer "github.com/mediaflow/blobxfer/internal/cloud/transfer"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/events"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// Manager runs transfers through one engine client, at most Concurrent at a time.
type Manager struct {
	client *cloudtransfer.Client
	queue  *Queue
	slots  *semaphore.Weighted
	bus    *events.EventBus
	logger *logging.Logger
}

// NewManager builds the engine client from opts. Progress and completion are
// routed through the queue before reaching the callbacks in opts.
func NewManager(opts cloudtransfer.ClientOptions, concurrent int) (*Manager, error) {
	if concurrent <= 0 {
		concurrent = constants.DefaultNumberOfConcurrentTransfers
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	queue := NewQueue(opts.Bus)
	onProgress, onCompleted := opts.OnProgress, opts.OnCompleted
	opts.OnProgress = func(ev cloudtransfer.ProgressEvent) {
		queue.UpdateProgress(ev)
		if onProgress != nil {
			onProgress(ev)
		}
	}
	opts.OnCompleted = func(res cloudtransfer.Result) {
		queue.Finish(res)
		if onCompleted != nil {
			onCompleted(res)
		}
	}

	client, err := cloudtransfer.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &Manager{
		client: client,
		queue:  queue,
		slots:  semaphore.NewWeighted(int64(concurrent)),
		bus:    opts.Bus,
		logger: opts.Logger,
	}, nil
}

// Queue returns the task tracker.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// Upload waits for a transfer slot, runs the upload and waits for it.
func (m *Manager) Upload(ctx context.Context, req cloudtransfer.UploadRequest, size int64) (cloudtransfer.Result, error) {
	task := m.queue.TrackTransfer(events.TransferUpload, filepath.Base(req.LocalPath), req.LocalPath, req.DestinationURI, size)
	req.TaskID = task.ID
	return m.run(ctx, task, func(ctx context.Context) (*cloudtransfer.Operation, error) {
		return m.client.UploadBlob(ctx, req)
	})
}

// Download waits for a transfer slot, runs the download and waits for it.
func (m *Manager) Download(ctx context.Context, req cloudtransfer.DownloadRequest) (cloudtransfer.Result, error) {
	task := m.queue.TrackTransfer(events.TransferDownload, filepath.Base(req.LocalPath), req.SourceURI, req.LocalPath, 0)
	req.TaskID = task.ID
	return m.run(ctx, task, func(ctx context.Context) (*cloudtransfer.Operation, error) {
		return m.client.DownloadBlob(ctx, req)
	})
}

func (m *Manager) run(ctx context.Context, task *TransferTask, start func(context.Context) (*cloudtransfer.Operation, error)) (cloudtransfer.Result, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		res := cloudtransfer.Result{TaskID: task.ID, TransferType: task.Type, Cancelled: true}
		m.queue.Finish(res)
		return res, err
	}
	defer m.slots.Release(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.queue.Activate(task.ID, cancel)

	op, err := start(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("task", task.ID).Str("name", task.Name).Msg("transfer rejected")
		m.queue.Fail(task.ID, err)
		if m.bus != nil {
			m.bus.PublishLog(events.ErrorLevel, "cannot start "+task.Name, task.ID, err)
		}
		return cloudtransfer.Result{TaskID: task.ID, TransferType: task.Type, Err: err}, err
	}
	err = op.Wait()
	return op.Result(), err
}

// UploadAll runs every upload, Concurrent at a time, and returns the
// aggregate of all failures. A failure does not stop the other uploads.
func (m *Manager) UploadAll(ctx context.Context, reqs []cloudtransfer.UploadRequest, sizes []int64) error {
	return m.all(ctx, len(reqs), func(ctx context.Context, i int) error {
		_, err := m.Upload(ctx, reqs[i], sizes[i])
		if err != nil {
			return fmt.Errorf("%s: %w", reqs[i].LocalPath, err)
		}
		return nil
	})
}

// DownloadAll is UploadAll for downloads.
func (m *Manager) DownloadAll(ctx context.Context, reqs []cloudtransfer.DownloadRequest) error {
	return m.all(ctx, len(reqs), func(ctx context.Context, i int) error {
		_, err := m.Download(ctx, reqs[i])
		if err != nil {
			return fmt.Errorf("%s: %w", reqs[i].SourceURI, err)
		}
		return nil
	})
}

func (m *Manager) all(ctx context.Context, n int, fn func(context.Context, int) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := fn(ctx, i); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}
