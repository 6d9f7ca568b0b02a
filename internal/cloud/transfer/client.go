package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mediaflow/blobxfer/internal/cloud/state"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/events"
	inthttp "github.com/mediaflow/blobxfer/internal/http"
	"github.com/mediaflow/blobxfer/internal/logging"
	"github.com/mediaflow/blobxfer/internal/ratelimit"
)

// StoreResolver returns the store serving a blob URI.
// *providers.Factory implements it.
type StoreResolver interface {
	NewStore(ctx context.Context, uri string) (storage.BlobStore, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Stores resolves blob URIs to storage backends. Required.
	Stores StoreResolver

	// Threads is the per-transfer worker count (ParallelTransferThreadCount).
	Threads int

	// RetryPolicy is used when a request does not carry its own.
	RetryPolicy inthttp.RetryPolicy

	// Limiter caps aggregate bandwidth. Nil means unlimited.
	Limiter *ratelimit.Limiter

	// State enables download resume. Nil disables it.
	State *state.Store

	// Bus receives progress and completion events. Optional.
	Bus *events.EventBus

	Logger *logging.Logger

	// OnProgress is called after every committed chunk, from worker goroutines.
	OnProgress func(ProgressEvent)

	// OnCompleted is called exactly once per transfer.
	OnCompleted func(Result)
}

// Client starts chunked uploads and downloads.
// Thread-safe: any number of transfers may run at once.
type Client struct {
	opts   ClientOptions
	logger *logging.Logger
}

// NewClient creates a transfer client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Stores == nil {
		return nil, errors.New("a store resolver is required")
	}
	if opts.Threads <= 0 {
		opts.Threads = constants.DefaultParallelTransferThreadCount
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = inthttp.DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Client{opts: opts, logger: opts.Logger}, nil
}

// Threads returns the per-transfer worker count.
func (c *Client) Threads() int {
	return c.opts.Threads
}

func (c *Client) newJob(taskID string, transferType events.TransferType, localPath, uri string, totalSize int64, plan *ChunkPlan, policy inthttp.RetryPolicy) *job {
	if policy == nil {
		policy = c.opts.RetryPolicy
	}
	j := &job{
		taskID:       taskID,
		transferType: transferType,
		localPath:    localPath,
		uri:          uri,
		totalSize:    totalSize,
		plan:         plan,
		pending:      plan.Chunks,
		policy:       policy,
		logger:       c.logger,
		speed:        NewSpeedTracker(),
	}
	j.progress = c.publishProgress
	return j
}

func (c *Client) newNotifier(taskID string) (*Operation, *notifier) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	op := newOperation(taskID)
	return op, &notifier{
		op:          op,
		started:     time.Now(),
		onCompleted: c.opts.OnCompleted,
		bus:         c.opts.Bus,
		logger:      c.logger,
	}
}

func (c *Client) publishProgress(ev ProgressEvent) {
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(ev)
	}
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(&events.TransferProgressEvent{
			BaseEvent:        events.BaseEvent{EventType: events.EventTransferProgress, Time: time.Now()},
			TaskID:           ev.TaskID,
			BytesTransferred: ev.BytesTransferred,
			ChunkBytes:       ev.ChunkBytes,
			TotalBytes:       ev.TotalBytes,
			Percent:          ev.Percent,
			Rate:             ev.Rate,
			URI:              ev.URI,
			LocalPath:        ev.LocalPath,
		})
	}
}

func (c *Client) publishStarted(j *job) {
	if c.opts.Bus == nil {
		return
	}
	c.opts.Bus.Publish(&events.TransferStateEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventTransferStarted, Time: time.Now()},
		TaskID:       j.taskID,
		TransferType: j.transferType,
		URI:          j.uri,
		LocalPath:    j.localPath,
		TotalBytes:   j.totalSize,
	})
}

// redact drops the query string so SAS signatures never reach the logs.
func redact(uri string) string {
	for i := 0; i < len(uri); i++ {
		if uri[i] == '?' {
			return uri[:i]
		}
	}
	return uri
}

// cleanupContext is used for aborts after the job context is gone.
func cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.CommitTimeout)
}
