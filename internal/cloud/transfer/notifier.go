package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/mediaflow/blobxfer/internal/events"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// ProgressEvent reports a committed chunk.
// Percent is floor(100*BytesTransferred/TotalBytes), and 100 for an empty blob.
type ProgressEvent struct {
	TaskID           string
	BytesTransferred int64
	ChunkBytes       int64
	TotalBytes       int64
	Percent          int
	Rate             float64 // bytes/sec over the speed window
	URI              string
	LocalPath        string
}

// Result is the terminal outcome of one transfer.
type Result struct {
	TaskID       string
	TransferType events.TransferType
	URI          string
	LocalPath    string
	Bytes        int64 // bytes moved by this run
	Cancelled    bool
	Err          error // aggregate of every error observed; nil on success or cancellation
	Duration     time.Duration
}

// Operation is the handle of a running transfer. Its result is assigned once.
type Operation struct {
	taskID string
	done   chan struct{}
	result Result
}

func newOperation(taskID string) *Operation {
	return &Operation{taskID: taskID, done: make(chan struct{})}
}

// TaskID identifies the transfer in events.
func (o *Operation) TaskID() string { return o.taskID }

// Done is closed when the transfer has finished.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the transfer finishes. It returns context.Canceled for a
// cancelled transfer and the aggregate error for a failed one.
func (o *Operation) Wait() error {
	<-o.done
	if o.result.Cancelled {
		return context.Canceled
	}
	return o.result.Err
}

// Result blocks until the transfer finishes and returns its outcome.
func (o *Operation) Result() Result {
	<-o.done
	return o.result
}

// notifier delivers the completion of one job exactly once. The completion
// callback and the terminal event run before the Operation resolves, so a
// waiter always observes them. The callback must not wait on the Operation.
type notifier struct {
	once        sync.Once
	op          *Operation
	started     time.Time
	onCompleted func(Result)
	bus         *events.EventBus
	logger      *logging.Logger
}

func (n *notifier) notify(cancelled bool, err error, transferType events.TransferType, localPath, uri string, bytes int64) {
	n.once.Do(func() {
		if cancelled {
			err = nil
		}
		res := Result{
			TaskID:       n.op.taskID,
			TransferType: transferType,
			URI:          uri,
			LocalPath:    localPath,
			Bytes:        bytes,
			Cancelled:    cancelled,
			Err:          err,
			Duration:     time.Since(n.started),
		}

		n.op.result = res

		switch {
		case cancelled:
			n.logger.Info().Str("task", res.TaskID).Str("type", string(transferType)).Msg("transfer cancelled")
		case err != nil:
			n.logger.Error().Err(err).Str("task", res.TaskID).Str("type", string(transferType)).Msg("transfer failed")
		default:
			n.logger.Info().Str("task", res.TaskID).Str("type", string(transferType)).
				Int64("bytes", bytes).Dur("elapsed", res.Duration).Msg("transfer completed")
		}

		if n.onCompleted != nil {
			n.onCompleted(res)
		}
		if n.bus != nil {
			n.bus.Publish(&events.TransferCompletedEvent{
				BaseEvent:    events.BaseEvent{EventType: events.EventTransferCompleted, Time: time.Now()},
				TaskID:       res.TaskID,
				Error:        err,
				Cancelled:    cancelled,
				TransferType: transferType,
				LocalPath:    localPath,
				URI:          uri,
				Bytes:        bytes,
			})
		}
		close(n.op.done)
	})
}
