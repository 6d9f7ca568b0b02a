// Package transfer tracks batches of uploads and downloads. The Manager
// bounds how many transfers run at once and feeds engine progress and
// completion into the Queue, which keeps per-task state for display.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	cloudtransfer "github.com/mediaflow/blobxfer/internal/cloud/transfer"
	"github.com/mediaflow/blobxfer/internal/events"
)

// QueueStats holds statistics about the transfer queue.
type QueueStats struct {
	Queued    int
	Active    int
	Completed int
	Failed    int
	Cancelled int
}

// Total returns total number of tasks in queue.
func (s QueueStats) Total() int {
	return s.Queued + s.Active + s.Completed + s.Failed + s.Cancelled
}

// Queue is a passive tracker. It does not execute transfers; the Manager
// registers tasks, activates them when a slot is free and reports outcomes.
type Queue struct {
	tasks     []*TransferTask
	tasksByID map[string]*TransferTask
	mu        sync.RWMutex

	cancelFuncs map[string]context.CancelFunc

	eventBus *events.EventBus
}

// NewQueue creates a queue publishing to eventBus (which may be nil).
func NewQueue(eventBus *events.EventBus) *Queue {
	return &Queue{
		tasks:       make([]*TransferTask, 0),
		tasksByID:   make(map[string]*TransferTask),
		cancelFuncs: make(map[string]context.CancelFunc),
		eventBus:    eventBus,
	}
}

// TrackTransfer registers a queued task and publishes EventTransferQueued.
func (q *Queue) TrackTransfer(taskType events.TransferType, name, source, dest string, size int64) *TransferTask {
	task := NewTransferTask(taskType, name, source, dest, size)

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.tasksByID[task.ID] = task
	q.mu.Unlock()

	if q.eventBus != nil {
		uri, localPath := dest, source
		if taskType == events.TransferDownload {
			uri, localPath = source, dest
		}
		q.eventBus.Publish(&events.TransferStateEvent{
			BaseEvent:    events.BaseEvent{EventType: events.EventTransferQueued, Time: time.Now()},
			TaskID:       task.ID,
			TransferType: taskType,
			URI:          uri,
			LocalPath:    localPath,
			TotalBytes:   size,
		})
	}
	return task
}

// Activate marks a queued task as running and stores its cancel function.
func (q *Queue) Activate(taskID string, cancelFn context.CancelFunc) {
	q.mu.Lock()
	task := q.tasksByID[taskID]
	if cancelFn != nil {
		q.cancelFuncs[taskID] = cancelFn
	}
	q.mu.Unlock()

	if task != nil && task.GetState() == TaskQueued {
		task.SetState(TaskActive)
	}
}

// UpdateProgress applies an engine progress report.
func (q *Queue) UpdateProgress(ev cloudtransfer.ProgressEvent) {
	q.mu.RLock()
	task := q.tasksByID[ev.TaskID]
	q.mu.RUnlock()

	if task != nil {
		task.UpdateProgress(ev.BytesTransferred, ev.TotalBytes, ev.Rate)
	}
}

// Finish applies the terminal result of a transfer.
func (q *Queue) Finish(res cloudtransfer.Result) {
	q.mu.Lock()
	task := q.tasksByID[res.TaskID]
	delete(q.cancelFuncs, res.TaskID)
	q.mu.Unlock()

	if task == nil {
		return
	}
	switch {
	case res.Cancelled:
		task.SetState(TaskCancelled)
	case res.Err != nil:
		task.SetError(res.Err)
	default:
		task.mu.Lock()
		task.Progress = 1.0
		task.mu.Unlock()
		task.SetState(TaskCompleted)
	}
}

// Fail marks a task failed before the engine accepted it (planning errors,
// missing files).
func (q *Queue) Fail(taskID string, err error) {
	q.Finish(cloudtransfer.Result{TaskID: taskID, Err: err})
}

// Cancel cancels a queued or active task. The task moves to TaskCancelled
// when the engine reports completion.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	task, exists := q.tasksByID[taskID]
	cancelFn := q.cancelFuncs[taskID]
	q.mu.Unlock()

	if !exists {
		return errors.New("task not found")
	}
	if task.IsTerminal() {
		return errors.New("task already finished")
	}
	if cancelFn != nil {
		cancelFn()
	}
	return nil
}

// CancelAll cancels every running task.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	cancelFns := make([]context.CancelFunc, 0, len(q.cancelFuncs))
	for _, fn := range q.cancelFuncs {
		cancelFns = append(cancelFns, fn)
	}
	q.mu.Unlock()

	for _, fn := range cancelFns {
		fn()
	}
}

// ClearCompleted removes all completed, failed and cancelled tasks.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := make([]*TransferTask, 0, len(q.tasks))
	for _, task := range q.tasks {
		if !task.IsTerminal() {
			filtered = append(filtered, task)
		} else {
			delete(q.tasksByID, task.ID)
		}
	}
	q.tasks = filtered
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := QueueStats{}
	for _, task := range q.tasks {
		switch task.GetState() {
		case TaskQueued:
			stats.Queued++
		case TaskActive:
			stats.Active++
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// GetTasks returns a copy of all tasks in creation order.
func (q *Queue) GetTasks() []TransferTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]TransferTask, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.Clone()
	}
	return result
}

// GetTask returns a copy of a specific task by ID.
func (q *Queue) GetTask(taskID string) (TransferTask, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, exists := q.tasksByID[taskID]
	if !exists {
		return TransferTask{}, false
	}
	return task.Clone(), true
}
