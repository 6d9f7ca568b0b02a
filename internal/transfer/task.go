package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaflow/blobxfer/internal/events"
)

// TaskState represents the current state of a transfer task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"    // Waiting for a transfer slot
	TaskActive    TaskState = "active"    // Slot acquired, chunks moving
	TaskCompleted TaskState = "completed" // Successfully completed
	TaskFailed    TaskState = "failed"    // Failed with error
	TaskCancelled TaskState = "cancelled" // Cancelled before or during the transfer
)

// TransferTask is the tracked view of one upload or download.
// Thread-safe: Use the provided methods to update state.
type TransferTask struct {
	ID   string
	Type events.TransferType

	Name   string // Display name (base name of the local file)
	Source string // Local path (upload) or blob URI (download)
	Dest   string // Blob URI (upload) or local path (download)
	Size   int64  // Bytes, 0 until known for downloads

	State            TaskState
	BytesTransferred int64
	Progress         float64 // 0.0 to 1.0
	Speed            float64 // bytes/sec, from the engine's speed window
	Error            error

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu sync.RWMutex
}

// NewTransferTask creates a queued task with a fresh UUID.
func NewTransferTask(taskType events.TransferType, name, source, dest string, size int64) *TransferTask {
	return &TransferTask{
		ID:        uuid.NewString(),
		Type:      taskType,
		Name:      name,
		Source:    source,
		Dest:      dest,
		Size:      size,
		State:     TaskQueued,
		CreatedAt: time.Now(),
	}
}

// GetState returns the current state (thread-safe).
func (t *TransferTask) GetState() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// SetState updates the task state (thread-safe).
func (t *TransferTask) SetState(state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.State = state
	if state == TaskActive && t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	if isTerminal(state) {
		t.CompletedAt = time.Now()
	}
}

// UpdateProgress records cumulative bytes and the engine's rate estimate.
// Reports can arrive out of order from different workers; progress never
// moves backwards.
func (t *TransferTask) UpdateProgress(bytesTransferred, totalBytes int64, rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if totalBytes > 0 {
		t.Size = totalBytes
	}
	if bytesTransferred < t.BytesTransferred {
		return
	}
	t.BytesTransferred = bytesTransferred
	if t.Size > 0 {
		t.Progress = float64(bytesTransferred) / float64(t.Size)
	} else {
		t.Progress = 1.0
	}
	if rate > 0 {
		t.Speed = rate
	}
}

// GetProgress returns current progress (thread-safe).
func (t *TransferTask) GetProgress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Progress
}

// GetSpeed returns current transfer speed in bytes/sec (thread-safe).
func (t *TransferTask) GetSpeed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Speed
}

// SetError sets the error and changes state to TaskFailed (thread-safe).
func (t *TransferTask) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Error = err
	t.State = TaskFailed
	t.CompletedAt = time.Now()
}

// GetError returns the error if any (thread-safe).
func (t *TransferTask) GetError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// Clone returns a copy of the task's fields for safe external use.
func (t *TransferTask) Clone() TransferTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TransferTask{
		ID:               t.ID,
		Type:             t.Type,
		Name:             t.Name,
		Source:           t.Source,
		Dest:             t.Dest,
		Size:             t.Size,
		State:            t.State,
		BytesTransferred: t.BytesTransferred,
		Progress:         t.Progress,
		Speed:            t.Speed,
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
	}
}

// IsTerminal returns true if the task is completed, failed or cancelled.
func (t *TransferTask) IsTerminal() bool {
	return isTerminal(t.GetState())
}

func isTerminal(state TaskState) bool {
	return state == TaskCompleted || state == TaskFailed || state == TaskCancelled
}
