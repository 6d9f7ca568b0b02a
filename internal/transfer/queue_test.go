package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	cloudtransfer "github.com/mediaflow/blobxfer/internal/cloud/transfer"
	"github.com/mediaflow/blobxfer/internal/events"
)

// Task tests

func TestNewTransferTask(t *testing.T) {
	task := NewTransferTask(events.TransferUpload, "test.dat", "/local/path", "file:///blob", 1024)

	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}
	if task.Type != events.TransferUpload {
		t.Errorf("Expected upload, got %v", task.Type)
	}
	if task.State != TaskQueued {
		t.Errorf("Expected TaskQueued, got %v", task.State)
	}
	if other := NewTransferTask(events.TransferUpload, "x", "", "", 0); other.ID == task.ID {
		t.Error("Task IDs should be unique")
	}
}

func TestTransferTaskState(t *testing.T) {
	task := NewTransferTask(events.TransferDownload, "result.zip", "file:///r", "/local/path", 2048)

	task.SetState(TaskActive)
	if task.GetState() != TaskActive {
		t.Errorf("Expected TaskActive, got %v", task.GetState())
	}
	if task.StartedAt.IsZero() {
		t.Error("StartedAt should be set when state changes to Active")
	}

	task.SetState(TaskCompleted)
	if !task.IsTerminal() {
		t.Error("completed task should be terminal")
	}
	if task.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set when state changes to Completed")
	}
}

func TestTransferTaskProgress(t *testing.T) {
	task := NewTransferTask(events.TransferUpload, "data.csv", "/path", "file:///d", 1000)

	task.UpdateProgress(500, 1000, 250)
	if task.GetProgress() != 0.5 {
		t.Errorf("Expected progress 0.5, got %f", task.GetProgress())
	}
	if task.GetSpeed() != 250 {
		t.Errorf("Expected speed 250, got %f", task.GetSpeed())
	}

	// Out-of-order reports never move progress backwards.
	task.UpdateProgress(400, 1000, 0)
	if task.GetProgress() != 0.5 {
		t.Errorf("progress moved backwards to %f", task.GetProgress())
	}
	// A zero rate (too few samples) keeps the last estimate.
	task.UpdateProgress(600, 1000, 0)
	if task.GetSpeed() != 250 {
		t.Errorf("speed reset to %f", task.GetSpeed())
	}
}

func TestTransferTaskError(t *testing.T) {
	task := NewTransferTask(events.TransferDownload, "fail.dat", "file:///f", "/path", 500)

	testErr := errors.New("transfer failed")
	task.SetError(testErr)

	if task.GetState() != TaskFailed {
		t.Errorf("Expected TaskFailed, got %v", task.GetState())
	}
	if task.GetError() != testErr {
		t.Errorf("Expected error 'transfer failed', got %v", task.GetError())
	}
}

// Queue tests

func TestQueueLifecycle(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	queued := bus.Subscribe(events.EventTransferQueued)

	q := NewQueue(bus)
	up := q.TrackTransfer(events.TransferUpload, "a.bin", "/tmp/a.bin", "file:///b/a.bin", 100)
	down := q.TrackTransfer(events.TransferDownload, "c.bin", "file:///b/c.bin", "/tmp/c.bin", 0)
	failed := q.TrackTransfer(events.TransferUpload, "d.bin", "/tmp/d.bin", "file:///b/d.bin", 10)

	select {
	case ev := <-queued:
		se := ev.(*events.TransferStateEvent)
		if se.TaskID != up.ID || se.LocalPath != "/tmp/a.bin" || se.URI != "file:///b/a.bin" {
			t.Errorf("unexpected queued event %+v", se)
		}
	case <-time.After(time.Second):
		t.Fatal("no queued event")
	}

	if s := q.GetStats(); s.Queued != 3 || s.Total() != 3 {
		t.Errorf("stats = %+v", s)
	}

	q.Activate(up.ID, nil)
	q.Activate(down.ID, nil)
	q.UpdateProgress(cloudtransfer.ProgressEvent{TaskID: down.ID, BytesTransferred: 50, TotalBytes: 200, Rate: 10})
	if task, _ := q.GetTask(down.ID); task.Size != 200 || task.Progress != 0.25 {
		t.Errorf("download task = %+v", &task)
	}

	q.Finish(cloudtransfer.Result{TaskID: up.ID})
	q.Finish(cloudtransfer.Result{TaskID: down.ID, Cancelled: true})
	q.Fail(failed.ID, errors.New("missing file"))

	s := q.GetStats()
	if s.Completed != 1 || s.Cancelled != 1 || s.Failed != 1 {
		t.Errorf("stats = %+v", s)
	}
	if task, _ := q.GetTask(up.ID); task.Progress != 1.0 {
		t.Errorf("completed progress = %f", task.Progress)
	}

	q.ClearCompleted()
	if tasks := q.GetTasks(); len(tasks) != 0 {
		t.Errorf("tasks after ClearCompleted = %d", len(tasks))
	}
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue(nil)
	task := q.TrackTransfer(events.TransferUpload, "a", "/a", "file:///a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	q.Activate(task.ID, cancel)

	if err := q.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("Cancel() did not cancel the task context")
	}

	q.Finish(cloudtransfer.Result{TaskID: task.ID, Cancelled: true})
	if err := q.Cancel(task.ID); err == nil {
		t.Error("Cancel() of a finished task succeeded")
	}
	if err := q.Cancel("nope"); err == nil {
		t.Error("Cancel() of an unknown task succeeded")
	}
}

func TestQueueCancelAll(t *testing.T) {
	q := NewQueue(nil)
	var ctxs []context.Context
	for i := 0; i < 3; i++ {
		task := q.TrackTransfer(events.TransferUpload, "a", "/a", "file:///a", 1)
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		q.Activate(task.ID, cancel)
	}

	q.CancelAll()
	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("task %d not cancelled", i)
		}
	}
}
