package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mediaflow/blobxfer/internal/events"
	"github.com/mediaflow/blobxfer/internal/logging"
)

func TestNotifier_ExactlyOnce(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	completed := bus.Subscribe(events.EventTransferCompleted)

	var calls int
	op := newOperation("task-1")
	n := &notifier{
		op:          op,
		started:     time.Now(),
		onCompleted: func(Result) { calls++ },
		bus:         bus,
		logger:      logging.Nop(),
	}

	boom := errors.New("boom")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.notify(false, boom, events.TransferUpload, "/tmp/a", "file:///b", 42)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if err := op.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() = %v, want %v", err, boom)
	}
	res := op.Result()
	if res.Bytes != 42 || res.TransferType != events.TransferUpload || res.Cancelled {
		t.Errorf("unexpected result %+v", res)
	}

	select {
	case ev := <-completed:
		ce, ok := ev.(*events.TransferCompletedEvent)
		if !ok {
			t.Fatalf("event type %T", ev)
		}
		if ce.TaskID != "task-1" || !errors.Is(ce.Error, boom) {
			t.Errorf("unexpected event %+v", ce)
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
	select {
	case ev := <-completed:
		t.Errorf("second completion event %+v", ev)
	default:
	}
}

func TestNotifier_CancelledDropsError(t *testing.T) {
	op := newOperation("task-2")
	n := &notifier{op: op, started: time.Now(), logger: logging.Nop()}

	n.notify(true, errors.New("ignored"), events.TransferDownload, "/tmp/a", "file:///b", 0)

	if err := op.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
	res := op.Result()
	if !res.Cancelled || res.Err != nil {
		t.Errorf("result = %+v, want cancelled without error", res)
	}
	select {
	case <-op.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestNotifier_CallbackRunsBeforeWaitReturns(t *testing.T) {
	bus := events.NewEventBus(4)
	defer bus.Close()
	completed := bus.Subscribe(events.EventTransferCompleted)

	var finished bool // written by the callback, read after Wait without a lock
	op := newOperation("task-3")
	n := &notifier{
		op:      op,
		started: time.Now(),
		onCompleted: func(Result) {
			time.Sleep(5 * time.Millisecond)
			finished = true
		},
		bus:    bus,
		logger: logging.Nop(),
	}

	go n.notify(false, nil, events.TransferUpload, "/tmp/a", "file:///b", 7)

	if err := op.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if !finished {
		t.Error("Wait() returned before the completion callback finished")
	}
	select {
	case <-completed:
	default:
		t.Error("completion event not published before Wait() returned")
	}
}
