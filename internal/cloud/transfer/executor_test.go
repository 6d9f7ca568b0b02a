package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/mediaflow/blobxfer/internal/logging"
)

func TestExecute_ReopensLocalFileAfterIOFault(t *testing.T) {
	const size = 700
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}

	path := filepath.Join(t.TempDir(), "out.bin")
	lf, err := openLocalFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := lf.truncate(size); err != nil {
		t.Fatal(err)
	}

	plan, err := PlanChunks(size, smallPolicy, 4)
	if err != nil {
		t.Fatal(err)
	}

	var closed atomic.Bool
	var reopens atomic.Int32
	j := &job{
		taskID:    "task",
		localPath: path,
		totalSize: size,
		plan:      plan,
		pending:   plan.Chunks,
		policy:    fastRetry,
		logger:    logging.Nop(),
		recoverLocal: func() error {
			reopens.Add(1)
			return lf.reopen()
		},
	}
	j.transferChunk = func(ctx context.Context, chunk TransferChunk) error {
		// The handle goes away under the workers once, mid-download.
		if chunk.Index == 5 && closed.CompareAndSwap(false, true) {
			lf.mu.Lock()
			lf.f.Close()
			lf.mu.Unlock()
		}
		buf := append([]byte(nil), data[chunk.Offset:chunk.End()]...)
		return lf.writeChunk(buf, chunk.Offset)
	}

	cancelled, err := j.execute(context.Background())
	if cancelled || err != nil {
		t.Fatalf("execute() = (%v, %v), want success", cancelled, err)
	}
	if err := lf.close(); err != nil {
		t.Fatal(err)
	}
	if reopens.Load() == 0 {
		t.Error("local file was never reopened")
	}
	if j.aggregate() == nil {
		t.Error("the recovered write fault should still be recorded")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("file content differs after recovery")
	}
}

func TestExecute_CancelledBeforeWorkersStart(t *testing.T) {
	plan, err := PlanChunks(100, smallPolicy, 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	j := &job{
		plan:    plan,
		pending: plan.Chunks,
		policy:  fastRetry,
		logger:  logging.Nop(),
		transferChunk: func(context.Context, TransferChunk) error {
			calls.Add(1)
			return nil
		},
	}
	cancelled, err := j.execute(ctx)
	if !cancelled || err != nil {
		t.Errorf("execute() = (%v, %v), want cancelled", cancelled, err)
	}
	if calls.Load() != 0 {
		t.Errorf("%d chunks ran after cancellation", calls.Load())
	}
}
