package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediaflow/blobxfer/internal/cloud/providers/local"
	"github.com/mediaflow/blobxfer/internal/cloud/state"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/crypto" // package name is 'encryption'
	inthttp "github.com/mediaflow/blobxfer/internal/http"
)

// smallPolicy splits a few KiB into dozens of chunks.
var smallPolicy = storage.ChunkPolicy{
	MinBlockSize:  16,
	MaxBlockSize:  64,
	MaxBlockCount: 1000,
	Granularity:   4,
}

var fastRetry = inthttp.FixedRetry{MaxRetries: 3, Delay: time.Millisecond}

// faultStore wraps the filesystem store and injects faults per chunk index.
type faultStore struct {
	*local.Store

	mu         sync.Mutex
	stageFails map[int]int // chunk index -> remaining failures, <0 fails forever
	readFails  map[int64]int

	forbidOnce   atomic.Bool
	refreshes    atomic.Int32
	onRefresh    func()
	onProperties func() error
	downloads    atomic.Int32
}

func newFaultStore() *faultStore {
	return &faultStore{
		Store:      local.NewStore(local.WithChunkPolicy(smallPolicy)),
		stageFails: make(map[int]int),
		readFails:  make(map[int64]int),
	}
}

func (s *faultStore) NewStore(ctx context.Context, uri string) (storage.BlobStore, error) {
	return s, nil
}

func (s *faultStore) take(m map[int]int, key int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := m[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[key] = n - 1
	}
	return true
}

func (s *faultStore) BeginUpload(ctx context.Context, uri string, opts storage.UploadOptions) (storage.UploadSession, error) {
	session, err := s.Store.BeginUpload(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	return &faultSession{UploadSession: session, store: s}, nil
}

func (s *faultStore) GetProperties(ctx context.Context, uri string) (*storage.BlobProperties, error) {
	if s.onProperties != nil {
		if err := s.onProperties(); err != nil {
			return nil, err
		}
	}
	return s.Store.GetProperties(ctx, uri)
}

func (s *faultStore) DownloadRange(ctx context.Context, uri string, offset, count int64) (io.ReadCloser, error) {
	s.downloads.Add(1)
	if s.forbidOnce.CompareAndSwap(true, false) {
		return nil, storage.NewStatusError("download range", 403, errors.New("AuthorizationFailure"))
	}
	s.mu.Lock()
	n := s.readFails[offset]
	if n != 0 {
		if n > 0 {
			s.readFails[offset] = n - 1
		}
		s.mu.Unlock()
		return nil, storage.NewStatusError("download range", 503, errors.New("ServerBusy"))
	}
	s.mu.Unlock()
	return s.Store.DownloadRange(ctx, uri, offset, count)
}

func (s *faultStore) RefreshCredentials(ctx context.Context, uri string) error {
	s.refreshes.Add(1)
	if s.onRefresh != nil {
		s.onRefresh()
	}
	return nil
}

type faultSession struct {
	storage.UploadSession
	store *faultStore
}

func (f *faultSession) StageBlock(ctx context.Context, blockID string, index int, data []byte) error {
	if f.store.take(f.store.stageFails, index) {
		return storage.NewStatusError("stage block", 503, errors.New("ServerBusy"))
	}
	return f.UploadSession.StageBlock(ctx, blockID, index, data)
}

type recorder struct {
	mu        sync.Mutex
	progress  []ProgressEvent
	completed []Result
}

func (r *recorder) onProgress(ev ProgressEvent) {
	r.mu.Lock()
	r.progress = append(r.progress, ev)
	r.mu.Unlock()
}

func (r *recorder) onCompleted(res Result) {
	r.mu.Lock()
	r.completed = append(r.completed, res)
	r.mu.Unlock()
}

func newTestClient(t *testing.T, store *faultStore, rec *recorder, st *state.Store) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{
		Stores:      store,
		Threads:     4,
		RetryPolicy: fastRetry,
		State:       st,
		OnProgress:  rec.onProgress,
		OnCompleted: rec.onCompleted,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestUploadDownload_EncryptedWithTransientFaults(t *testing.T) {
	srcDir, blobDir, dstDir := t.TempDir(), t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "input.bin")
	plain := writeRandomFile(t, src, 1000)
	uri := local.FileURI(filepath.Join(blobDir, "blob.bin"))

	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	store := newFaultStore()
	store.stageFails[2] = 2
	store.stageFails[5] = 1
	rec := &recorder{}
	c := newTestClient(t, store, rec, nil)

	op, err := c.UploadBlob(context.Background(), UploadRequest{
		DestinationURI: uri,
		LocalPath:      src,
		ContentType:    "application/octet-stream",
		Encryption:     key,
	})
	if err != nil {
		t.Fatalf("UploadBlob() error = %v", err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("upload Wait() = %v", err)
	}

	props, err := store.GetProperties(context.Background(), uri)
	if err != nil {
		t.Fatal(err)
	}
	if props.Size != int64(len(plain)) {
		t.Errorf("blob size = %d, want %d", props.Size, len(plain))
	}
	if props.Metadata[constants.MetadataEncryption] != constants.EncryptionAlgorithm || props.Metadata[constants.MetadataIV] == "" {
		t.Errorf("missing encryption metadata: %v", props.Metadata)
	}
	stored, _ := os.ReadFile(filepath.Join(blobDir, "blob.bin"))
	if bytes.Equal(stored, plain) {
		t.Error("blob was stored in plaintext")
	}
	if _, err := os.Stat(src + ".blobxfer.lock"); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}

	rec.mu.Lock()
	chunks := len(rec.progress)
	sort.Slice(rec.progress, func(i, j int) bool { return rec.progress[i].BytesTransferred < rec.progress[j].BytesTransferred })
	last := rec.progress[len(rec.progress)-1]
	rec.mu.Unlock()
	if chunks != 63 {
		t.Errorf("progress events = %d, want one per chunk (63)", chunks)
	}
	if last.Percent != 100 || last.BytesTransferred != int64(len(plain)) {
		t.Errorf("final progress = %+v", last)
	}

	// Download through faults on two ranges.
	store.readFails[0] = 2
	store.readFails[16*10] = 1
	dst := filepath.Join(dstDir, "nested", "output.bin")
	op, err = c.DownloadBlob(context.Background(), DownloadRequest{
		SourceURI:  uri,
		LocalPath:  dst,
		Encryption: key,
	})
	if err != nil {
		t.Fatalf("DownloadBlob() error = %v", err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("download Wait() = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("downloaded bytes differ from the original")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.completed) != 2 {
		t.Fatalf("completion callbacks = %d, want 2", len(rec.completed))
	}
	for _, res := range rec.completed {
		if res.Err != nil || res.Cancelled {
			t.Errorf("unexpected result %+v", res)
		}
	}
}

func TestUpload_RetryBudgetExhausted(t *testing.T) {
	srcDir, blobDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "input.bin")
	writeRandomFile(t, src, 200)
	uri := local.FileURI(filepath.Join(blobDir, "blob.bin"))

	store := newFaultStore()
	store.stageFails[1] = -1
	rec := &recorder{}
	c, err := NewClient(ClientOptions{
		Stores:      store,
		Threads:     2,
		RetryPolicy: inthttp.FixedRetry{MaxRetries: 2, Delay: time.Millisecond},
		OnCompleted: rec.onCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}

	op, err := c.UploadBlob(context.Background(), UploadRequest{DestinationURI: uri, LocalPath: src})
	if err != nil {
		t.Fatalf("UploadBlob() error = %v", err)
	}
	werr := op.Wait()
	if werr == nil {
		t.Fatal("Wait() succeeded, want failure")
	}
	if storage.StatusCode(werr) != 503 {
		t.Errorf("aggregate error does not carry the 503: %v", werr)
	}

	rec.mu.Lock()
	if len(rec.completed) != 1 {
		t.Errorf("completion callbacks = %d, want 1", len(rec.completed))
	}
	rec.mu.Unlock()

	if _, err := store.GetProperties(context.Background(), uri); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("blob exists after failed upload: %v", err)
	}
	entries, _ := os.ReadDir(blobDir)
	if len(entries) != 0 {
		t.Errorf("blob directory not clean: %v", entries)
	}
}

func TestUpload_CancelledBeforeStart(t *testing.T) {
	srcDir, blobDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "input.bin")
	writeRandomFile(t, src, 100)
	uri := local.FileURI(filepath.Join(blobDir, "blob.bin"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFaultStore()
	rec := &recorder{}
	c := newTestClient(t, store, rec, nil)

	op, err := c.UploadBlob(ctx, UploadRequest{DestinationURI: uri, LocalPath: src, DeleteExisting: true})
	if err != nil {
		t.Fatalf("UploadBlob() error = %v", err)
	}
	if err := op.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
	res := op.Result()
	if !res.Cancelled || res.Err != nil || res.Bytes != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(rec.completed) != 1 || len(rec.progress) != 0 {
		t.Errorf("completed = %d, progress = %d", len(rec.completed), len(rec.progress))
	}
	if entries, _ := os.ReadDir(blobDir); len(entries) != 0 {
		t.Errorf("destination touched: %v", entries)
	}
	if _, err := os.Stat(src + ".blobxfer.lock"); !os.IsNotExist(err) {
		t.Error("lock taken for a cancelled upload")
	}
}

func TestDownload_CancelledBeforeStart(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "sub", "out.bin")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFaultStore()
	c := newTestClient(t, store, &recorder{}, nil)

	op, err := c.DownloadBlob(ctx, DownloadRequest{SourceURI: local.FileURI("/does/not/matter"), LocalPath: dst})
	if err != nil {
		t.Fatalf("DownloadBlob() error = %v", err)
	}
	if err := op.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Dir(dst)); !os.IsNotExist(err) {
		t.Error("download created files despite cancellation")
	}
	if store.downloads.Load() != 0 {
		t.Error("download issued range requests despite cancellation")
	}
}

func TestUploadDownload_EmptyFile(t *testing.T) {
	srcDir, blobDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "empty.bin")
	if err := os.WriteFile(src, nil, 0644); err != nil {
		t.Fatal(err)
	}
	uri := local.FileURI(filepath.Join(blobDir, "empty.bin"))

	store := newFaultStore()
	rec := &recorder{}
	c := newTestClient(t, store, rec, nil)

	op, err := c.UploadBlob(context.Background(), UploadRequest{DestinationURI: uri, LocalPath: src})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	props, err := store.GetProperties(context.Background(), uri)
	if err != nil || props.Size != 0 {
		t.Fatalf("props = %+v, err = %v", props, err)
	}

	dst := filepath.Join(t.TempDir(), "out.bin")
	op, err = c.DownloadBlob(context.Background(), DownloadRequest{SourceURI: uri, LocalPath: dst})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if info, err := os.Stat(dst); err != nil || info.Size() != 0 {
		t.Errorf("empty download: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.progress) != 2 {
		t.Fatalf("progress events = %d, want 2", len(rec.progress))
	}
	for _, ev := range rec.progress {
		if ev.Percent != 100 {
			t.Errorf("empty transfer progress = %d%%", ev.Percent)
		}
	}
}

func uploadFixture(t *testing.T, store *faultStore, size int) (uri string, plain []byte) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "input.bin")
	plain = writeRandomFile(t, src, size)
	uri = local.FileURI(filepath.Join(t.TempDir(), "blob.bin"))

	c := newTestClient(t, store, &recorder{}, nil)
	op, err := c.UploadBlob(context.Background(), UploadRequest{DestinationURI: uri, LocalPath: src})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatal(err)
	}
	return uri, plain
}

func TestDownload_ForbiddenRefreshesOnce(t *testing.T) {
	store := newFaultStore()
	uri, plain := uploadFixture(t, store, 500)

	store.forbidOnce.Store(true)
	dst := filepath.Join(t.TempDir(), "out.bin")
	c := newTestClient(t, store, &recorder{}, nil)
	op, err := c.DownloadBlob(context.Background(), DownloadRequest{SourceURI: uri, LocalPath: dst})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if n := store.refreshes.Load(); n != 1 {
		t.Errorf("credential refreshes = %d, want 1", n)
	}
	got, _ := os.ReadFile(dst)
	if !bytes.Equal(got, plain) {
		t.Error("downloaded bytes differ")
	}
}

func TestDownload_BlobChangedDuringRefresh(t *testing.T) {
	store := newFaultStore()
	uri, _ := uploadFixture(t, store, 500)
	blobPath, err := local.PathFromURI(uri)
	if err != nil {
		t.Fatal(err)
	}

	store.forbidOnce.Store(true)
	store.onRefresh = func() {
		later := time.Now().Add(time.Hour)
		os.Chtimes(blobPath, later, later)
	}

	c := newTestClient(t, store, &recorder{}, nil)
	op, err := c.DownloadBlob(context.Background(), DownloadRequest{
		SourceURI: uri,
		LocalPath: filepath.Join(t.TempDir(), "out.bin"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); !errors.Is(err, storage.ErrFileChanged) {
		t.Errorf("Wait() = %v, want ErrFileChanged", err)
	}
}

func TestDownload_Resume(t *testing.T) {
	store := newFaultStore()
	uri, plain := uploadFixture(t, store, 1000)

	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	store.readFails[16*40] = -1
	c, err := NewClient(ClientOptions{
		Stores:      store,
		Threads:     2,
		RetryPolicy: inthttp.NoRetry{},
		State:       st,
	})
	if err != nil {
		t.Fatal(err)
	}

	op, err := c.DownloadBlob(context.Background(), DownloadRequest{SourceURI: uri, LocalPath: dst})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err == nil {
		t.Fatal("first download succeeded, want failure")
	}

	absDst, _ := filepath.Abs(dst)
	record, err := st.Load(absDst)
	if err != nil {
		t.Fatalf("no resume record after failure: %v", err)
	}
	done := len(record.CompletedChunks)
	if record.IsChunkCompleted(40) {
		t.Error("failed chunk recorded as complete")
	}

	store.mu.Lock()
	delete(store.readFails, 16*40)
	store.mu.Unlock()
	before := store.downloads.Load()

	op, err = c.DownloadBlob(context.Background(), DownloadRequest{SourceURI: uri, LocalPath: dst})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatalf("resumed download Wait() = %v", err)
	}

	if fetched := int(store.downloads.Load() - before); fetched != 63-done {
		t.Errorf("resumed download fetched %d chunks, want %d", fetched, 63-done)
	}
	got, _ := os.ReadFile(dst)
	if !bytes.Equal(got, plain) {
		t.Error("resumed file differs from the blob")
	}
	if _, err := st.Load(absDst); !errors.Is(err, state.ErrNoState) {
		t.Errorf("resume record kept after success: %v", err)
	}
}

func TestDownload_EncryptedBlobNeedsKey(t *testing.T) {
	store := newFaultStore()
	src := filepath.Join(t.TempDir(), "input.bin")
	writeRandomFile(t, src, 64)
	uri := local.FileURI(filepath.Join(t.TempDir(), "blob.bin"))
	key, _ := encryption.GenerateKey()

	c := newTestClient(t, store, &recorder{}, nil)
	op, err := c.UploadBlob(context.Background(), UploadRequest{DestinationURI: uri, LocalPath: src, Encryption: key})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); err != nil {
		t.Fatal(err)
	}

	_, err = c.DownloadBlob(context.Background(), DownloadRequest{
		SourceURI: uri,
		LocalPath: filepath.Join(t.TempDir(), "out.bin"),
	})
	if err == nil {
		t.Fatal("DownloadBlob() of encrypted blob without key succeeded")
	}
}

func TestNewClient_RequiresResolver(t *testing.T) {
	if _, err := NewClient(ClientOptions{}); err == nil {
		t.Error("NewClient() without a resolver succeeded")
	}
	c, err := NewClient(ClientOptions{Stores: newFaultStore()})
	if err != nil {
		t.Fatal(err)
	}
	if c.Threads() != constants.DefaultParallelTransferThreadCount {
		t.Errorf("Threads() = %d", c.Threads())
	}
}

func TestRedact(t *testing.T) {
	if got := redact("https://a.blob.core.windows.net/c/b?sig=secret"); got != "https://a.blob.core.windows.net/c/b" {
		t.Errorf("redact() = %q", got)
	}
	if got := redact("s3://bucket/key"); got != "s3://bucket/key" {
		t.Errorf("redact() = %q", got)
	}
}

func TestUpload_CancelledMidTransfer(t *testing.T) {
	srcDir, blobDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "input.bin")
	writeRandomFile(t, src, 1000)
	uri := local.FileURI(filepath.Join(blobDir, "blob.bin"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newFaultStore()
	rec := &recorder{}
	c, err := NewClient(ClientOptions{
		Stores:      store,
		Threads:     2,
		RetryPolicy: fastRetry,
		OnProgress: func(ev ProgressEvent) {
			rec.onProgress(ev)
			if ev.BytesTransferred >= 160 {
				cancel()
			}
		},
		OnCompleted: rec.onCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}

	op, err := c.UploadBlob(ctx, UploadRequest{DestinationURI: uri, LocalPath: src})
	if err != nil {
		t.Fatalf("UploadBlob() error = %v", err)
	}
	if err := op.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}

	res := op.Result()
	if !res.Cancelled || res.Err != nil {
		t.Errorf("result = %+v, want cancelled without error", res)
	}
	if res.Bytes < 160 || res.Bytes >= 1000 {
		t.Errorf("moved %d bytes, want a partial transfer", res.Bytes)
	}

	if _, err := store.GetProperties(context.Background(), uri); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("blob committed after cancellation: %v", err)
	}
	if entries, _ := os.ReadDir(blobDir); len(entries) != 0 {
		t.Errorf("staged blocks left behind: %v", entries)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.completed) != 1 {
		t.Errorf("completion callbacks = %d, want 1", len(rec.completed))
	}
	var reported int64
	for _, ev := range rec.progress {
		reported += ev.ChunkBytes
	}
	if reported != res.Bytes {
		t.Errorf("progress reported %d bytes, result says %d", reported, res.Bytes)
	}
}

func TestDownload_CancelledMidTransferKeepsResumeState(t *testing.T) {
	store := newFaultStore()
	uri, _ := uploadFixture(t, store, 1000)

	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := NewClient(ClientOptions{
		Stores:      store,
		Threads:     2,
		RetryPolicy: fastRetry,
		State:       st,
		OnProgress: func(ev ProgressEvent) {
			if ev.BytesTransferred >= 160 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "out.bin")
	op, err := c.DownloadBlob(ctx, DownloadRequest{SourceURI: uri, LocalPath: dst})
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
	if res := op.Result(); !res.Cancelled || res.Bytes >= 1000 {
		t.Errorf("result = %+v, want a cancelled partial download", res)
	}

	absDst, _ := filepath.Abs(dst)
	record, err := st.Load(absDst)
	if err != nil {
		t.Fatalf("resume record dropped on cancellation: %v", err)
	}
	if n := len(record.CompletedChunks); n == 0 || n >= 63 {
		t.Errorf("resume record has %d completed chunks, want a partial set", n)
	}
	if info, err := os.Stat(dst); err != nil || info.Size() != 1000 {
		t.Errorf("partial file not kept: %v", err)
	}
}

func TestDownload_CancelledWhilePlanning(t *testing.T) {
	store := newFaultStore()
	uri, _ := uploadFixture(t, store, 200)

	tests := []struct {
		name  string
		fault error // returned by the properties call after cancelling
	}{
		{"properties fail", context.Canceled},
		{"properties succeed", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			store.onProperties = func() error {
				cancel()
				return tt.fault
			}
			defer func() { store.onProperties = nil }()

			rec := &recorder{}
			c := newTestClient(t, store, rec, nil)
			dst := filepath.Join(t.TempDir(), "sub", "out.bin")
			before := store.downloads.Load()

			op, err := c.DownloadBlob(ctx, DownloadRequest{SourceURI: uri, LocalPath: dst})
			if err != nil {
				t.Fatalf("DownloadBlob() error = %v, want a cancelled operation", err)
			}
			if err := op.Wait(); !errors.Is(err, context.Canceled) {
				t.Errorf("Wait() = %v, want context.Canceled", err)
			}
			if len(rec.completed) != 1 {
				t.Errorf("completion callbacks = %d, want 1", len(rec.completed))
			}
			if _, err := os.Stat(filepath.Dir(dst)); !os.IsNotExist(err) {
				t.Error("destination created despite cancellation")
			}
			if store.downloads.Load() != before {
				t.Error("range requests issued despite cancellation")
			}
		})
	}
}

// giveUpAfterFirst retries the first failure after a long delay and gives up
// on every later one.
type giveUpAfterFirst struct {
	calls atomic.Int32
	delay time.Duration
}

func (p *giveUpAfterFirst) ShouldRetry(int, int, error) (bool, time.Duration) {
	if p.calls.Add(1) == 1 {
		return true, p.delay
	}
	return false, 0
}

func TestUpload_GiveUpWakesSleepingWorkers(t *testing.T) {
	srcDir, blobDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "input.bin")
	writeRandomFile(t, src, 200)
	uri := local.FileURI(filepath.Join(blobDir, "blob.bin"))

	store := newFaultStore()
	store.stageFails[0] = -1
	store.stageFails[1] = -1
	c, err := NewClient(ClientOptions{Stores: store, Threads: 2})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	op, err := c.UploadBlob(context.Background(), UploadRequest{
		DestinationURI: uri,
		LocalPath:      src,
		RetryPolicy:    &giveUpAfterFirst{delay: time.Minute},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = op.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want a failure", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("failure took %v; the sleeping worker was not woken", elapsed)
	}
	if res := op.Result(); res.Cancelled {
		t.Error("a failed job must not report cancellation")
	}
}
