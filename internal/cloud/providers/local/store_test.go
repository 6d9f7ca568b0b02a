package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mediaflow/blobxfer/internal/cloud/storage"
)

func TestFileURIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir with space", "blob.bin")
	got, err := PathFromURI(FileURI(path))
	if err != nil {
		t.Fatalf("PathFromURI failed: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	if _, err := PathFromURI("https://example.com/x"); err == nil {
		t.Error("expected error for non-file scheme")
	}
}

func TestStore_UploadCommitDownload(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	dest := filepath.Join(t.TempDir(), "out", "blob.bin")
	uri := FileURI(dest)

	session, err := store.BeginUpload(ctx, uri, storage.UploadOptions{
		ContentType: "video/mp4",
		Metadata:    map[string]string{"blobxferenc": "aes-256-ctr"},
	})
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}

	if err := session.StageBlock(ctx, "b1", 1, []byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := session.StageBlock(ctx, "b0", 0, []byte("hello ")); err != nil {
		t.Fatal(err)
	}

	// Nothing visible before commit
	if _, err := store.GetProperties(ctx, uri); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound before commit, got %v", err)
	}

	if err := session.Commit(ctx, []string{"b0", "b1"}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	props, err := store.GetProperties(ctx, uri)
	if err != nil {
		t.Fatalf("GetProperties failed: %v", err)
	}
	if props.Size != 11 || props.ContentType != "video/mp4" || props.Metadata["blobxferenc"] != "aes-256-ctr" {
		t.Errorf("unexpected properties %+v", props)
	}

	body, err := store.DownloadRange(ctx, uri, 6, 5)
	if err != nil {
		t.Fatalf("DownloadRange failed: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "world" {
		t.Errorf("expected 'world', got %q", data)
	}

	// Staging directory is gone
	entries, _ := os.ReadDir(filepath.Dir(dest))
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("staging directory left behind: %s", e.Name())
		}
	}
}

func TestStore_CommitUnknownBlock(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	uri := FileURI(filepath.Join(t.TempDir(), "blob.bin"))

	session, err := store.BeginUpload(ctx, uri, storage.UploadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := session.Commit(ctx, []string{"missing"}); err == nil {
		t.Fatal("expected error committing an unstaged block")
	}
	if err := session.Abort(ctx); err != nil {
		t.Errorf("Abort failed: %v", err)
	}
}

func TestStore_EmptyCommitAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	uri := FileURI(filepath.Join(t.TempDir(), "empty.bin"))

	session, _ := store.BeginUpload(ctx, uri, storage.UploadOptions{})
	if err := session.Commit(ctx, nil); err != nil {
		t.Fatalf("empty commit failed: %v", err)
	}
	props, err := store.GetProperties(ctx, uri)
	if err != nil || props.Size != 0 {
		t.Fatalf("expected empty blob, got %+v %v", props, err)
	}

	if err := store.DeleteIfExists(ctx, uri); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteIfExists(ctx, uri); err != nil {
		t.Errorf("second delete should succeed, got %v", err)
	}
}

func TestWithChunkPolicy(t *testing.T) {
	p := storage.ChunkPolicy{MinBlockSize: 4, MaxBlockSize: 16, MaxBlockCount: 100, Granularity: 4}
	if got := NewStore(WithChunkPolicy(p)).ChunkPolicy(); got != p {
		t.Errorf("expected %+v, got %+v", p, got)
	}
}
