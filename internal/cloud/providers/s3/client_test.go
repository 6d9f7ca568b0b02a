package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/config"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewStore(context.Background(), config.S3Config{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
	}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		key        string
		shouldFail bool
	}{
		{"s3://media/clips/a.bin", "media", "clips/a.bin", false},
		{"s3://media/", "", "", true},
		{"s3:///key", "", "", true},
		{"https://media/key", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.uri)
			if tt.shouldFail {
				if err == nil {
					t.Errorf("expected error for %s", tt.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got %s/%s, want %s/%s", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestStore_GetPropertiesNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := store.GetProperties(context.Background(), "s3://media/missing.bin")
	if !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
	if storage.StatusCode(err) != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", storage.StatusCode(err))
	}
}

func TestStore_DownloadRange(t *testing.T) {
	var mu sync.Mutex
	var gotRange, gotPath string

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotRange = r.Header.Get("Range")
		gotPath = r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "world")
	})

	body, err := store.DownloadRange(context.Background(), "s3://media/clip.bin", 6, 5)
	if err != nil {
		t.Fatalf("DownloadRange failed: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "world" {
		t.Errorf("expected 'world', got %q", data)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotRange != "bytes=6-10" {
		t.Errorf("expected range bytes=6-10, got %q", gotRange)
	}
	if !strings.HasSuffix(gotPath, "/media/clip.bin") {
		t.Errorf("expected path-style request, got %s", gotPath)
	}
}

func TestStore_ForbiddenIsStatusError(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := store.GetProperties(context.Background(), "s3://media/clip.bin")
	if !storage.IsForbidden(err) {
		t.Errorf("expected a 403 status error, got %v", err)
	}
	// Static credentials are cached; invalidation must not fail.
	if err := store.RefreshCredentials(context.Background(), "s3://media/clip.bin"); err != nil {
		t.Errorf("RefreshCredentials failed: %v", err)
	}
}

func TestDefaultChunkPolicy(t *testing.T) {
	p := DefaultChunkPolicy()
	if p.MinBlockSize != 5*1024*1024 {
		t.Errorf("expected 5 MiB minimum part, got %d", p.MinBlockSize)
	}
	if p.MaxBlockCount != 10000 {
		t.Errorf("expected 10000 part limit, got %d", p.MaxBlockCount)
	}
	if p.MaxBlockSize != 512*1024*1024 {
		t.Errorf("expected 512 MiB buffered part limit, got %d", p.MaxBlockSize)
	}
}
