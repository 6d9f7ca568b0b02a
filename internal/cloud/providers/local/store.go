// Package local implements storage.BlobStore on the local filesystem.
//
// URIs have the form file:///abs/path. Staged blocks are written to a hidden
// staging directory beside the destination and concatenated on Commit, so a
// blob only appears once its block list is committed. Metadata is kept in a
// JSON sidecar next to the blob.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mediaflow/blobxfer/internal/cloud/providers/azure"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
)

const metadataSuffix = ".blobxfer-meta.json"

// Option configures a Store.
type Option func(*Store)

// WithChunkPolicy overrides the partition policy.
func WithChunkPolicy(p storage.ChunkPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// Store is the filesystem backend.
// Thread-safe: All operations are safe for concurrent use.
type Store struct {
	policy storage.ChunkPolicy
}

// NewStore creates a filesystem store. The default policy mirrors block blobs.
func NewStore(opts ...Option) *Store {
	s := &Store{policy: azure.DefaultChunkPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileURI returns the file:// URI of path.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

// PathFromURI returns the filesystem path of a file:// URI.
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid file URI: %w", err)
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("invalid file URI %q: expected file:///path", uri)
	}
	p := u.Path
	// file:///C:/dir on Windows
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// GetProperties implements storage.BlobStore. The ETag is derived from the
// modification time and size.
func (s *Store) GetProperties(ctx context.Context, uri string) (*storage.BlobProperties, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, storage.ErrBlobNotFound)
		}
		return nil, err
	}

	meta, err := readMetadata(path)
	if err != nil {
		return nil, err
	}

	return &storage.BlobProperties{
		Size:         info.Size(),
		ETag:         fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size()),
		ContentType:  meta.ContentType,
		LastModified: info.ModTime(),
		Metadata:     meta.Metadata,
	}, nil
}

// DeleteIfExists implements storage.BlobStore.
func (s *Store) DeleteIfExists(ctx context.Context, uri string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}
	for _, p := range []string{path, path + metadataSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// DownloadRange implements storage.BlobStore.
func (s *Store) DownloadRange(ctx context.Context, uri string, offset, count int64) (io.ReadCloser, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, storage.ErrBlobNotFound)
		}
		return nil, err
	}
	return &rangeReader{Reader: io.NewSectionReader(f, offset, count), f: f}, nil
}

type rangeReader struct {
	io.Reader
	f *os.File
}

func (r *rangeReader) Close() error { return r.f.Close() }

// RefreshCredentials implements storage.BlobStore; the filesystem has none.
func (s *Store) RefreshCredentials(ctx context.Context, uri string) error { return nil }

// ChunkPolicy implements storage.BlobStore.
func (s *Store) ChunkPolicy() storage.ChunkPolicy { return s.policy }

// StorageType implements storage.BlobStore.
func (s *Store) StorageType() string { return "file" }

// BeginUpload implements storage.BlobStore.
func (s *Store) BeginUpload(ctx context.Context, uri string, opts storage.UploadOptions) (storage.UploadSession, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	staging := filepath.Join(dir, ".blobxfer-staging-"+uuid.NewString())
	if err := os.Mkdir(staging, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &uploadSession{
		path:    path,
		staging: staging,
		opts:    opts,
		blocks:  make(map[string]string),
	}, nil
}

type uploadSession struct {
	path    string
	staging string
	opts    storage.UploadOptions

	mu     sync.Mutex
	blocks map[string]string // block ID -> staged file
}

func (u *uploadSession) StageBlock(ctx context.Context, blockID string, index int, data []byte) error {
	name := filepath.Join(u.staging, fmt.Sprintf("%010d", index))
	if err := os.WriteFile(name, data, 0600); err != nil {
		return fmt.Errorf("stage block %d: %w", index, err)
	}
	u.mu.Lock()
	u.blocks[blockID] = name
	u.mu.Unlock()
	return nil
}

func (u *uploadSession) Commit(ctx context.Context, blockIDs []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(u.path), ".blobxfer-commit-*")
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	for _, id := range blockIDs {
		u.mu.Lock()
		name, ok := u.blocks[id]
		u.mu.Unlock()
		if !ok {
			tmp.Close()
			return fmt.Errorf("block %s was never staged", id)
		}
		if err := appendFile(tmp, name); err != nil {
			tmp.Close()
			return fmt.Errorf("commit: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := writeMetadata(u.path, sidecar{ContentType: u.opts.ContentType, Metadata: u.opts.Metadata}); err != nil {
		return err
	}
	if err := os.Rename(tmpName, u.path); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return os.RemoveAll(u.staging)
}

func (u *uploadSession) Abort(ctx context.Context) error {
	return os.RemoveAll(u.staging)
}

func appendFile(dst *os.File, name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

type sidecar struct {
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func readMetadata(path string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(path + metadataSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sidecar{Metadata: map[string]string{}}, nil
		}
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("corrupt metadata for %s: %w", filepath.Base(path), err)
	}
	if meta.Metadata == nil {
		meta.Metadata = map[string]string{}
	}
	return meta, nil
}

func writeMetadata(path string, meta sidecar) error {
	if meta.ContentType == "" && len(meta.Metadata) == 0 {
		if err := os.Remove(path + metadataSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path+metadataSuffix, data, 0600)
}

// Compile-time interface verification
var _ storage.BlobStore = (*Store)(nil)
