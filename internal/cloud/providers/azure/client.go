// Package azure implements storage.BlobStore on Azure block blobs.
//
// Blob URIs have the form https://{account}.blob.core.windows.net/{container}/{path}.
// A SAS token is appended by the credentials manager unless the URI already
// carries one. Uploads stage numbered blocks and commit the block list;
// downloads use ranged GETs.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/mediaflow/blobxfer/internal/cloud/credentials"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// Store is the Azure block blob backend.
// Thread-safe: All operations are safe for concurrent use.
type Store struct {
	httpClient *nethttp.Client // shared for connection reuse across block calls
	creds      *credentials.Manager
	logger     *logging.Logger
}

// NewStore creates an Azure store. creds may be nil when every URI carries its own SAS.
func NewStore(httpClient *nethttp.Client, creds *credentials.Manager, logger *logging.Logger) *Store {
	if httpClient == nil {
		httpClient = &nethttp.Client{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{httpClient: httpClient, creds: creds, logger: logger}
}

// clientOptions routes SDK calls through the shared HTTP client. SDK-level
// retries are disabled; the transfer engine owns the retry policy.
func (s *Store) clientOptions() azcore.ClientOptions {
	return azcore.ClientOptions{
		Transport: s.httpClient,
		Retry:     policy.RetryOptions{MaxRetries: -1},
	}
}

func (s *Store) signedURL(ctx context.Context, uri string) (string, error) {
	if s.creds == nil || !s.creds.Configured() {
		return uri, nil
	}
	return s.creds.TransformURI(ctx, uri)
}

func (s *Store) blobClient(ctx context.Context, uri string) (*blob.Client, error) {
	signed, err := s.signedURL(ctx, uri)
	if err != nil {
		return nil, err
	}
	client, err := blob.NewClientWithNoCredential(signed, &blob.ClientOptions{ClientOptions: s.clientOptions()})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}
	return client, nil
}

func (s *Store) blockBlobClient(ctx context.Context, uri string) (*blockblob.Client, error) {
	signed, err := s.signedURL(ctx, uri)
	if err != nil {
		return nil, err
	}
	client, err := blockblob.NewClientWithNoCredential(signed, &blockblob.ClientOptions{ClientOptions: s.clientOptions()})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure block blob client: %w", err)
	}
	return client, nil
}

// GetProperties implements storage.BlobStore.
func (s *Store) GetProperties(ctx context.Context, uri string) (*storage.BlobProperties, error) {
	client, err := s.blobClient(ctx, uri)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetProperties(ctx, nil)
	if err != nil {
		return nil, toStorageError("GetProperties", err)
	}

	props := &storage.BlobProperties{
		Metadata: normalizeMetadata(resp.Metadata),
	}
	if resp.ContentLength != nil {
		props.Size = *resp.ContentLength
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	if resp.ContentType != nil {
		props.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	return props, nil
}

// DeleteIfExists implements storage.BlobStore.
func (s *Store) DeleteIfExists(ctx context.Context, uri string) error {
	client, err := s.blobClient(ctx, uri)
	if err != nil {
		return err
	}

	_, err = client.Delete(ctx, &blob.DeleteOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil
		}
		return toStorageError("Delete", err)
	}
	s.logger.Debug().Str("uri", redact(uri)).Msg("deleted existing blob")
	return nil
}

// DownloadRange implements storage.BlobStore.
func (s *Store) DownloadRange(ctx context.Context, uri string, offset, count int64) (io.ReadCloser, error) {
	client, err := s.blobClient(ctx, uri)
	if err != nil {
		return nil, err
	}

	resp, err := client.DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: blob.HTTPRange{
			Offset: offset,
			Count:  count,
		},
	})
	if err != nil {
		return nil, toStorageError("DownloadStream", err)
	}
	return resp.Body, nil
}

// RefreshCredentials implements storage.BlobStore.
func (s *Store) RefreshCredentials(ctx context.Context, uri string) error {
	if s.creds == nil {
		return nil
	}
	return s.creds.Refresh(ctx, uri)
}

// ChunkPolicy implements storage.BlobStore.
func (s *Store) ChunkPolicy() storage.ChunkPolicy {
	return DefaultChunkPolicy()
}

// StorageType implements storage.BlobStore.
func (s *Store) StorageType() string { return "azure" }

// DefaultChunkPolicy is the block blob partition policy: 1 MiB granularity,
// 4 MiB blocks, fewer than 50,000 blocks.
func DefaultChunkPolicy() storage.ChunkPolicy {
	return storage.ChunkPolicy{
		MinBlockSize:  constants.MinBlockSize,
		MaxBlockSize:  constants.MaxBlockSize,
		MaxBlockCount: constants.MaxBlockCount,
		Granularity:   constants.BlockGranularity,
	}
}

// BeginUpload implements storage.BlobStore.
func (s *Store) BeginUpload(ctx context.Context, uri string, opts storage.UploadOptions) (storage.UploadSession, error) {
	return &uploadSession{store: s, uri: uri, opts: opts}, nil
}

// uploadSession stages blocks on one block blob.
type uploadSession struct {
	store *Store
	uri   string
	opts  storage.UploadOptions
}

func (u *uploadSession) StageBlock(ctx context.Context, blockID string, index int, data []byte) error {
	client, err := u.store.blockBlobClient(ctx, u.uri)
	if err != nil {
		return err
	}

	_, err = client.StageBlock(ctx, blockID, streaming.NopCloser(bytes.NewReader(data)), nil)
	if err != nil {
		return toStorageError(fmt.Sprintf("StageBlock %d", index), err)
	}
	return nil
}

func (u *uploadSession) Commit(ctx context.Context, blockIDs []string) error {
	client, err := u.store.blockBlobClient(ctx, u.uri)
	if err != nil {
		return err
	}

	opts := &blockblob.CommitBlockListOptions{}
	if len(u.opts.Metadata) > 0 {
		opts.Metadata = make(map[string]*string, len(u.opts.Metadata))
		for k, v := range u.opts.Metadata {
			opts.Metadata[k] = to.Ptr(v)
		}
	}
	if u.opts.ContentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(u.opts.ContentType)}
	}

	if _, err := client.CommitBlockList(ctx, blockIDs, opts); err != nil {
		return toStorageError("CommitBlockList", err)
	}
	return nil
}

// Abort is a no-op: the service garbage-collects uncommitted blocks.
func (u *uploadSession) Abort(ctx context.Context) error {
	return nil
}

// toStorageError maps SDK response errors to storage.StatusError.
func toStorageError(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return storage.NewStatusError(op, respErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// normalizeMetadata lowercases keys; the service returns them header-canonicalized.
func normalizeMetadata(in map[string]*string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != nil {
			out[strings.ToLower(k)] = *v
		}
	}
	return out
}

// redact drops the query string so SAS signatures never reach the logs.
func redact(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// Compile-time interface verification
var _ storage.BlobStore = (*Store)(nil)
