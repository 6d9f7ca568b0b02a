// Package s3 implements storage.BlobStore on S3 multipart uploads.
//
// URIs have the form s3://{bucket}/{key}. Each chunk is uploaded as one part
// (part number = chunk index + 1); the multipart upload is completed on Commit.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// Store is the S3 backend.
// Thread-safe: All operations are safe for concurrent use.
type Store struct {
	client *s3.Client
	creds  aws.CredentialsProvider
	logger *logging.Logger
}

// NewStore creates an S3 store from cfg, routing requests through httpClient.
func NewStore(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		// The transfer engine owns the retry policy.
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(static, func(o *aws.CredentialsCacheOptions) {
			o.ExpiryWindow = 5 * time.Minute
		})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Store{client: client, creds: awsCfg.Credentials, logger: logger}, nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid S3 URI %q: scheme must be s3", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: expected s3://bucket/key", uri)
	}
	return u.Host, key, nil
}

// GetProperties implements storage.BlobStore.
func (s *Store) GetProperties(ctx context.Context, uri string) (*storage.BlobProperties, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, toStorageError("HeadObject", err)
	}

	props := &storage.BlobProperties{
		Size:        aws.ToInt64(resp.ContentLength),
		ETag:        aws.ToString(resp.ETag),
		ContentType: aws.ToString(resp.ContentType),
		Metadata:    make(map[string]string, len(resp.Metadata)),
	}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	for k, v := range resp.Metadata {
		props.Metadata[strings.ToLower(k)] = v
	}
	return props, nil
}

// DeleteIfExists implements storage.BlobStore. S3 deletes are idempotent.
func (s *Store) DeleteIfExists(ctx context.Context, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		serr := toStorageError("DeleteObject", err)
		if errors.Is(serr, storage.ErrBlobNotFound) {
			return nil
		}
		return serr
	}
	return nil
}

// DownloadRange implements storage.BlobStore.
func (s *Store) DownloadRange(ctx context.Context, uri string, offset, count int64) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+count-1)),
	})
	if err != nil {
		return nil, toStorageError("GetObject", err)
	}
	return resp.Body, nil
}

// RefreshCredentials implements storage.BlobStore by invalidating the SDK
// credential cache, so the next request re-resolves the provider chain.
func (s *Store) RefreshCredentials(ctx context.Context, uri string) error {
	if cache, ok := s.creds.(*aws.CredentialsCache); ok {
		cache.Invalidate()
		s.logger.Info().Msg("invalidated cached AWS credentials")
	}
	return nil
}

// ChunkPolicy implements storage.BlobStore.
func (s *Store) ChunkPolicy() storage.ChunkPolicy {
	return DefaultChunkPolicy()
}

// DefaultChunkPolicy is the multipart partition policy: parts of at least
// 5 MiB and fewer than 10,000 parts. Each part is buffered whole, so parts
// stop at 512 MiB rather than the 5 GiB S3 allows.
func DefaultChunkPolicy() storage.ChunkPolicy {
	return storage.ChunkPolicy{
		MinBlockSize:  constants.MinS3PartSize,
		MaxBlockSize:  min(constants.MaxS3PartSize, constants.MaxBufferedPartSize),
		MaxBlockCount: constants.MaxS3PartCount,
		Granularity:   constants.BlockGranularity,
	}
}

// StorageType implements storage.BlobStore.
func (s *Store) StorageType() string { return "s3" }

// BeginUpload implements storage.BlobStore.
func (s *Store) BeginUpload(ctx context.Context, uri string, opts storage.UploadOptions) (storage.UploadSession, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	resp, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, toStorageError("CreateMultipartUpload", err)
	}

	return &uploadSession{
		store:    s,
		bucket:   bucket,
		key:      key,
		opts:     opts,
		uploadID: aws.ToString(resp.UploadId),
		parts:    make(map[string]types.CompletedPart),
	}, nil
}

type uploadSession struct {
	store    *Store
	bucket   string
	key      string
	opts     storage.UploadOptions
	uploadID string

	mu    sync.Mutex
	parts map[string]types.CompletedPart // by block ID
}

func (u *uploadSession) StageBlock(ctx context.Context, blockID string, index int, data []byte) error {
	partNumber := int32(index + 1)
	resp, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return toStorageError(fmt.Sprintf("UploadPart %d", partNumber), err)
	}

	u.mu.Lock()
	u.parts[blockID] = types.CompletedPart{
		ETag:       resp.ETag,
		PartNumber: aws.Int32(partNumber),
	}
	u.mu.Unlock()
	return nil
}

func (u *uploadSession) Commit(ctx context.Context, blockIDs []string) error {
	// S3 rejects a multipart upload with no parts; an empty object is a plain PUT.
	if len(blockIDs) == 0 {
		if err := u.Abort(ctx); err != nil {
			return err
		}
		input := &s3.PutObjectInput{
			Bucket:   aws.String(u.bucket),
			Key:      aws.String(u.key),
			Body:     bytes.NewReader(nil),
			Metadata: u.opts.Metadata,
		}
		if u.opts.ContentType != "" {
			input.ContentType = aws.String(u.opts.ContentType)
		}
		if _, err := u.store.client.PutObject(ctx, input); err != nil {
			return toStorageError("PutObject", err)
		}
		return nil
	}

	u.mu.Lock()
	completed := make([]types.CompletedPart, 0, len(blockIDs))
	for _, id := range blockIDs {
		part, ok := u.parts[id]
		if !ok {
			u.mu.Unlock()
			return fmt.Errorf("block %s was never staged", id)
		}
		completed = append(completed, part)
	}
	u.mu.Unlock()

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	_, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return toStorageError("CompleteMultipartUpload", err)
	}
	return nil
}

func (u *uploadSession) Abort(ctx context.Context) error {
	_, err := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		serr := toStorageError("AbortMultipartUpload", err)
		if errors.Is(serr, storage.ErrBlobNotFound) {
			return nil
		}
		return serr
	}
	return nil
}

// toStorageError maps SDK response errors to storage.StatusError.
func toStorageError(op string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return storage.NewStatusError(op, respErr.HTTPStatusCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Compile-time interface verification
var _ storage.BlobStore = (*Store)(nil)
