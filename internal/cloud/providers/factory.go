// Package providers contains the storage provider implementations
// and the factory that selects one from a blob URI.
package providers

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/mediaflow/blobxfer/internal/cloud/credentials"
	"github.com/mediaflow/blobxfer/internal/cloud/providers/azure"
	"github.com/mediaflow/blobxfer/internal/cloud/providers/local"
	"github.com/mediaflow/blobxfer/internal/cloud/providers/s3"
	"github.com/mediaflow/blobxfer/internal/cloud/storage"
	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// Factory creates stores by URI scheme: https/http → Azure block blobs,
// s3 → S3 multipart, file → local filesystem. Stores are created once and reused.
type Factory struct {
	cfg        *config.Config
	httpClient *nethttp.Client
	logger     *logging.Logger

	mu    sync.Mutex
	azure *azure.Store
	s3    *s3.Store
	local *local.Store
}

// NewFactory creates a provider factory sharing httpClient across stores.
func NewFactory(cfg *config.Config, httpClient *nethttp.Client, logger *logging.Logger) *Factory {
	if cfg == nil {
		cfg = config.New()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Factory{cfg: cfg, httpClient: httpClient, logger: logger}
}

// NewStore returns the store that serves uri.
func (f *Factory) NewStore(ctx context.Context, uri string) (storage.BlobStore, error) {
	scheme, err := Scheme(uri)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch scheme {
	case "https", "http":
		if f.azure == nil {
			creds := credentials.NewManager(f.cfg.Azure, f.httpClient, f.logger)
			f.azure = azure.NewStore(f.httpClient, creds, f.logger.Child("provider", "azure"))
		}
		return f.azure, nil
	case "s3":
		if f.s3 == nil {
			store, err := s3.NewStore(ctx, f.cfg.S3, f.httpClient, f.logger.Child("provider", "s3"))
			if err != nil {
				return nil, err
			}
			f.s3 = store
		}
		return f.s3, nil
	case "file":
		if f.local == nil {
			f.local = local.NewStore()
		}
		return f.local, nil
	default:
		return nil, fmt.Errorf("%w: %s", storage.ErrUnsupportedScheme, scheme)
	}
}

// Scheme returns the lowercased URI scheme.
func Scheme(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid blob URI: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: %q has no scheme", storage.ErrUnsupportedScheme, uri)
	}
	return strings.ToLower(u.Scheme), nil
}
