// Package credentials obtains and caches Azure SAS tokens for blob URIs.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/constants"
	"github.com/mediaflow/blobxfer/internal/logging"
)

// ErrNoCredentials indicates neither a static SAS token nor a token endpoint is configured.
var ErrNoCredentials = errors.New("no Azure SAS token or SAS endpoint configured")

// sasResponse is the body returned by the SAS token endpoint.
type sasResponse struct {
	SASToken  string    `json:"sasToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type cachedToken struct {
	token     string
	expiresAt time.Time // zero means unknown
}

// Manager supplies SAS tokens for blob URIs, either from a static token or
// from an HTTP endpoint. Endpoint tokens are cached per container and
// refreshed SASRefreshBuffer before they expire.
//
// Concurrent refreshes for the same container are coalesced into one
// endpoint call, so a burst of 403s from parallel workers costs one request.
type Manager struct {
	static   string
	endpoint string
	auth     string
	client   *nethttp.Client
	logger   *logging.Logger
	now      func() time.Time

	mu     sync.RWMutex
	tokens map[string]cachedToken

	group singleflight.Group
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Interface("kv", keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Interface("kv", keysAndValues).Msg(msg)
}

// NewManager creates a SAS manager. httpClient is wrapped with retryablehttp
// for endpoint calls; nil uses a default client.
func NewManager(cfg config.AzureConfig, httpClient *nethttp.Client, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	if httpClient == nil {
		httpClient = &nethttp.Client{}
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = 4
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = &retryLogger{logger: logger}

	return &Manager{
		static:   strings.TrimPrefix(strings.TrimSpace(cfg.SASToken), "?"),
		endpoint: cfg.SASEndpoint,
		auth:     cfg.SASEndpointAuth,
		client:   retryClient.StandardClient(),
		logger:   logger,
		now:      time.Now,
		tokens:   make(map[string]cachedToken),
	}
}

// Configured reports whether any credential source is set.
func (m *Manager) Configured() bool {
	return m.static != "" || m.endpoint != ""
}

// TransformURI returns uri with a SAS token appended. A URI that already
// carries a signature is returned unchanged.
func (m *Manager) TransformURI(ctx context.Context, uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid blob URI: %w", err)
	}
	if u.Query().Get("sig") != "" {
		return uri, nil
	}

	token, err := m.Token(ctx, uri)
	if err != nil {
		return "", err
	}

	if u.RawQuery == "" {
		u.RawQuery = token
	} else {
		u.RawQuery = u.RawQuery + "&" + token
	}
	return u.String(), nil
}

// Token returns a valid SAS token for the container of uri.
func (m *Manager) Token(ctx context.Context, uri string) (string, error) {
	if m.static != "" {
		return m.static, nil
	}
	if m.endpoint == "" {
		return "", ErrNoCredentials
	}

	key := containerKey(uri)

	// Fast path: read lock only
	m.mu.RLock()
	cached, ok := m.tokens[key]
	m.mu.RUnlock()
	if ok && m.fresh(cached) {
		return cached.token, nil
	}

	return m.fetch(ctx, key, uri)
}

// Refresh discards cached endpoint tokens and fetches a new one for uri.
// With a static token there is nothing to refresh and Refresh returns nil.
func (m *Manager) Refresh(ctx context.Context, uri string) error {
	if m.static != "" {
		return nil
	}
	if m.endpoint == "" {
		return ErrNoCredentials
	}

	key := containerKey(uri)
	m.mu.Lock()
	delete(m.tokens, key)
	m.mu.Unlock()

	_, err := m.fetch(ctx, key, uri)
	return err
}

// Expiry returns the cached token expiry for uri's container, if known.
func (m *Manager) Expiry(uri string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cached, ok := m.tokens[containerKey(uri)]
	if !ok || cached.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return cached.expiresAt, true
}

func (m *Manager) fresh(c cachedToken) bool {
	if c.token == "" {
		return false
	}
	if c.expiresAt.IsZero() {
		return true
	}
	return m.now().Add(constants.SASRefreshBuffer).Before(c.expiresAt)
}

func (m *Manager) fetch(ctx context.Context, key, uri string) (string, error) {
	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the group.
		m.mu.RLock()
		cached, ok := m.tokens[key]
		m.mu.RUnlock()
		if ok && m.fresh(cached) {
			return cached.token, nil
		}

		tok, err := m.requestToken(ctx, uri)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.tokens[key] = tok
		m.mu.Unlock()

		m.logger.Info().
			Str("container", key).
			Time("expires_at", tok.expiresAt).
			Msg("obtained SAS token")
		return tok.token, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug().Str("container", key).Msg("SAS refresh coalesced")
	}
	return v.(string), nil
}

func (m *Manager) requestToken(ctx context.Context, uri string) (cachedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.SASEndpointTimeout)
	defer cancel()

	endpoint, err := url.Parse(m.endpoint)
	if err != nil {
		return cachedToken{}, fmt.Errorf("invalid SAS endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", stripQuery(uri))
	endpoint.RawQuery = q.Encode()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, endpoint.String(), nil)
	if err != nil {
		return cachedToken{}, err
	}
	req.Header.Set("Accept", "application/json")
	if m.auth != "" {
		req.Header.Set("Authorization", m.auth)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return cachedToken{}, fmt.Errorf("SAS endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return cachedToken{}, fmt.Errorf("SAS endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed sasResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return cachedToken{}, fmt.Errorf("failed to decode SAS endpoint response: %w", err)
	}
	if parsed.SASToken == "" {
		return cachedToken{}, errors.New("SAS endpoint returned an empty token")
	}

	return cachedToken{
		token:     strings.TrimPrefix(parsed.SASToken, "?"),
		expiresAt: parsed.ExpiresAt,
	}, nil
}

// containerKey reduces a blob URI to scheme://host/container.
func containerKey(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	container := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	return u.Scheme + "://" + u.Host + "/" + container
}

func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
