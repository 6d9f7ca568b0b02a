package http

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"strings"
	"time"

	"github.com/mediaflow/blobxfer/internal/constants"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates authentication/authorization failure (403, expired token)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (500, 502, 503, throttling)
	ErrorTypeRetryable
	// ErrorTypeLocalIO indicates a failure reading or writing the local file
	ErrorTypeLocalIO
	// ErrorTypeFatal indicates client errors that should not be retried (400, 404, invalid request)
	ErrorTypeFatal
)

// statusCoder is implemented by provider errors that carry an HTTP status,
// e.g. storage.StatusError and awshttp.ResponseError.
type statusCoder interface {
	HTTPStatusCode() int
}

// StatusCodeOf returns the HTTP status carried by err, or 0 when none is known.
func StatusCodeOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// Config holds retry parameters for ExecuteWithRetry
type Config struct {
	// MaxRetries is the maximum number of attempts (default: 10)
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff (default: 200ms)
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 15s)
	MaxDelay time.Duration
	// CredentialRefresh is an optional function called after a credential error
	CredentialRefresh func(context.Context) error
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:   constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
	}
}

// ClassifyStatus maps an HTTP status code to an error type. Zero means unknown.
func ClassifyStatus(status int) (ErrorType, bool) {
	switch {
	case status == 0:
		return ErrorTypeFatal, false
	case status < 400:
		return ErrorTypeSuccess, true
	case status == 401 || status == 403:
		return ErrorTypeCredential, true
	case status == 408 || status == 429:
		return ErrorTypeRetryable, true
	case status >= 500:
		return ErrorTypeRetryable, true
	default:
		return ErrorTypeFatal, true
	}
}

// ClassifyError determines the error type for retry strategy.
// A status code carried by the error wins over message matching.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}

	if t, ok := ClassifyStatus(StatusCodeOf(err)); ok && t != ErrorTypeSuccess {
		return t
	}

	// Local file faults: disk full is not worth retrying, anything else on the
	// destination handle is handled by reopening the file.
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrClosed) {
		if IsDiskFullError(err) {
			return ErrorTypeFatal
		}
		return ErrorTypeLocalIO
	}

	errStr := strings.ToLower(err.Error())

	// Credential-related errors - need token/credential refresh
	// Includes both AWS (expired token) and Azure (authentication failed, invalid SAS) errors
	if strings.Contains(errStr, "expired") ||
		strings.Contains(errStr, "invalid token") ||
		strings.Contains(errStr, "expiredtoken") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "authentication failed") ||
		strings.Contains(errStr, "authenticationfailed") ||
		strings.Contains(errStr, "invalid sas") ||
		strings.Contains(errStr, "sas token") ||
		strings.Contains(errStr, "signature not valid") ||
		strings.Contains(errStr, "authorization failure") {
		return ErrorTypeCredential
	}

	// Network errors - retryable with backoff
	if strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") {
		return ErrorTypeNetwork
	}

	// AWS/Azure retryable errors - server issues, rate limiting
	if strings.Contains(errStr, "requesttimeout") ||
		strings.Contains(errStr, "internalerror") ||
		strings.Contains(errStr, "serviceunavailable") ||
		strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "server busy") ||
		strings.Contains(errStr, "serverbusy") ||
		strings.Contains(errStr, "operationtimeout") ||
		strings.Contains(errStr, "operation timeout") ||
		strings.Contains(errStr, "service unavailable") {
		return ErrorTypeRetryable
	}

	// Unknown errors - treat as fatal to avoid infinite retries on unexpected errors
	return ErrorTypeFatal
}

// IsDiskFullError checks if an error is likely caused by running out of disk space
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	diskFullIndicators := []string{
		"no space left on device", // Linux/Unix
		"disk full",               // Generic
		"out of disk space",       // Windows
		"insufficient disk space", // Windows
		"not enough space",        // Generic
		"enospc",                  // Linux errno
		"disk quota exceeded",     // Quota systems
	}

	for _, indicator := range diskFullIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// CalculateBackoff returns exponential backoff duration with full jitter
// Full jitter prevents thundering herd problem when many clients retry simultaneously
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}

	return time.Duration(rand.Int63n(int64(base)))
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRetry runs an operation with intelligent retry logic
//
// Retry strategy:
//   - Credential errors: Refresh credentials and retry after a short pause
//   - Network/Retryable errors: Exponential backoff with full jitter
//   - Fatal and local I/O errors: Return immediately without retry
//   - Context cancellation: Return immediately, including during a backoff sleep
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		errType := ClassifyError(err)

		switch errType {
		case ErrorTypeSuccess:
			return nil

		case ErrorTypeFatal, ErrorTypeLocalIO:
			return err

		case ErrorTypeCredential:
			if attempt < config.MaxRetries-1 {
				if config.OnRetry != nil {
					config.OnRetry(attempt+1, err, errType)
				}
				if config.CredentialRefresh != nil {
					if rerr := config.CredentialRefresh(ctx); rerr != nil {
						return fmt.Errorf("credential refresh failed: %w", rerr)
					}
				}
				if serr := SleepContext(ctx, constants.CredentialRetryDelay); serr != nil {
					return serr
				}
				continue
			}
			return fmt.Errorf("credential error after %d attempts: %w", config.MaxRetries, err)

		case ErrorTypeNetwork, ErrorTypeRetryable:
			if attempt < config.MaxRetries-1 {
				backoff := CalculateBackoff(attempt+1, config.InitialDelay, config.MaxDelay)
				if config.OnRetry != nil {
					config.OnRetry(attempt+1, err, errType)
				}
				if serr := SleepContext(ctx, backoff); serr != nil {
					return serr
				}
				continue
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeLocalIO:
		return "local-io"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
