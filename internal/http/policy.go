package http

import (
	"time"

	"github.com/mediaflow/blobxfer/internal/constants"
)

// RetryPolicy decides whether a failed chunk operation is attempted again.
// attempt counts the failures seen so far for that chunk, starting at 1.
// statusCode is the HTTP status of the failure, or 0 when there was none.
type RetryPolicy interface {
	ShouldRetry(attempt int, statusCode int, lastErr error) (bool, time.Duration)
}

// ExponentialRetry retries transient failures with full-jitter exponential backoff.
type ExponentialRetry struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the policy used when a request does not supply one.
func DefaultRetryPolicy() *ExponentialRetry {
	return &ExponentialRetry{
		MaxRetries:   constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
	}
}

// ShouldRetry implements RetryPolicy.
func (p *ExponentialRetry) ShouldRetry(attempt int, statusCode int, lastErr error) (bool, time.Duration) {
	if attempt > p.MaxRetries {
		return false, 0
	}

	errType := ClassifyError(lastErr)
	if t, ok := ClassifyStatus(statusCode); ok && t != ErrorTypeSuccess {
		errType = t
	}

	switch errType {
	case ErrorTypeCredential:
		return true, constants.CredentialRetryDelay
	case ErrorTypeNetwork, ErrorTypeRetryable, ErrorTypeLocalIO:
		return true, CalculateBackoff(attempt, p.InitialDelay, p.MaxDelay)
	default:
		return false, 0
	}
}

// FixedRetry retries every failure up to MaxRetries times with a constant delay.
// Useful when the caller knows all faults are transient.
type FixedRetry struct {
	MaxRetries int
	Delay      time.Duration
}

// ShouldRetry implements RetryPolicy.
func (p FixedRetry) ShouldRetry(attempt int, _ int, _ error) (bool, time.Duration) {
	if attempt > p.MaxRetries {
		return false, 0
	}
	return true, p.Delay
}

// NoRetry fails on the first error.
type NoRetry struct{}

// ShouldRetry implements RetryPolicy.
func (NoRetry) ShouldRetry(int, int, error) (bool, time.Duration) {
	return false, 0
}
