// Package ratelimit provides a byte-rate token bucket shared by every
// transfer in the process, used to cap aggregate bandwidth.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mediaflow/blobxfer/internal/logging"
)

// Limiter implements a token bucket where one token is one byte.
// It allows bursts up to maxTokens, then refills at refillRate bytes/second.
// A nil *Limiter never blocks.
type Limiter struct {
	tokens       float64   // Current number of tokens available
	maxTokens    float64   // Maximum bucket capacity
	refillRate   float64   // Tokens added per second
	lastRefill   time.Time // Last time tokens were refilled
	lastWarnTime time.Time // Last time we warned about throttling
	logger       *logging.Logger
	now          func() time.Time
	mu           sync.Mutex
}

// NewLimiter creates a limiter for bytesPerSecond with a one-second burst.
// Returns nil (unlimited) when bytesPerSecond is not positive.
func NewLimiter(bytesPerSecond float64, logger *logging.Logger) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Limiter{
		tokens:     bytesPerSecond, // Start with full bucket
		maxTokens:  bytesPerSecond,
		refillRate: bytesPerSecond,
		lastRefill: time.Now(),
		logger:     logger,
		now:        time.Now,
	}
}

// Rate returns the configured bytes per second, or 0 when unlimited.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	return l.refillRate
}

// WaitN blocks until n bytes may be sent or ctx is cancelled.
// Requests larger than the burst are admitted in burst-sized slices.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return ctx.Err()
	}

	remaining := float64(n)
	for remaining > 0 {
		want := remaining
		if want > l.maxTokens {
			want = l.maxTokens
		}
		if err := l.wait(ctx, want); err != nil {
			return err
		}
		remaining -= want
	}
	return nil
}

func (l *Limiter) wait(ctx context.Context, want float64) error {
	startTime := l.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		waitDuration, ok := l.tryAcquire(want)
		if ok {
			return nil
		}

		if waitDuration > 2*time.Second {
			l.mu.Lock()
			// Only warn every 10 seconds to avoid spam
			if l.now().Sub(l.lastWarnTime) > 10*time.Second {
				l.logger.Warn().
					Float64("wait_s", waitDuration.Seconds()).
					Dur("waited", l.now().Sub(startTime)).
					Msg("bandwidth limit reached, throttling transfers")
				l.lastWarnTime = l.now()
			}
			l.mu.Unlock()
		}

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire takes want tokens, or reports how long until they are available.
func (l *Limiter) tryAcquire(want float64) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= want {
		l.tokens -= want
		return 0, true
	}

	secondsNeeded := (want - l.tokens) / l.refillRate
	return time.Duration(secondsNeeded * float64(time.Second)), false
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (l *Limiter) GetCurrentTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}
