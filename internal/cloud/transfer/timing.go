package transfer

// Transfer timing instrumentation for diagnostics.
//
// Enable timing output by setting BLOBXFER_TIMING=1. Phases are logged at
// info level with a "timing" field:
//
//	INF upload plan timing=true phase="plan" elapsed=1.2ms
//	INF upload workers timing=true phase="workers" elapsed=9.2s bytes=320.0 MB speed=34.8 MB/s

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/mediaflow/blobxfer/internal/logging"
)

// TimingEnabled returns true if BLOBXFER_TIMING=1 is set.
func TimingEnabled() bool {
	return os.Getenv("BLOBXFER_TIMING") == "1"
}

// Timer tracks elapsed time for a named phase.
// Thread-safe and idempotent (Stop can be called multiple times safely).
type Timer struct {
	name    string
	start   time.Time
	logger  *logging.Logger
	stopped atomic.Bool
}

// StartTimer creates a timer for the named phase.
func StartTimer(logger *logging.Logger, name string) *Timer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Timer{name: name, start: time.Now(), logger: logger}
}

// Elapsed returns the current elapsed time without stopping the timer.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop logs the elapsed time once and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.stopped.CompareAndSwap(false, true) && TimingEnabled() {
		t.logger.Info().Bool("timing", true).Str("phase", t.name).Dur("elapsed", elapsed).Msg(t.name)
	}
	return elapsed
}

// StopWithThroughput logs elapsed time with throughput information.
func (t *Timer) StopWithThroughput(bytes int64) time.Duration {
	elapsed := time.Since(t.start)
	if t.stopped.CompareAndSwap(false, true) && TimingEnabled() {
		bytesPerSec := 0.0
		if elapsed > 0 {
			bytesPerSec = float64(bytes) / elapsed.Seconds()
		}
		t.logger.Info().Bool("timing", true).Str("phase", t.name).Dur("elapsed", elapsed).
			Str("bytes", FormatBytes(bytes)).Str("speed", FormatSpeed(bytesPerSec)).Msg(t.name)
	}
	return elapsed
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed returns a human-readable speed in bytes/second.
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 1024 {
		return fmt.Sprintf("%.1f B/s", bytesPerSec)
	}
	if bytesPerSec < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
}
