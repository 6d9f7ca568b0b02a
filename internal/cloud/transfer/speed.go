package transfer

import (
	"sync"
	"time"

	"github.com/mediaflow/blobxfer/internal/constants"
)

// SpeedSample is one throughput observation.
type SpeedSample struct {
	Ticks int64 // nanoseconds since the tracker was created
	Bytes int64 // cumulative bytes at that instant
}

// SpeedTracker estimates throughput over a sliding window of the most recent
// samples. Timestamps and byte counts are kept in two parallel FIFOs of
// equal length.
type SpeedTracker struct {
	mu       sync.Mutex
	ticks    []int64
	bytes    []int64
	capacity int
	start    time.Time
	now      func() time.Time
}

// NewSpeedTracker creates a tracker with the default window.
func NewSpeedTracker() *SpeedTracker {
	return newSpeedTracker(constants.SpeedWindowCapacity, time.Now)
}

func newSpeedTracker(capacity int, now func() time.Time) *SpeedTracker {
	return &SpeedTracker{
		ticks:    make([]int64, 0, capacity),
		bytes:    make([]int64, 0, capacity),
		capacity: capacity,
		start:    now(),
		now:      now,
	}
}

// Report records bytesSoFar at the current time and returns the rate in
// bytes per second. The rate is 0 until enough samples have been seen.
func (s *SpeedTracker) Report(bytesSoFar int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ticks) == s.capacity {
		s.ticks = append(s.ticks[:0], s.ticks[1:]...)
		s.bytes = append(s.bytes[:0], s.bytes[1:]...)
	}
	s.ticks = append(s.ticks, int64(s.now().Sub(s.start)))
	s.bytes = append(s.bytes, bytesSoFar)

	return s.rateLocked()
}

// Rate returns the current estimate without recording a sample.
func (s *SpeedTracker) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

// Samples returns a copy of the window, oldest first.
func (s *SpeedTracker) Samples() []SpeedSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpeedSample, len(s.ticks))
	for i := range s.ticks {
		out[i] = SpeedSample{Ticks: s.ticks[i], Bytes: s.bytes[i]}
	}
	return out
}

func (s *SpeedTracker) rateLocked() float64 {
	if len(s.ticks) < constants.SpeedMinSamples {
		return 0
	}

	minTicks, maxTicks := s.ticks[0], s.ticks[0]
	minBytes, maxBytes := s.bytes[0], s.bytes[0]
	for i := 1; i < len(s.ticks); i++ {
		minTicks = min(minTicks, s.ticks[i])
		maxTicks = max(maxTicks, s.ticks[i])
		minBytes = min(minBytes, s.bytes[i])
		maxBytes = max(maxBytes, s.bytes[i])
	}

	elapsed := time.Duration(maxTicks - minTicks).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(maxBytes-minBytes) / elapsed
}
