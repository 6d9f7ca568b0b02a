package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediaflow/blobxfer/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog EventType = "log"

	// Transfer lifecycle events
	EventTransferQueued    EventType = "transfer_queued"    // Task registered, waiting for a transfer slot
	EventTransferStarted   EventType = "transfer_started"   // Slot acquired, workers launching
	EventTransferProgress  EventType = "transfer_progress"  // A chunk was committed
	EventTransferCompleted EventType = "transfer_completed" // Terminal: success, failure or cancellation
)

// terminalSendTimeout bounds how long Publish waits on a full subscriber
// channel for terminal events, which must not be dropped silently.
const terminalSendTimeout = time.Second

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TransferType distinguishes uploads from downloads.
type TransferType string

const (
	TransferUpload   TransferType = "upload"
	TransferDownload TransferType = "download"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	TaskID  string
	Error   error
}

// TransferStateEvent is published when a task is queued or starts running.
type TransferStateEvent struct {
	BaseEvent
	TaskID       string
	TransferType TransferType
	URI          string
	LocalPath    string
	TotalBytes   int64
}

// TransferProgressEvent reports one committed chunk.
// Percent is floor(100*BytesTransferred/TotalBytes). Reports from different
// workers may arrive out of order, so Percent is only eventually monotonic.
type TransferProgressEvent struct {
	BaseEvent
	TaskID           string
	BytesTransferred int64
	ChunkBytes       int64
	TotalBytes       int64
	Percent          int
	Rate             float64 // bytes/sec
	URI              string
	LocalPath        string
}

// TransferCompletedEvent is the single terminal notification of a transfer.
type TransferCompletedEvent struct {
	BaseEvent
	TaskID       string
	Error        error // aggregate of every error seen by the job, nil on success or cancel
	Cancelled    bool
	TransferType TransferType
	LocalPath    string
	URI          string
	Bytes        int64
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers.
// Progress and log events are dropped when a subscriber buffer is full;
// completion events wait up to terminalSendTimeout per subscriber.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	terminal := event.Type() == EventTransferCompleted

	for _, ch := range eb.subscribers[event.Type()] {
		eb.send(ch, event, terminal)
	}
	for _, ch := range eb.all {
		eb.send(ch, event, terminal)
	}
}

func (eb *EventBus) send(ch chan Event, event Event, terminal bool) {
	select {
	case ch <- event:
		return
	default:
	}
	if !terminal {
		eb.droppedEvents.Add(1)
		return
	}
	timer := time.NewTimer(terminalSendTimeout)
	defer timer.Stop()
	select {
	case ch <- event:
	case <-timer.C:
		eb.droppedEvents.Add(1)
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, taskID string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{
			EventType: EventLog,
			Time:      time.Now(),
		},
		Level:   level,
		Message: message,
		TaskID:  taskID,
		Error:   err,
	})
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
