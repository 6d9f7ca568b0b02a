package transfer

import "sync/atomic"

// WorkItem is a queued chunk plus the number of failed attempts so far.
type WorkItem struct {
	Chunk   TransferChunk
	Attempt int
}

// WorkQueue is a multi-producer multi-consumer chunk queue. Its capacity is
// the chunk count, so Requeue never blocks.
//
// Every byte handed to the queue is in exactly one of three states:
// queued, in flight or completed.
type WorkQueue struct {
	items chan WorkItem

	queued    atomic.Int64
	inFlight  atomic.Int64
	completed atomic.Int64
}

// NewWorkQueue creates a queue holding chunks in order.
func NewWorkQueue(chunks []TransferChunk) *WorkQueue {
	q := &WorkQueue{items: make(chan WorkItem, len(chunks))}
	for _, c := range chunks {
		q.items <- WorkItem{Chunk: c}
		q.queued.Add(int64(c.Length))
	}
	return q
}

// TryDequeue takes the next chunk without blocking. ok is false when the queue is empty.
func (q *WorkQueue) TryDequeue() (item WorkItem, ok bool) {
	select {
	case item = <-q.items:
		n := int64(item.Chunk.Length)
		q.inFlight.Add(n)
		q.queued.Add(-n)
		return item, true
	default:
		return WorkItem{}, false
	}
}

// Requeue returns a failed in-flight chunk with its attempt count incremented.
func (q *WorkQueue) Requeue(item WorkItem) {
	item.Attempt++
	n := int64(item.Chunk.Length)
	q.queued.Add(n)
	q.inFlight.Add(-n)
	q.items <- item
}

// Complete marks an in-flight chunk done.
func (q *WorkQueue) Complete(item WorkItem) {
	n := int64(item.Chunk.Length)
	q.completed.Add(n)
	q.inFlight.Add(-n)
}

// Len returns the number of chunks waiting.
func (q *WorkQueue) Len() int {
	return len(q.items)
}

// Accounting returns the queued, in-flight and completed byte counts.
// Between operations their sum equals the bytes given to NewWorkQueue.
func (q *WorkQueue) Accounting() (queued, inFlight, completed int64) {
	return q.queued.Load(), q.inFlight.Load(), q.completed.Load()
}
