package local

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// mpscQueue is a bounded lock-free multi-producer single-consumer queue
// used as the per-subscription delivery queue. Producers append through an
// atomic CAS on the tail; the single consumer advances the head without
// synchronization and parks on a condition variable while the queue is
// empty. Push never blocks: once the capacity is reached it reports false
// and the caller drops the item, so a slow subscriber cannot stall a
// publisher.
type mpscQueue[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]

	// approximate under concurrent pushes, bounded within a few items
	size     atomic.Int64
	capacity int64

	closed atomic.Bool

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// newMPSCQueue creates a queue bounded to capacity items.
func newMPSCQueue[T any](capacity int) *mpscQueue[T] {
	// sentinel node so head always has a predecessor
	sentinel := &node[T]{}

	q := &mpscQueue[T]{capacity: int64(capacity)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Push adds an item to the queue.
// Returns false if the queue is closed or full; the item is not added.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *mpscQueue[T]) Push(value *T) bool {
	if value == nil {
		return false
	}

	if q.closed.Load() || q.size.Load() >= q.capacity {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8

	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail.
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				q.tail.CompareAndSwap(tailNode, newNode)
				q.size.Add(1)

				// Signal the consumer that new data is available. Taking
				// the lock orders the append before the consumer's
				// empty-recheck, otherwise the wakeup could be lost.
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()

				return true
			}
		} else {
			// help update the tail pointer if another producer has already
			// appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		/*
		 Exponential backoff to handle contention:
		  - at low contention: CPU spinning avoids scheduling overhead
		  - at higher contention: yield so other goroutines make progress
		*/
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Pop removes and returns the oldest item, blocking while the queue is
// empty and open. Returns (nil, false) once the queue has been closed;
// items still queued at close time are discarded.
//
// Thread-safety: Pop must only be called from a single consumer goroutine.
func (q *mpscQueue[T]) Pop() (*T, bool) {
	for {
		if q.closed.Load() {
			return nil, false
		}

		head := q.head.Load()
		next := head.next.Load()
		if next != nil {
			// single consumer, a plain store moves the head
			q.head.Store(next)

			value := next.value
			next.value = nil // help go gc
			q.size.Add(-1)

			return value, true
		}

		// Wait for a signal; double-check under the lock to avoid
		// missing an append that raced with the emptiness check above.
		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Close closes the queue, preventing further writes and waking the
// consumer. Queued items are discarded, not delivered.
func (q *mpscQueue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *mpscQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the approximate number of queued items.
func (q *mpscQueue[T]) Len() int {
	return int(q.size.Load())
}
