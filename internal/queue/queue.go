// Package queue provides the unbounded FIFO connecting producers to the
// saver workers.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/axiolab/bytelog/internal/record"
)

// Queue is a thread-safe unbounded FIFO of log packages. Put never blocks
// and never fails for a well-formed package; workers drain it with the
// non-blocking TryPop. It uses a simple mutex-based approach for
// correctness.
type Queue struct {
	mu   sync.Mutex
	data []record.LogPackage
	head int

	// Statistics
	putCount atomic.Int64
	popCount atomic.Int64
}

// shrinkThreshold bounds how much dead space the head index may leave
// before the backing slice is compacted.
const shrinkThreshold = 4096

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Put appends a package to the tail of the queue.
func (q *Queue) Put(pkg record.LogPackage) {
	q.mu.Lock()
	q.data = append(q.data, pkg)
	q.mu.Unlock()
	q.putCount.Add(1)
}

// TryPop removes and returns the oldest package.
// Returns false if the queue is empty.
func (q *Queue) TryPop() (record.LogPackage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.data) {
		return record.LogPackage{}, false
	}

	pkg := q.data[q.head]
	q.data[q.head] = record.LogPackage{} // Clear for GC
	q.head++

	if q.head >= shrinkThreshold && q.head*2 >= len(q.data) {
		q.data = append(q.data[:0], q.data[q.head:]...)
		q.head = 0
	}

	q.popCount.Add(1)
	return pkg, true
}

// Len returns the number of packages currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data) - q.head
}

// Empty reports whether the queue holds no packages.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Stats returns cumulative put and pop counts.
func (q *Queue) Stats() (puts, pops int64) {
	return q.putCount.Load(), q.popCount.Load()
}
