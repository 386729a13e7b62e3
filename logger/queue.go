package logger

import (
	"sync"
	"sync/atomic"
)

const defaultAsyncLogQueueSize = 10000

// AsyncLogQueue runs callbacks on one background goroutine so the DNS reply
// path never waits on log I/O. When the buffer is full callbacks are dropped
// and counted.
type AsyncLogQueue struct {
	ch        chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewAsyncLogQueue starts a queue holding up to size pending callbacks
// (defaultAsyncLogQueueSize when size <= 0).
func NewAsyncLogQueue(size int) *AsyncLogQueue {
	if size <= 0 {
		size = defaultAsyncLogQueueSize
	}
	q := &AsyncLogQueue{ch: make(chan func(), size)}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for f := range q.ch {
			f()
		}
	}()
	return q
}

// Enqueue adds f without blocking.
func (q *AsyncLogQueue) Enqueue(f func()) {
	if q == nil {
		return
	}
	select {
	case q.ch <- f:
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns how many callbacks were discarded because the queue was full.
func (q *AsyncLogQueue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Close stops accepting work and waits for pending callbacks. Safe to call twice.
func (q *AsyncLogQueue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		close(q.ch)
		q.wg.Wait()
	})
}
