package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/pkg/capture"
)

// ErrQueueClosed is returned by Put after Close.
var ErrQueueClosed = errors.New("ingest queue closed")

// Queue is a bounded ingest queue between capture admission and the batch
// worker. Put blocks when the queue is full, pushing backpressure onto the
// producer instead of dropping captures.
type Queue struct {
	ch        chan capture.RawCapture
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity captures.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan capture.RawCapture, capacity),
		done: make(chan struct{}),
	}
}

// Put enqueues one capture, blocking while the queue is full.
func (q *Queue) Put(rc capture.RawCapture) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- rc:
		observability.SetQueueDepth(len(q.ch))
		return nil
	case <-q.done:
		return ErrQueueClosed
	}
}

// Pop dequeues one capture, waiting at most timeout. The bool reports
// whether a capture was received. After Close, queued captures are still
// drained before Pop starts reporting false.
func (q *Queue) Pop(timeout time.Duration) (capture.RawCapture, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rc := <-q.ch:
		observability.SetQueueDepth(len(q.ch))
		return rc, true
	case <-timer.C:
		return capture.RawCapture{}, false
	case <-q.done:
		// Closed: drain whatever is already queued.
		select {
		case rc := <-q.ch:
			observability.SetQueueDepth(len(q.ch))
			return rc, true
		default:
			return capture.RawCapture{}, false
		}
	}
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting captures. Queued captures can still be drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
