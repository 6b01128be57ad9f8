// Package queue is the bounded hand-off between event producers and the
// single consumer loop.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srodi/lockscope/pkg/types"
)

var (
	// ErrTimeout is returned by Poll when no record arrived in time.
	ErrTimeout = errors.New("poll timed out")
	// ErrInterrupted is returned by sources whose wait was interrupted by a
	// signal. The poll should be retried.
	ErrInterrupted = errors.New("poll interrupted")
	// ErrClosed is returned once the queue is closed and drained.
	ErrClosed = errors.New("queue closed")
)

// Status classifies the outcome of a poll.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
	StatusInterrupted
	StatusStopped
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusInterrupted:
		return "interrupted"
	case StatusStopped:
		return "stopped"
	default:
		return "fatal"
	}
}

// Classify maps a Poll error to a Status.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrInterrupted), isEINTR(err):
		return StatusInterrupted
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusStopped
	default:
		return StatusFatal
	}
}

// DefaultBatch bounds how many records one Poll returns.
const DefaultBatch = 512

// Queue is a bounded multi-producer, single-consumer queue. Producers never
// block: a record pushed into a full queue is dropped and counted.
type Queue struct {
	ch      chan types.Record
	batch   int
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// New returns a queue holding up to size records.
func New(size int) *Queue {
	if size <= 0 {
		size = types.DefaultQueueSize
	}
	return &Queue{
		ch:    make(chan types.Record, size),
		batch: DefaultBatch,
		done:  make(chan struct{}),
	}
}

// TryPush enqueues r without blocking. It returns false when r was dropped
// because the queue is full or closed.
func (q *Queue) TryPush(r types.Record) bool {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return false
	default:
	}
	select {
	case q.ch <- r:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll waits up to timeout for at least one record and returns every record
// immediately available, up to the batch limit. It returns ErrTimeout when
// nothing arrived, ctx.Err() when ctx ends first and ErrClosed once the queue
// is closed and empty.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) ([]types.Record, error) {
	var first types.Record
	select {
	case first = <-q.ch:
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case first = <-q.ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			select {
			case first = <-q.ch:
			default:
				return nil, ErrClosed
			}
		case <-timer.C:
			return nil, ErrTimeout
		}
	}

	out := make([]types.Record, 1, min(q.batch, len(q.ch)+1))
	out[0] = first
	for len(out) < q.batch {
		select {
		case r := <-q.ch:
			out = append(out, r)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Close marks the producer side finished. Records already queued are still
// delivered by Poll.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns how many records were rejected by TryPush.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
