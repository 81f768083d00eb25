// Package memtransport connects a client and a host inside one process.
//
// Pipe returns two transports whose frames cross an in-memory queue. Each
// direction is unbounded so a sender never blocks on a slow reader, which
// keeps the single dispatch loop on either side from stalling.
package memtransport

import (
	"context"
	"slices"
	"sync"

	"github.com/wagiedev/workerbridge-go/internal/config"
	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// queue is an unbounded FIFO of frames.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

func (q *queue) push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.frames = append(q.frames, frame)
	q.cond.Signal()

	return true
}

// pop blocks until a frame is available. It returns false once the queue
// is closed and drained.
func (q *queue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.frames) == 0 {
		return nil, false
	}

	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]

	return frame, true
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// End is one side of an in-memory pipe.
type End struct {
	in  *queue
	out *queue

	closeOnce sync.Once
}

var _ config.Transport = (*End)(nil)

// Pipe returns two connected ends. Frames sent on one are read from the other.
func Pipe() (*End, *End) {
	a, b := newQueue(), newQueue()

	return &End{in: a, out: b}, &End{in: b, out: a}
}

// Start is a no-op.
func (e *End) Start(context.Context) error {
	return nil
}

// ReadMessages delivers frames until the pipe closes or ctx ends.
func (e *End) ReadMessages(ctx context.Context) (<-chan []byte, <-chan error) {
	messages := make(chan []byte)
	errs := make(chan error, 1)

	stop := context.AfterFunc(ctx, e.in.close)

	go func() {
		defer close(messages)
		defer close(errs)
		defer stop()

		for {
			frame, ok := e.in.pop()
			if !ok {
				if ctx.Err() != nil {
					errs <- ctx.Err()
				}

				return
			}

			select {
			case messages <- frame:
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}
		}
	}()

	return messages, errs
}

// SendMessage queues a copy of data for the other end.
func (e *End) SendMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !e.out.push(slices.Clone(data)) {
		return errors.ErrTransportClosed
	}

	return nil
}

// Close closes both directions. The other end reads the frames already
// queued and then sees the pipe closed.
func (e *End) Close() error {
	e.closeOnce.Do(func() {
		e.out.close()
		e.in.close()
	})

	return nil
}

// IsReady reports whether frames can still be sent.
func (e *End) IsReady() bool {
	e.out.mu.Lock()
	defer e.out.mu.Unlock()

	return !e.out.closed
}
