package asyncstream

import (
	"context"
	"iter"
	"sync"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// Result is the outcome of a single pull.
type Result[T any] struct {
	Value T
	Done  bool
}

// Stream is a buffered push-to-pull adapter.
//
// Push may be called from any goroutine and never blocks. A value is only
// queued when no consumer is waiting; a waiting consumer receives the next
// pushed value directly.
type Stream[T any] struct {
	mu     sync.Mutex
	queue  []T
	waiter chan Result[T]
	done   bool

	onStop   func()
	stopOnce sync.Once
}

// New creates an empty stream.
//
// onStop is optional and runs exactly once, when the stream stops, so the
// producer side can release its subscription.
func New[T any](onStop func()) *Stream[T] {
	return &Stream[T]{onStop: onStop}
}

// Push delivers a value, or terminates the stream when err is non-nil.
//
// The error itself is not surfaced to the consumer, who only observes the
// stream ending. Pushes after Stop are ignored.
func (s *Stream[T]) Push(err error, value T) {
	if err != nil {
		s.Stop()

		return
	}

	s.mu.Lock()

	if s.done {
		s.mu.Unlock()

		return
	}

	if s.waiter != nil {
		w := s.waiter
		s.waiter = nil
		s.mu.Unlock()

		w <- Result[T]{Value: value}

		return
	}

	s.queue = append(s.queue, value)
	s.mu.Unlock()
}

// Callback returns Push as a plain function for callback-style producers.
func (s *Stream[T]) Callback() func(error, T) {
	return s.Push
}

// Next returns the oldest buffered value, or waits for one.
//
// After Stop and once the buffer is drained, Next returns a Result with Done
// set. Only one Next may be outstanding at a time; a concurrent call returns
// ErrConcurrentNext. Cancelling ctx withdraws the wait.
func (s *Stream[T]) Next(ctx context.Context) (Result[T], error) {
	s.mu.Lock()

	if len(s.queue) > 0 {
		v := s.queue[0]

		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		return Result[T]{Value: v}, nil
	}

	if s.done {
		s.mu.Unlock()

		return Result[T]{Done: true}, nil
	}

	if s.waiter != nil {
		s.mu.Unlock()

		return Result[T]{}, errors.ErrConcurrentNext
	}

	w := make(chan Result[T], 1)
	s.waiter = w
	s.mu.Unlock()

	select {
	case r := <-w:
		return r, nil

	case <-ctx.Done():
		s.mu.Lock()

		if s.waiter == w {
			s.waiter = nil
			s.mu.Unlock()

			return Result[T]{}, ctx.Err()
		}

		s.mu.Unlock()

		// A producer claimed the waiter concurrently; the value is ours.
		return <-w, nil
	}
}

// Stop terminates the stream.
//
// A waiting consumer is released with Done. The onStop callback runs once.
// Stop is safe to call multiple times.
func (s *Stream[T]) Stop() {
	s.mu.Lock()

	if s.done {
		s.mu.Unlock()

		return
	}

	s.done = true
	w := s.waiter
	s.waiter = nil
	s.mu.Unlock()

	if w != nil {
		w <- Result[T]{Done: true}
	}

	s.stopOnce.Do(func() {
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// IsDone reports whether the stream has been stopped.
func (s *Stream[T]) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}

// Len returns the number of buffered, undelivered values.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// All returns an iterator over the stream's values.
//
// Iteration ends when the stream is done or ctx is cancelled. Breaking out
// of the loop stops the stream.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			r, err := s.Next(ctx)
			if err != nil || r.Done {
				return
			}

			if !yield(r.Value) {
				s.Stop()

				return
			}
		}
	}
}
