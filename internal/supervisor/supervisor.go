package supervisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wagiedev/workerbridge-go/internal/asyncstream"
	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/metrics"
)

// Default reconnect pacing.
const (
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Handle controls one raw stream subscription.
type Handle interface {
	End()
	EndAndWait(ctx context.Context) error
	IsClosed() bool
	WaitForReady(ctx context.Context) error
}

// Completer is implemented by handles whose subscription can finish
// cleanly on the host side. Completed is closed once every value of the
// subscription has been passed to onData. A completed subscription closes
// the supervised stream without counting as a failure.
type Completer interface {
	Completed() <-chan struct{}
}

// Factory starts a raw subscription. onData receives values in emission
// order and onFail is invoked when the subscription dies.
type Factory[T any] func(ctx context.Context, onData func(T), onFail func(error)) (Handle, error)

// Config configures a supervised stream.
type Config struct {
	// Name identifies the stream in logs and errors.
	Name string

	// OnError is invoked once per failure with a *StreamFailedError.
	OnError func(error)

	// OnFail is invoked once per failure after OnError.
	OnFail func(error)

	// RetryOnFail re-invokes the factory after a failure.
	RetryOnFail bool

	// MaxRetries bounds consecutive reconnect attempts per failure.
	// Zero means unlimited.
	MaxRetries int

	// Backoff paces reconnect attempts. Defaults to an exponential backoff.
	Backoff backoff.BackOff

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// State is the lifecycle state of a supervised stream.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stream is a supervised stream. Values from every connection generation
// are delivered through one sequence.
type Stream[T any] struct {
	factory Factory[T]
	cfg     Config
	log     *slog.Logger
	backoff backoff.BackOff
	values  *asyncstream.Stream[T]

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64
	handle     Handle
	attemptErr error

	// Host teardown of the handle live at End, started once.
	teardown    chan struct{}
	teardownErr error

	retrying sync.WaitGroup
}

// Start connects a supervised stream.
//
// The first connection is made synchronously: the factory is invoked and
// Start waits for the subscription to become ready. If that fails, Start
// returns the error and no retry is attempted.
func Start[T any](ctx context.Context, factory Factory[T], cfg Config) (*Stream[T], error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	b := cfg.Backoff
	if b == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = DefaultInitialInterval
		exp.MaxInterval = DefaultMaxInterval
		b = exp
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Stream[T]{
		factory: factory,
		cfg:     cfg,
		log:     log.With("component", "supervisor", "stream", cfg.Name),
		backoff: b,
		values:  asyncstream.New[T](nil),
		ctx:     runCtx,
		cancel:  cancel,
		state:   StateConnecting,
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if err := s.connect(ctx, gen); err != nil {
		s.shutdown()

		return nil, err
	}

	s.log.Debug("Supervised stream active")

	return s, nil
}

// State returns the current lifecycle state.
func (s *Stream[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Next returns the next value across all connection generations.
func (s *Stream[T]) Next(ctx context.Context) (asyncstream.Result[T], error) {
	return s.values.Next(ctx)
}

// All returns an iterator over the stream's values. Breaking out of the
// loop ends the stream.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range s.values.All(ctx) {
			if !yield(v) {
				s.End()

				return
			}
		}
	}
}

// End closes the stream. It takes precedence over any pending retry.
func (s *Stream[T]) End() {
	s.end()
}

// EndAndWait closes the stream and waits until the host acknowledges the
// teardown of the current subscription.
func (s *Stream[T]) EndAndWait(ctx context.Context) error {
	s.end()

	done := make(chan struct{})

	go func() {
		s.retrying.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	teardown := s.teardown
	s.mu.Unlock()

	if teardown == nil {
		return nil
	}

	select {
	case <-teardown:
		return s.teardownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream[T]) end() {
	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()

		return
	}

	s.state = StateClosed
	h := s.handle
	s.handle = nil

	var teardown chan struct{}
	if h != nil {
		teardown = make(chan struct{})
		s.teardown = teardown
	}
	s.mu.Unlock()

	s.log.Debug("Ending supervised stream")

	s.cancel()
	s.values.Stop()

	if h == nil {
		return
	}

	// The handle is released exactly once; EndAndWait callers share the result.
	go func() {
		defer close(teardown)

		s.teardownErr = h.EndAndWait(context.Background())
	}()
}

// shutdown closes the stream after a terminal failure.
func (s *Stream[T]) shutdown() {
	s.mu.Lock()
	s.state = StateClosed
	s.handle = nil
	s.mu.Unlock()

	s.cancel()
	s.values.Stop()
}

// connect runs one connection attempt for generation gen.
func (s *Stream[T]) connect(ctx context.Context, gen uint64) error {
	onData := func(v T) {
		if s.current(gen) {
			s.values.Push(nil, v)
		}
	}

	onFail := func(err error) {
		s.handleFailure(gen, err)
	}

	h, err := s.factory(ctx, onData, onFail)
	if err != nil {
		return err
	}

	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()
		h.End()

		return errors.ErrStreamClosed
	}

	s.handle = h
	s.mu.Unlock()

	if err := h.WaitForReady(ctx); err != nil {
		s.abandon(h)

		return err
	}

	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()

		return errors.ErrStreamClosed
	}

	if err := s.attemptErr; err != nil {
		s.mu.Unlock()
		s.abandon(h)

		return err
	}

	s.state = StateActive
	s.mu.Unlock()

	if c, ok := h.(Completer); ok {
		go s.watchCompletion(gen, c.Completed())
	}

	return nil
}

// watchCompletion closes the stream when generation gen completes.
func (s *Stream[T]) watchCompletion(gen uint64, completed <-chan struct{}) {
	select {
	case <-completed:
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()

	if gen != s.generation || s.state != StateActive {
		s.mu.Unlock()

		return
	}

	s.mu.Unlock()

	s.log.Debug("Subscription completed by host")
	s.shutdown()
}

// abandon releases the handle of a failed attempt.
func (s *Stream[T]) abandon(h Handle) {
	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}

	s.attemptErr = nil
	s.mu.Unlock()

	h.End()
}

// current reports whether gen is the live connection generation.
func (s *Stream[T]) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return gen == s.generation && s.state != StateClosed
}

// handleFailure processes a failure reported by generation gen.
//
// Only the first failure of the live generation while Active counts as a
// distinct failure. A failure during Connecting fails the attempt instead.
func (s *Stream[T]) handleFailure(gen uint64, err error) {
	s.mu.Lock()

	if gen != s.generation {
		s.mu.Unlock()

		return
	}

	switch s.state {
	case StateConnecting:
		if s.attemptErr == nil {
			s.attemptErr = err
		}

		s.mu.Unlock()

		return

	case StateActive:
		s.state = StateFailed
		s.handle = nil

	default:
		s.mu.Unlock()

		return
	}

	retry := s.cfg.RetryOnFail
	if retry {
		s.retrying.Add(1)
	}

	s.mu.Unlock()

	failErr := s.wrapFailure(err)

	s.log.Warn("Supervised stream failed", "error", err, "retry", retry)

	if s.cfg.OnError != nil {
		s.cfg.OnError(failErr)
	}

	if s.cfg.OnFail != nil {
		s.cfg.OnFail(failErr)
	}

	if !retry {
		s.shutdown()

		return
	}

	go s.reconnect()
}

func (s *Stream[T]) wrapFailure(err error) error {
	if _, ok := stderrors.AsType[*errors.StreamFailedError](err); ok {
		return err
	}

	return &errors.StreamFailedError{Stream: s.cfg.Name, Err: err}
}

// reconnect retries the factory until it succeeds, the stream is ended or
// the retry budget is spent.
func (s *Stream[T]) reconnect() {
	defer s.retrying.Done()

	attempts := 0

	for {
		delay := s.backoff.NextBackOff()
		if delay == backoff.Stop {
			s.log.Warn("Reconnect backoff exhausted")
			s.shutdown()

			return
		}

		timer := time.NewTimer(delay)

		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()

			return
		}

		s.mu.Lock()

		if s.state == StateClosed {
			s.mu.Unlock()

			return
		}

		attempts++
		if s.cfg.MaxRetries > 0 && attempts > s.cfg.MaxRetries {
			s.mu.Unlock()
			s.log.Warn("Giving up on reconnect", "attempts", attempts-1)
			s.shutdown()

			return
		}

		s.generation++
		gen := s.generation
		s.state = StateConnecting
		s.attemptErr = nil
		s.mu.Unlock()

		s.log.Debug("Reconnecting", "attempt", attempts, "delay", delay)

		err := s.connect(s.ctx, gen)
		if err == nil {
			s.backoff.Reset()
			s.cfg.Metrics.StreamReconnected()
			s.log.Info("Supervised stream reconnected", "attempts", attempts)

			return
		}

		if s.State() == StateClosed {
			return
		}

		if stderrors.Is(err, errors.ErrChannelClosed) {
			s.log.Warn("Channel closed, not reconnecting", "error", err)
			s.shutdown()

			return
		}

		s.log.Debug("Reconnect attempt failed", "attempt", attempts, "error", err)
	}
}
