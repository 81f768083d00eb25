package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wagiedev/workerbridge-go/internal/asyncstream"
	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/metrics"
)

// StreamChannel multiplexes named streams over one transport.
//
// Each open stream is registered under a fresh stream ID before the host is
// asked to start it, so no envelope can arrive for an unregistered ID. A
// stream ID maps to at most one live Stream and is never reused; envelopes
// for removed IDs are dropped.
type StreamChannel struct {
	log      *slog.Logger
	requests *RequestChannel
	metrics  *metrics.Metrics

	mu       sync.Mutex
	streams  map[string]*Stream
	closed   bool
	closeErr error
}

// NewStreamChannel creates a stream channel that opens and ends streams
// through requests.
func NewStreamChannel(log *slog.Logger, requests *RequestChannel, m *metrics.Metrics) *StreamChannel {
	return &StreamChannel{
		log:      log.With("component", "stream_channel"),
		requests: requests,
		metrics:  m,
		streams:  make(map[string]*Stream, 8),
	}
}

// Open registers a new stream and asks the host to start it.
//
// Open returns as soon as the stream.open action is sent; use WaitForReady
// to wait for the host to confirm the subscription. onFail, if non-nil, is
// invoked with a *StreamFailedError when the host reports the subscription
// dead. It is never invoked for an explicit End.
func (c *StreamChannel) Open(ctx context.Context, name string, args any, onFail func(error)) (*Stream, error) {
	rawArgs, err := EncodeData(args)
	if err != nil {
		return nil, &errors.TransportError{Action: ActionStreamOpen, Err: fmt.Errorf("marshal args: %w", err)}
	}

	s := &Stream{
		id:      uuid.NewString(),
		name:    name,
		channel: c,
		onFail:  onFail,
		values:  asyncstream.New[json.RawMessage](nil),
	}

	c.mu.Lock()

	if c.closed {
		closedErr := c.closedError()
		c.mu.Unlock()

		return nil, closedErr
	}

	c.streams[s.id] = s
	c.mu.Unlock()

	c.metrics.StreamOpened()
	c.log.Debug("Opening stream", "stream_id", s.id, "stream", name)

	ready, err := c.requests.Send(ctx, ActionStreamOpen, &OpenStreamRequest{
		StreamID: s.id,
		Stream:   name,
		Args:     rawArgs,
	})
	if err != nil {
		c.remove(s.id)
		s.values.Stop()

		return nil, fmt.Errorf("open stream %s: %w", name, err)
	}

	s.ready = ready

	go s.watchReady()

	return s, nil
}

// HandleEnvelope routes an inbound envelope to its stream.
func (c *StreamChannel) HandleEnvelope(env *StreamEnvelope) {
	c.metrics.EnvelopeReceived(env.Type)

	c.mu.Lock()

	s, ok := c.streams[env.StreamID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("Dropping envelope for unknown stream", "stream_id", env.StreamID, "type", env.Type)

		return
	}

	switch env.Type {
	case EnvelopeData:
		c.mu.Unlock()
		s.values.Push(nil, env.Result)

	case EnvelopeFail:
		delete(c.streams, env.StreamID)
		c.mu.Unlock()
		c.metrics.StreamRemoved()

		var cause error
		if env.Error != "" {
			cause = stderrors.New(env.Error)
		}

		c.log.Warn("Stream failed on host", "stream_id", s.id, "stream", s.name, "error", env.Error)
		s.fail(&errors.StreamFailedError{StreamID: s.id, Stream: s.name, Err: cause})

	case EnvelopeEnd:
		delete(c.streams, env.StreamID)
		c.mu.Unlock()
		c.metrics.StreamRemoved()

		c.log.Debug("Stream ended by host", "stream_id", s.id, "stream", s.name)
		s.hostEnded()

	default:
		c.mu.Unlock()
		c.log.Warn("Unknown envelope type", "stream_id", env.StreamID, "type", env.Type)
	}
}

// Get returns the live stream registered under id.
func (c *StreamChannel) Get(id string) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[id]

	return s, ok
}

// Close ends the stream registered under id. It reports whether the stream
// was live.
func (c *StreamChannel) Close(id string) bool {
	s, ok := c.Get(id)
	if !ok {
		return false
	}

	s.End()

	return true
}

// Streams returns the live streams.
func (c *StreamChannel) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()

	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}

	return streams
}

// CloseAll fails every live stream with cause and refuses further opens.
// Used when the underlying transport is gone.
func (c *StreamChannel) CloseAll(cause error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return
	}

	c.closed = true
	c.closeErr = cause
	closedErr := c.closedError()

	streams := c.streams
	c.streams = make(map[string]*Stream)
	c.mu.Unlock()

	for _, s := range streams {
		c.metrics.StreamRemoved()
		s.fail(&errors.StreamFailedError{StreamID: s.id, Stream: s.name, Err: closedErr})
	}
}

// closedError builds the error returned after CloseAll. Caller must hold c.mu.
func (c *StreamChannel) closedError() error {
	if c.closeErr != nil {
		return fmt.Errorf("%w: %w", errors.ErrChannelClosed, c.closeErr)
	}

	return errors.ErrChannelClosed
}

// remove deregisters id. It reports whether the stream was registered.
func (c *StreamChannel) remove(id string) bool {
	c.mu.Lock()

	_, ok := c.streams[id]
	if ok {
		delete(c.streams, id)
	}

	c.mu.Unlock()

	if ok {
		c.metrics.StreamRemoved()
	}

	return ok
}

// Stream is the consumer-side handle of one multiplexed stream.
type Stream struct {
	id      string
	name    string
	channel *StreamChannel
	onFail  func(error)
	values  *asyncstream.Stream[json.RawMessage]
	ready   *Future

	mu        sync.Mutex
	closed    bool  // ended locally
	hostDone  bool  // host subscription is gone (failed or ended)
	completed bool  // host ended the subscription cleanly
	failErr   error // set when the host failed an unended stream

	endOnce      sync.Once
	teardownDone chan struct{}
	teardownErr  error
}

// ID returns the stream ID.
func (s *Stream) ID() string {
	return s.id
}

// Name returns the stream name passed to Open.
func (s *Stream) Name() string {
	return s.name
}

// Next returns the next value. See asyncstream.Stream.Next.
func (s *Stream) Next(ctx context.Context) (asyncstream.Result[json.RawMessage], error) {
	return s.values.Next(ctx)
}

// All returns an iterator over the stream's values. Breaking out of the loop
// ends the stream.
func (s *Stream) All(ctx context.Context) iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		for v := range s.values.All(ctx) {
			if !yield(v) {
				s.End()

				return
			}
		}
	}
}

// WaitForReady blocks until the host confirms the subscription.
func (s *Stream) WaitForReady(ctx context.Context) error {
	if _, err := s.ready.Wait(ctx); err != nil {
		return fmt.Errorf("stream %s not ready: %w", s.name, err)
	}

	return nil
}

// HostCompleted reports whether the host ended the stream cleanly with a
// stream.end envelope.
func (s *Stream) HostCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.completed
}

// Err returns the *StreamFailedError that ended the stream, or nil if the
// stream is live, was ended locally or completed cleanly. It is set before
// the stream stops, so it is final once Next reports Done.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failErr
}

// IsClosed reports whether the stream was ended locally or by the host.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed || s.hostDone
}

// End stops the stream without waiting for the host.
//
// The local stream terminates immediately and any pending Next returns Done.
// Exactly one endStream action is sent once the host has confirmed the
// subscription. While stream.open is unanswered the teardown waits for it;
// with no request timeout that wait lasts until the host replies or the
// channel closes. End is safe to call multiple times.
func (s *Stream) End() {
	s.end()
}

// EndAndWait ends the stream and blocks until the host acknowledges the
// teardown or ctx ends.
func (s *Stream) EndAndWait(ctx context.Context) error {
	done := s.end()

	select {
	case <-done:
		return s.teardownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// end performs the local shutdown once and starts the host teardown.
func (s *Stream) end() <-chan struct{} {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.channel.remove(s.id)
		s.values.Stop()

		s.teardownDone = make(chan struct{})

		go func() {
			defer close(s.teardownDone)

			s.teardownErr = s.releaseHost()
		}()
	})

	return s.teardownDone
}

// releaseHost asks the host to drop its subscription, unless it already has.
func (s *Stream) releaseHost() error {
	// The host only knows the subscription once stream.open succeeded.
	if _, err := s.ready.Wait(context.Background()); err != nil {
		return nil
	}

	s.mu.Lock()
	hostDone := s.hostDone
	s.mu.Unlock()

	if hostDone {
		return nil
	}

	s.channel.log.Debug("Releasing stream on host", "stream_id", s.id, "stream", s.name)

	result, err := s.channel.requests.Call(context.Background(), ActionEndStream, &EndStreamRequest{StreamID: s.id})
	if err != nil {
		s.channel.log.Warn("Stream teardown failed", "stream_id", s.id, "stream", s.name, "error", err)

		return fmt.Errorf("end stream %s: %w", s.name, err)
	}

	var ack EndStreamResult
	if err := json.Unmarshal(result, &ack); err == nil && !ack.Released {
		s.channel.log.Debug("Host had already released stream", "stream_id", s.id)
	}

	return nil
}

// watchReady tears the stream down locally if the host refuses to open it.
func (s *Stream) watchReady() {
	<-s.ready.Done()

	if _, err := s.ready.Wait(context.Background()); err == nil {
		return
	}

	s.mu.Lock()
	s.hostDone = true
	s.mu.Unlock()

	s.channel.remove(s.id)
	s.values.Stop()
}

// fail handles a host-reported subscription death. onFail runs on its own
// goroutine so it may call back into the bridge.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.hostDone = true
	if !alreadyClosed {
		s.failErr = err
	}
	s.mu.Unlock()

	s.values.Stop()
	s.channel.metrics.StreamFailed()

	if alreadyClosed || s.onFail == nil {
		return
	}

	go s.onFail(err)
}

// hostEnded handles a clean host-side completion.
func (s *Stream) hostEnded() {
	s.mu.Lock()
	s.hostDone = true
	s.completed = true
	s.mu.Unlock()

	s.values.Stop()
}
